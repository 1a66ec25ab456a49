// Package broker implements the Broker (spec.md §4.5): a reactor enforcing
// an all-to-all per-tick barrier over a declared RoutingTable, with no
// compute loop of its own. Each data connection is read in its own
// goroutine; the barrier state is serialized under one mutex.
//
// Grounded on original_source/neurokernel/base.py's Broker._data_handler /
// _ctrl_handler (the expected-set/data_to_route barrier) and the
// tick-barrier tracing style of penguintechinc-marchproxy/proxy-dblb (one
// span per critical-path step), adapted from HTTP request spans to
// tick-barrier spans.
package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/routing"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

var tracer = otel.Tracer("github.com/penguintechinc/simsubstrate/broker")

type pending struct {
	src, dst moduleid.ID
	payload  wire.Sample
}

// Broker is the star-topology dispatcher. It owns no compute loop: it
// reacts to inbound data frames from connected modules and fans out a
// tick's worth of traffic once every routing-table edge has reported.
type Broker struct {
	logger  *logrus.Entry
	metrics *metrics.Metrics

	mu           sync.Mutex
	table        *routing.Table
	expected     map[routing.Edge]struct{}
	queued       []pending
	firstFrameAt time.Time

	conns map[moduleid.ID]*wire.Codec // dialed-in module data connections, by identity
}

// SetMetrics attaches a Metrics collector. Optional; nil is a no-op.
func (b *Broker) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// New constructs a Broker over table. table is the manager's routing
// table, consulted fresh at the start of each barrier cycle (spec.md
// §4.5 "initialized from routing_table.coords").
func New(table *routing.Table, logger *logrus.Entry) *Broker {
	b := &Broker{
		logger: logger.WithField("component", "broker"),
		table:  table,
		conns:  make(map[moduleid.ID]*wire.Codec),
	}
	b.resetExpectedLocked()
	return b
}

func (b *Broker) resetExpectedLocked() {
	coords := b.table.Coords()
	b.expected = make(map[routing.Edge]struct{}, len(coords))
	for _, e := range coords {
		b.expected[e] = struct{}{}
	}
	b.queued = nil
}

// ServeData accepts module data connections on addr and runs the reactor
// until ctx is cancelled. Each accepted connection is read in its own
// goroutine; the barrier state itself is guarded by b.mu so dispatch
// remains effectively single-threaded, matching spec.md §4.5's single
// reactor over the data channel generalized to one goroutine per socket.
func (b *Broker) ServeData(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("broker: listen data endpoint %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("broker: accept: %w", err)
		}
		go b.handleConn(ctx, conn)
	}
}

func (b *Broker) handleConn(ctx context.Context, conn net.Conn) {
	codec, err := wire.NewCodec(conn, 0)
	if err != nil {
		b.logger.WithError(err).Error("failed to init codec for accepted connection")
		conn.Close()
		return
	}
	defer conn.Close()

	var identity moduleid.ID
	for {
		frame, err := codec.ReadData()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.WithError(err).Debug("module data connection closed")
			}
			return
		}
		if identity == "" {
			identity = frame.Identity
			b.registerConn(identity, codec)
		}
		b.handleFrame(ctx, frame)
	}
}

func (b *Broker) registerConn(id moduleid.ID, codec *wire.Codec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[id] = codec
}

// handleFrame implements spec.md §4.5's per-frame handling: a frame from
// src is the pair (dst, payload) carried in frame.Envelope.
func (b *Broker) handleFrame(ctx context.Context, frame wire.DataFrame) {
	src := frame.Identity
	dst := frame.Envelope.Peer
	edge := routing.Edge{Src: src, Dst: dst}

	b.mu.Lock()
	if _, ok := b.expected[edge]; !ok {
		b.mu.Unlock()
		b.logger.WithFields(logrus.Fields{"src": src, "dst": dst}).
			Debug("dropping frame for unknown or already-satisfied edge")
		if b.metrics != nil {
			b.metrics.FramesDropped.WithLabelValues("unknown_edge").Inc()
		}
		return
	}
	if len(b.queued) == 0 {
		b.firstFrameAt = time.Now()
	}
	delete(b.expected, edge)
	b.queued = append(b.queued, pending{src: src, dst: dst, payload: frame.Envelope.Payload})
	dispatch := len(b.expected) == 0
	var toDispatch []pending
	var barrierStart time.Time
	if dispatch {
		toDispatch = b.queued
		barrierStart = b.firstFrameAt
		b.resetExpectedLocked()
	}
	b.mu.Unlock()

	if dispatch {
		b.dispatch(ctx, toDispatch, barrierStart)
	}
}

// dispatch fans out one tick's worth of accumulated traffic, per spec.md
// §4.5 step "when expected becomes empty".
func (b *Broker) dispatch(ctx context.Context, batch []pending, barrierStart time.Time) {
	_, span := tracer.Start(ctx, "broker.tick_barrier", trace.WithAttributes(
		attribute.Int("frame_count", len(batch)),
	))
	defer span.End()

	b.mu.Lock()
	conns := make(map[moduleid.ID]*wire.Codec, len(b.conns))
	for id, c := range b.conns {
		conns[id] = c
	}
	m := b.metrics
	b.mu.Unlock()

	delivered := 0
	for _, p := range batch {
		codec, ok := conns[p.dst]
		if !ok {
			b.logger.WithField("dst", p.dst).Warn("no connection for destination, dropping frame")
			if m != nil {
				m.FramesDropped.WithLabelValues("no_connection").Inc()
			}
			continue
		}
		out := wire.DataFrame{
			Identity: p.dst,
			Envelope: wire.DataEnvelope{Peer: p.src, Payload: p.payload},
		}
		if err := codec.WriteData(out); err != nil {
			b.logger.WithError(err).WithField("dst", p.dst).Warn("failed to deliver frame")
			continue
		}
		delivered++
	}

	if m != nil {
		m.FramesDispatched.Add(float64(delivered))
		if !barrierStart.IsZero() {
			m.BarrierDuration.WithLabelValues().Observe(time.Since(barrierStart).Seconds())
		}
	}
}

// Close tears down all registered module connections.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}
