// Package module implements the Module runtime (spec.md §4.4): the
// per-tick ingest/compute/project/sync loop, the net-mode state machine,
// and the data-channel dial to the broker. It is built on ctrlproc for
// control-channel lifecycle and on pkg/connectivity for projection.
package module

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/pkg/connectivity"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

// RunStep is the compute contract a module implementation supplies. in is
// a snapshot of this tick's inbound payloads keyed by source module;
// absent keys mean that peer sent the absence sentinel. out is the
// module's fixed-size output vector, mutable in place; the runtime treats
// it as opaque once RunStep returns.
type RunStep func(in map[moduleid.ID][]float64, out []float64) error

type stagedOut struct {
	dst     moduleid.ID
	payload wire.Sample
}

// Module is one compute worker: a fixed port count, a net mode, a set of
// peer Connectivity objects, and the per-tick buffers spec.md §3
// describes.
type Module struct {
	ID    moduleid.ID
	Ports int

	logger  *logrus.Entry
	metrics *metrics.Metrics

	mu       sync.Mutex
	netMode  NetMode
	peers    map[moduleid.ID]*connectivity.Connectivity
	inIDs    []moduleid.ID
	outIDs   []moduleid.ID
	incoming []wire.DataEnvelope // refilled by sync, consumed by next tick's ingest
	runStep  RunStep

	dataConn  net.Conn
	dataCodec *wire.Codec
}

// New constructs a Module with ports output slots, bound to no peers yet
// (net mode none, per spec.md §3).
func New(id moduleid.ID, ports int, step RunStep, logger *logrus.Entry) (*Module, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("module: %w", err)
	}
	if ports <= 0 {
		return nil, fmt.Errorf("module: ports must be positive, got %d", ports)
	}
	return &Module{
		ID:      id,
		Ports:   ports,
		logger:  logger.WithField("module_id", string(id)),
		netMode: NetNone,
		peers:   make(map[moduleid.ID]*connectivity.Connectivity),
		runStep: step,
	}, nil
}

// DialData connects this module's data channel to the broker at addr.
// Nothing is sent at dial time; every frame sync writes carries m.ID as
// its identity, per spec.md §6.
func (m *Module) DialData(addr string, compressionThreshold int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("module: dial data endpoint %s: %w", addr, err)
	}
	codec, err := wire.NewCodec(conn, compressionThreshold)
	if err != nil {
		conn.Close()
		return err
	}
	m.dataConn = conn
	m.dataCodec = codec
	return nil
}

// CloseData tears down the data channel.
func (m *Module) CloseData() error {
	if m.dataCodec != nil {
		m.dataCodec.Close()
	}
	if m.dataConn != nil {
		return m.dataConn.Close()
	}
	return nil
}

// SetMetrics attaches a Metrics collector. Optional; nil is a no-op.
func (m *Module) SetMetrics(mx *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mx
}

// NetMode returns the module's current net mode.
func (m *Module) NetMode() NetMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.netMode
}

// AddConn attaches conn as the Connectivity between m and peer, and
// advances m's net mode per the add_conn transition table in spec.md
// §4.4. conn must name m.ID as one of its two parties.
func (m *Module) AddConn(peer moduleid.ID, conn *connectivity.Connectivity) error {
	if conn.AID() != m.ID && conn.BID() != m.ID {
		return fmt.Errorf("module: connectivity %s does not name module %s", conn.ID(), m.ID)
	}

	hasIn, err := conn.IsConnected(peer, m.ID)
	if err != nil {
		return err
	}
	hasOut, err := conn.IsConnected(m.ID, peer)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[peer] = conn
	m.netMode = m.netMode.advance(hasIn, hasOut)
	m.recomputeEdgeSetsLocked()
	if m.metrics != nil {
		m.metrics.NetMode.WithLabelValues(string(m.ID)).Set(float64(m.netMode.rank()))
	}
	return nil
}

func (m *Module) recomputeEdgeSetsLocked() {
	var in, out []moduleid.ID
	for peer, conn := range m.peers {
		if ok, _ := conn.IsConnected(peer, m.ID); ok {
			in = append(in, peer)
		}
		if ok, _ := conn.IsConnected(m.ID, peer); ok {
			out = append(out, peer)
		}
	}
	sort.Slice(in, func(i, j int) bool { return in[i] < in[j] })
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	m.inIDs = in
	m.outIDs = out
}

// InIDs returns a snapshot of this module's current inbound peer set.
func (m *Module) InIDs() []moduleid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]moduleid.ID(nil), m.inIDs...)
}

// OutIDs returns a snapshot of this module's current outbound peer set.
func (m *Module) OutIDs() []moduleid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]moduleid.ID(nil), m.outIDs...)
}

// Tick runs one ingest -> compute -> project -> sync cycle, per spec.md
// §4.4.
func (m *Module) Tick(ctx context.Context) error {
	inDict := m.ingest()

	out := make([]float64, m.Ports)
	if err := m.runStep(inDict, out); err != nil {
		return fmt.Errorf("module: run_step: %w", err)
	}

	staged := m.project(out)

	if err := m.sync(ctx, staged); err != nil {
		return err
	}

	m.mu.Lock()
	mx := m.metrics
	m.mu.Unlock()
	if mx != nil {
		mx.TicksTotal.WithLabelValues(string(m.ID)).Inc()
	}
	return nil
}

// ingest moves the incoming buffer into an in_dict, dropping sentinels,
// and clears the buffer (spec.md §4.4 step 1).
func (m *Module) ingest() map[moduleid.ID][]float64 {
	m.mu.Lock()
	buf := m.incoming
	m.incoming = nil
	m.mu.Unlock()

	inDict := make(map[moduleid.ID][]float64, len(buf))
	for _, env := range buf {
		if env.Payload.Sentinel {
			continue
		}
		vals, err := env.Payload.Float64()
		if err != nil {
			m.logger.WithError(err).Warn("dropping malformed incoming payload")
			continue
		}
		inDict[env.Peer] = vals
	}
	return inDict
}

// project computes, for every declared outbound peer, the projected
// subvector of out per that peer's Connectivity (spec.md §4.4 step 3).
// Only peers in outIDs are staged; one whose projection selects no source
// port stages the absence sentinel.
func (m *Module) project(out []float64) []stagedOut {
	m.mu.Lock()
	outIDs := append([]moduleid.ID(nil), m.outIDs...)
	peers := make(map[moduleid.ID]*connectivity.Connectivity, len(outIDs))
	for _, dst := range outIDs {
		peers[dst] = m.peers[dst]
	}
	m.mu.Unlock()

	staged := make([]stagedOut, 0, len(outIDs))
	for _, dst := range outIDs {
		conn := peers[dst]
		idx, err := conn.SrcIdx(m.ID, dst, nil)
		if err != nil {
			m.logger.WithError(err).Warn("projection failed, sending sentinel")
			staged = append(staged, stagedOut{dst: dst, payload: wire.AbsenceSentinel()})
			continue
		}
		if len(idx) == 0 {
			staged = append(staged, stagedOut{dst: dst, payload: wire.AbsenceSentinel()})
			continue
		}
		sub := make([]float64, len(idx))
		for i, p := range idx {
			if p >= 0 && p < len(out) {
				sub[i] = out[p]
			}
		}
		staged = append(staged, stagedOut{dst: dst, payload: wire.FromFloat64(sub)})
	}
	return staged
}

// sync implements spec.md §4.4's per-tick sync protocol: send staged
// outbound frames if net mode permits, then block-receive inbound frames
// until every declared inbound peer has delivered exactly one frame.
func (m *Module) sync(ctx context.Context, staged []stagedOut) error {
	mode := m.NetMode()

	if mode == NetOut || mode == NetFull {
		for _, s := range staged {
			frame := wire.DataFrame{
				Identity: m.ID,
				Envelope: wire.DataEnvelope{Peer: s.dst, Payload: s.payload},
			}
			if err := m.dataCodec.WriteData(frame); err != nil {
				return fmt.Errorf("module: send to %s: %w", s.dst, err)
			}
		}
	}

	if mode == NetIn || mode == NetFull {
		inIDs := m.InIDs()
		pending := make(map[moduleid.ID]struct{}, len(inIDs))
		for _, id := range inIDs {
			pending[id] = struct{}{}
		}
		var received []wire.DataEnvelope
		for len(pending) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			frame, err := m.dataCodec.ReadData()
			if err != nil {
				return fmt.Errorf("module: receive: %w", err)
			}
			src := frame.Envelope.Peer
			if _, want := pending[src]; !want {
				m.logger.WithField("src", src).Warn("dropping frame from undeclared or duplicate peer")
				continue
			}
			delete(pending, src)
			if frame.Envelope.Payload.Sentinel {
				continue
			}
			received = append(received, frame.Envelope)
		}
		m.mu.Lock()
		m.incoming = received
		m.mu.Unlock()
	}

	return nil
}
