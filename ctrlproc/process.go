// Package ctrlproc implements ControlledProcess, the worker lifecycle base
// shared by the Module runtime and the Broker (spec.md §4.3). It dials the
// manager's control endpoint, runs a caller-supplied body function
// alongside a control-frame read loop, and on "quit" flushes, acknowledges
// and tears down.
//
// Grounded on original_source/neurokernel/base.py's ControlledProcess /
// _ctrl_handler quit sequence, with goroutine orchestration in the style
// of penguintechinc-marchproxy/proxy-dblb/internal/grpc/server.go's
// Start/Stop (listener + graceful-stop-with-timeout).
package ctrlproc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

// ErrControlChannelLost is the spec.md §7 ControlChannelLost error kind:
// the control transport failed outside of a clean quit sequence.
var ErrControlChannelLost = errors.New("ctrlproc: control channel lost")

// WorkerFault wraps an uncaught error from a process's body, the spec.md
// §7 WorkerFault error kind.
type WorkerFault struct {
	ID  moduleid.ID
	Err error
}

func (w *WorkerFault) Error() string {
	return fmt.Sprintf("ctrlproc: worker %s faulted: %v", w.ID, w.Err)
}

func (w *WorkerFault) Unwrap() error { return w.Err }

// LingerTimeout bounds how long Run waits for outbound frames to flush
// before tearing the control connection down, per spec.md §5's "linger
// discipline".
const LingerTimeout = 200 * time.Millisecond

// Body is the long-running work a ControlledProcess executes; it must
// return promptly once ctx is cancelled.
type Body func(ctx context.Context) error

// FlushFunc lets the embedding component (Module, Broker) drain any
// outbound queue before the control channel acknowledges quit.
type FlushFunc func() error

// ControlledProcess binds one control connection identified by ID, runs a
// Body concurrently with a control-frame read loop, and terminates
// cleanly on "quit".
type ControlledProcess struct {
	ID       moduleid.ID
	ctrlAddr string
	logger   *logrus.Entry
	conn     net.Conn
	codec    *wire.Codec
	onVerb   map[wire.ControlVerb]func([][]byte) error
	flush    FlushFunc
}

// New dials ctrlAddr (the manager's control endpoint) using id as this
// process's identity.
func New(id moduleid.ID, ctrlAddr string, logger *logrus.Entry) (*ControlledProcess, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("ctrlproc: %w", err)
	}
	conn, err := net.Dial("tcp", ctrlAddr)
	if err != nil {
		return nil, fmt.Errorf("ctrlproc: dial control endpoint %s: %w", ctrlAddr, err)
	}
	codec, err := wire.NewCodec(conn, 0)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := codec.WriteControl(wire.ControlFrame{Identity: id, Verb: wire.VerbHello}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ctrlproc: announce identity: %w", err)
	}
	return &ControlledProcess{
		ID:       id,
		ctrlAddr: ctrlAddr,
		logger:   logger.WithField("module_id", string(id)),
		conn:     conn,
		codec:    codec,
		onVerb:   make(map[wire.ControlVerb]func([][]byte) error),
	}, nil
}

// OnVerb registers a handler for a non-quit control verb. Verbs with no
// registered handler are still acknowledged with "ack" and otherwise
// ignored, per spec.md §4.3.
func (p *ControlledProcess) OnVerb(verb wire.ControlVerb, fn func(args [][]byte) error) {
	p.onVerb[verb] = fn
}

// SetFlush installs the hook Run calls to drain outbound queues on quit.
func (p *ControlledProcess) SetFlush(fn FlushFunc) {
	p.flush = fn
}

// Run starts body and the control-frame read loop concurrently. It
// returns when either body returns, the control channel is lost, or a
// "quit" frame is processed. A body error or panic is reported as a
// *WorkerFault; other workers are unaffected (spec.md §4.3).
func (p *ControlledProcess) Run(ctx context.Context, body Body) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = &WorkerFault{ID: p.ID, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if err := body(gctx); err != nil {
			return &WorkerFault{ID: p.ID, Err: err}
		}
		return nil
	})

	g.Go(func() error {
		return p.ctrlLoop(gctx, cancel)
	})

	// ReadControl blocks on the underlying conn regardless of context
	// cancellation, so force it to unblock once the group is tearing
	// down for any reason (body fault, caller cancellation).
	go func() {
		<-gctx.Done()
		p.conn.Close()
	}()

	err = g.Wait()
	p.conn.Close()
	return err
}

// ctrlLoop reads control frames until quit or a transport error.
func (p *ControlledProcess) ctrlLoop(ctx context.Context, cancelBody context.CancelFunc) error {
	for {
		frame, err := p.codec.ReadControl()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrControlChannelLost, err)
		}

		p.logger.WithFields(logrus.Fields{"verb": frame.Verb}).Info("recv ctrl message")

		if frame.Verb == wire.VerbQuit {
			if p.flush != nil {
				flushed := make(chan error, 1)
				go func() { flushed <- p.flush() }()
				select {
				case err := <-flushed:
					if err != nil {
						p.logger.WithError(err).Warn("flush before quit failed")
					}
				case <-time.After(LingerTimeout):
					p.logger.Warn("flush before quit exceeded linger timeout")
				}
			}
			if err := p.codec.WriteControl(wire.ControlFrame{Identity: p.ID, Verb: wire.VerbAck}); err != nil {
				p.logger.WithError(err).Warn("failed to send ack")
			} else {
				p.logger.Info("sent ack")
			}
			cancelBody()
			return nil
		}

		if handler, ok := p.onVerb[frame.Verb]; ok {
			if err := handler(frame.Args); err != nil {
				p.logger.WithError(err).Warn("control verb handler failed")
			}
		}
		if err := p.codec.WriteControl(wire.ControlFrame{Identity: p.ID, Verb: wire.VerbAck}); err != nil {
			p.logger.WithError(err).Warn("failed to send ack")
		}
	}
}
