// Package manager implements the Manager boundary contract (spec.md
// §4.6): a black box that assigns IDs, builds Connectivity objects,
// constructs a consistent RoutingTable, starts the broker then all
// modules, and on stop quits every module before the broker.
//
// Grounded on original_source/neurokernel/base.py's BaseManager (the
// connect/start/stop sequencing and bidirectional brok_dict/mod_dict
// registries) and on penguintechinc-marchproxy/proxy-dblb's
// errgroup-based Start/Stop orchestration.
package manager

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/penguintechinc/simsubstrate/broker"
	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/pkg/bimap"
	"github.com/penguintechinc/simsubstrate/pkg/connectivity"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/routing"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

// Manager owns the topology: the routing table, every registered
// Connectivity, and the registries of modules and the single broker.
// Per spec.md §4.6 / SPEC_FULL.md §4 (single-broker constraint), exactly
// one broker is supported per manager instance.
type Manager struct {
	logger  *logrus.Entry
	metrics *metrics.Metrics

	ctrlAddr string
	dataAddr string

	mu             sync.Mutex
	table          *routing.Table
	connectivities *bimap.Map[moduleid.ID, *connectivity.Connectivity]
	modules        map[moduleid.ID]struct{}

	ctrlListener net.Listener
	ctrlConns    map[moduleid.ID]net.Conn

	broker     *broker.Broker
	brokerProc *broker.Process
}

// New constructs a Manager binding control on ctrlAddr (default
// 127.0.0.1:5001) and data on dataAddr (default 127.0.0.1:5000). The two
// addresses must differ; construction fails with a PortConflict-style
// error otherwise (spec.md §6).
func New(ctrlAddr, dataAddr string, logger *logrus.Entry) (*Manager, error) {
	if ctrlAddr == dataAddr {
		return nil, fmt.Errorf("manager: control and data endpoints must differ (PortConflict): both %s", ctrlAddr)
	}
	return &Manager{
		logger:         logger.WithField("component", "manager"),
		ctrlAddr:       ctrlAddr,
		dataAddr:       dataAddr,
		table:          routing.New(),
		connectivities: bimap.New[moduleid.ID, *connectivity.Connectivity](),
		modules:        make(map[moduleid.ID]struct{}),
		ctrlConns:       make(map[moduleid.ID]net.Conn),
	}, nil
}

// SetMetrics attaches a Metrics collector, propagated to the broker on the
// next StartBroker call. Optional; nil is a no-op.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mx
}

// AddModule registers id as a participating module before Start.
func (m *Manager) AddModule(id moduleid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[id] = struct{}{}
}

// Connect builds the routing consistency invariant from spec.md §4.6:
// after Connect returns, the routing table contains (a,b) iff conn
// reports IsConnected(a,b), and symmetrically for (b,a). Mirroring
// BaseManager.connect, it registers a, b and conn only if they aren't
// already known rather than unconditionally overwriting.
func (m *Manager) Connect(a, b moduleid.ID, conn *connectivity.Connectivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.modules[a]; !ok {
		m.modules[a] = struct{}{}
	}
	if _, ok := m.modules[b]; !ok {
		m.modules[b] = struct{}{}
	}
	if !m.connectivities.Has(conn.ID()) {
		m.connectivities.Set(conn.ID(), conn)
	}

	abConnected, err := conn.IsConnected(a, b)
	if err != nil {
		return err
	}
	baConnected, err := conn.IsConnected(b, a)
	if err != nil {
		return err
	}
	if abConnected {
		m.table.Add(a, b)
	}
	if baConnected {
		m.table.Add(b, a)
	}
	return nil
}

// RoutingTable returns the manager's routing table, for wiring into a
// Broker.
func (m *Manager) RoutingTable() *routing.Table {
	return m.table
}

// NumModules reports how many module IDs are registered, mirroring
// BaseManager.N_mod.
func (m *Manager) NumModules() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.modules)
}

// NumConnectivities reports how many distinct Connectivity objects are
// registered, mirroring BaseManager.N_conn.
func (m *Manager) NumConnectivities() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivities.Len()
}

// NumBrokers reports whether the single allowed broker has been started
// (0 or 1), mirroring BaseManager.N_brok.
func (m *Manager) NumBrokers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broker == nil {
		return 0
	}
	return 1
}

// OutPeers returns the destinations id declares outbound edges to in the
// routing table, for diagnostics and tooling built on the manager.
func (m *Manager) OutPeers(id moduleid.ID) []moduleid.ID {
	return m.table.OutEdges(id)
}

// InPeers returns the sources that declare outbound edges to id in the
// routing table, for diagnostics and tooling built on the manager.
func (m *Manager) InPeers(id moduleid.ID) []moduleid.ID {
	return m.table.InEdges(id)
}

// StartBroker constructs and starts the single broker this manager owns,
// ahead of any module (spec.md §4.6: "starts the broker first").
func (m *Manager) StartBroker(ctx context.Context) error {
	m.mu.Lock()
	if m.broker != nil {
		m.mu.Unlock()
		return fmt.Errorf("manager: broker already started")
	}
	b := broker.New(m.table, m.logger)
	if m.metrics != nil {
		b.SetMetrics(m.metrics)
	}
	m.broker = b
	m.mu.Unlock()

	if err := m.ensureCtrlListener(); err != nil {
		return err
	}

	proc, err := broker.NewProcess(b, m.ctrlAddr, m.logger)
	if err != nil {
		return fmt.Errorf("manager: start broker: %w", err)
	}
	m.brokerProc = proc

	go func() {
		if err := proc.Run(ctx, m.dataAddr); err != nil {
			m.logger.WithError(err).Error("broker process exited with error")
		}
	}()
	return nil
}

func (m *Manager) ensureCtrlListener() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrlListener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", m.ctrlAddr)
	if err != nil {
		return fmt.Errorf("manager: bind control endpoint %s: %w", m.ctrlAddr, err)
	}
	m.ctrlListener = ln
	go m.acceptCtrl()
	return nil
}

func (m *Manager) acceptCtrl() {
	for {
		conn, err := m.ctrlListener.Accept()
		if err != nil {
			return
		}
		go m.trackCtrlConn(conn)
	}
}

// trackCtrlConn records an inbound control dial by the first frame's
// identity, so Stop can address quit frames to the right connection.
func (m *Manager) trackCtrlConn(conn net.Conn) {
	codec, err := wire.NewCodec(conn, 0)
	if err != nil {
		conn.Close()
		return
	}
	frame, err := codec.ReadControl()
	if err != nil {
		conn.Close()
		return
	}
	m.mu.Lock()
	m.ctrlConns[frame.Identity] = conn
	m.mu.Unlock()
}

// Stop implements spec.md §4.6's shutdown order: quit every module,
// await ack, then quit the broker.
func (m *Manager) Stop(ctx context.Context, ackTimeout time.Duration) error {
	m.mu.Lock()
	modules := make([]moduleid.ID, 0, len(m.modules))
	for id := range m.modules {
		modules = append(modules, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range modules {
		id := id
		g.Go(func() error {
			return m.quitAndAwaitAck(gctx, id, ackTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.WithError(err).Warn("one or more modules failed to ack quit cleanly")
	}

	if err := m.quitAndAwaitAck(ctx, broker.BrokerID, ackTimeout); err != nil {
		return fmt.Errorf("manager: broker failed to ack quit: %w", err)
	}
	if m.ctrlListener != nil {
		m.ctrlListener.Close()
	}
	return nil
}

func (m *Manager) quitAndAwaitAck(ctx context.Context, id moduleid.ID, timeout time.Duration) error {
	m.mu.Lock()
	conn, ok := m.ctrlConns[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: no control connection tracked for %s", id)
	}

	codec, err := wire.NewCodec(conn, 0)
	if err != nil {
		return err
	}
	if err := codec.WriteControl(wire.ControlFrame{Identity: moduleid.ID("manager"), Verb: wire.VerbQuit}); err != nil {
		return fmt.Errorf("manager: send quit to %s: %w", id, err)
	}

	ackCh := make(chan error, 1)
	go func() {
		frame, err := codec.ReadControl()
		if err != nil {
			ackCh <- err
			return
		}
		if frame.Verb != wire.VerbAck {
			ackCh <- fmt.Errorf("manager: expected ack from %s, got %s", id, frame.Verb)
			return
		}
		ackCh <- nil
	}()

	select {
	case err := <-ackCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("manager: timed out waiting for ack from %s", id)
	case <-ctx.Done():
		return ctx.Err()
	}
}
