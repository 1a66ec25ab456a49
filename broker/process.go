package broker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/penguintechinc/simsubstrate/ctrlproc"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

// BrokerID is the well-known control-channel identity the broker dials
// in with, distinct from any module ID (spec.md §4.6: the broker is a
// worker for control purposes too).
const BrokerID moduleid.ID = "broker"

// Process wires a Broker into the same ControlledProcess lifecycle every
// worker uses: dial the manager's control endpoint, serve data, and on
// quit stop accepting new connections and acknowledge.
type Process struct {
	broker *Broker
	ctrl   *ctrlproc.ControlledProcess
}

// NewProcess dials ctrlAddr and binds b to serve module data connections
// on dataAddr once Run is called.
func NewProcess(b *Broker, ctrlAddr string, logger *logrus.Entry) (*Process, error) {
	cp, err := ctrlproc.New(BrokerID, ctrlAddr, logger)
	if err != nil {
		return nil, err
	}
	p := &Process{broker: b, ctrl: cp}
	cp.SetFlush(func() error {
		b.Close()
		return nil
	})
	return p, nil
}

// Run serves the data endpoint and the control loop concurrently until
// quit is received or ctx is cancelled.
func (p *Process) Run(ctx context.Context, dataAddr string) error {
	return p.ctrl.Run(ctx, func(bodyCtx context.Context) error {
		return p.broker.ServeData(bodyCtx, dataAddr)
	})
}
