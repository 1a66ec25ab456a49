package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/routing"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	return l.WithField("test", true)
}

func dialModule(t *testing.T, addr string, id moduleid.ID) *wire.Codec {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	codec, err := wire.NewCodec(conn, 0)
	require.NoError(t, err)
	return codec
}

// TestBarrierFanOutAfterAllEdgesReport reproduces spec.md §8 scenario 1:
// two modules, mutual edges, one frame each, both should receive their
// peer's payload once both have reported.
func TestBarrierFanOutAfterAllEdgesReport(t *testing.T) {
	m1, m2 := moduleid.ID("m1"), moduleid.ID("m2")
	table := routing.New()
	table.Add(m1, m2)
	table.Add(m2, m1)

	b := New(table, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close() // free the port, reuse its address
	addr := ln.Addr().String()

	go func() { _ = b.ServeData(ctx, addr) }()
	time.Sleep(20 * time.Millisecond)

	c1 := dialModule(t, addr, m1)
	c2 := dialModule(t, addr, m2)

	require.NoError(t, c1.WriteData(wire.DataFrame{
		Identity: m1,
		Envelope: wire.DataEnvelope{Peer: m2, Payload: wire.FromFloat64([]float64{1, 2, 3})},
	}))
	require.NoError(t, c2.WriteData(wire.DataFrame{
		Identity: m2,
		Envelope: wire.DataEnvelope{Peer: m1, Payload: wire.FromFloat64([]float64{4, 5, 6})},
	}))

	got1, err := c1.ReadData()
	require.NoError(t, err)
	require.Equal(t, m2, got1.Envelope.Peer)
	vals1, err := got1.Envelope.Payload.Float64()
	require.NoError(t, err)
	require.Equal(t, []float64{4, 5, 6}, vals1)

	got2, err := c2.ReadData()
	require.NoError(t, err)
	require.Equal(t, m1, got2.Envelope.Peer)
	vals2, err := got2.Envelope.Payload.Float64()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, vals2)
}

func TestUnknownEdgeDroppedSilently(t *testing.T) {
	m1, m2 := moduleid.ID("m1"), moduleid.ID("m2")
	table := routing.New()
	table.Add(m1, m2)

	b := New(table, testLogger())
	b.registerConn(m1, nil)

	frame := wire.DataFrame{
		Identity: moduleid.ID("stranger"),
		Envelope: wire.DataEnvelope{Peer: m2, Payload: wire.AbsenceSentinel()},
	}
	// Should not panic or dispatch; edge (stranger, m2) is not expected.
	b.handleFrame(context.Background(), frame)

	b.mu.Lock()
	_, stillExpected := b.expected[routing.Edge{Src: m1, Dst: m2}]
	b.mu.Unlock()
	require.True(t, stillExpected)
}
