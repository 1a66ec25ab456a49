package module

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/penguintechinc/simsubstrate/pkg/connectivity"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
	"github.com/penguintechinc/simsubstrate/pkg/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	return l.WithField("test", true)
}

func TestNetModeAdvanceUnconditionalCtrl(t *testing.T) {
	m := NetNone.advance(false, false)
	require.Equal(t, NetCtrl, m)
}

func TestNetModeAdvanceToFull(t *testing.T) {
	m := NetNone
	m = m.advance(false, false) // ctrl
	m = m.advance(true, false)  // in
	m = m.advance(false, true)  // full
	require.Equal(t, NetFull, m)
}

func TestNetModeNeverRegresses(t *testing.T) {
	m := NetFull
	require.Equal(t, NetFull, m.advance(false, false))
}

func TestAddConnSetsNetModeAndEdgeSets(t *testing.T) {
	a := moduleid.New()
	b := moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	mod, err := New(a, 3, func(in map[moduleid.ID][]float64, out []float64) error { return nil }, testLogger())
	require.NoError(t, err)

	require.NoError(t, mod.AddConn(b, conn))
	require.Equal(t, NetOut, mod.NetMode())
	require.Equal(t, []moduleid.ID{b}, mod.OutIDs())
	require.Empty(t, mod.InIDs())
}

func TestProjectStagesNothingWhenNoOutboundConn(t *testing.T) {
	a := moduleid.New()
	b := moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	// only B->A populated; A has no outbound edge to B.
	require.NoError(t, conn.SetConnMatrix(b, a, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	mod, err := New(a, 3, func(in map[moduleid.ID][]float64, out []float64) error { return nil }, testLogger())
	require.NoError(t, err)
	require.NoError(t, mod.AddConn(b, conn))
	require.Equal(t, NetIn, mod.NetMode())

	out := []float64{7, 8, 9}
	staged := mod.project(out)
	require.Empty(t, staged, "no outbound peers means nothing staged")
}

func TestProjectSparseSelection(t *testing.T) {
	a := moduleid.New()
	b := moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 0, 0}, {0, 0, 1}}))

	mod, err := New(a, 3, func(in map[moduleid.ID][]float64, out []float64) error { return nil }, testLogger())
	require.NoError(t, err)
	require.NoError(t, mod.AddConn(b, conn))

	out := []float64{7, 8, 9}
	staged := mod.project(out)
	require.Len(t, staged, 1)
	require.Equal(t, b, staged[0].dst)
	vals, err := staged[0].payload.Float64()
	require.NoError(t, err)
	require.Equal(t, []float64{7, 9}, vals)
}

func TestIngestDropsSentinelAndClearsBuffer(t *testing.T) {
	a := moduleid.New()
	mod, err := New(a, 3, func(in map[moduleid.ID][]float64, out []float64) error { return nil }, testLogger())
	require.NoError(t, err)

	peer := moduleid.New()
	silent := moduleid.New()
	mod.incoming = []wire.DataEnvelope{
		{Peer: peer, Payload: wire.FromFloat64([]float64{1, 2, 3})},
		{Peer: silent, Payload: wire.AbsenceSentinel()},
	}

	in := mod.ingest()
	require.Contains(t, in, peer)
	require.NotContains(t, in, silent)
	require.Empty(t, mod.incoming)

	// second ingest sees nothing, buffer was cleared
	require.Empty(t, mod.ingest())
}
