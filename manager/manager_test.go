package manager

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/penguintechinc/simsubstrate/pkg/connectivity"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

func testLogger() *logrus.Entry {
	return logrus.New().WithField("test", true)
}

func TestNewRejectsSharedPort(t *testing.T) {
	_, err := New("127.0.0.1:5000", "127.0.0.1:5000", testLogger())
	require.Error(t, err)
}

func TestConnectPopulatesRoutingTableOnlyConnectedDirection(t *testing.T) {
	mgr, err := New("127.0.0.1:5001", "127.0.0.1:5000", testLogger())
	require.NoError(t, err)

	a, b := moduleid.New(), moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	require.NoError(t, mgr.Connect(a, b, conn))

	require.True(t, mgr.table.Contains(a, b))
	require.False(t, mgr.table.Contains(b, a))
}

func TestConnectBothDirectionsWhenBidirectional(t *testing.T) {
	mgr, err := New("127.0.0.1:5011", "127.0.0.1:5010", testLogger())
	require.NoError(t, err)

	a, b := moduleid.New(), moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))
	require.NoError(t, conn.SetConnMatrix(b, a, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	require.NoError(t, mgr.Connect(a, b, conn))

	require.True(t, mgr.table.Contains(a, b))
	require.True(t, mgr.table.Contains(b, a))
}

// TestConnectAutoRegistersUnseenModulesAndConnectivity mirrors
// BaseManager.connect's "if id not in mod_dict/conn_dict" guards: callers
// need not call AddModule first, and registering the same connectivity
// object twice does not grow the registry.
func TestConnectAutoRegistersUnseenModulesAndConnectivity(t *testing.T) {
	mgr, err := New("127.0.0.1:5021", "127.0.0.1:5020", testLogger())
	require.NoError(t, err)

	a, b := moduleid.New(), moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	require.Equal(t, 0, mgr.NumModules())
	require.Equal(t, 0, mgr.NumConnectivities())

	require.NoError(t, mgr.Connect(a, b, conn))
	require.Equal(t, 2, mgr.NumModules())
	require.Equal(t, 1, mgr.NumConnectivities())

	// Reconnecting with the same conn must not register it twice.
	require.NoError(t, mgr.Connect(a, b, conn))
	require.Equal(t, 2, mgr.NumModules())
	require.Equal(t, 1, mgr.NumConnectivities())
}

func TestNumBrokersZeroBeforeStartBroker(t *testing.T) {
	mgr, err := New("127.0.0.1:5031", "127.0.0.1:5030", testLogger())
	require.NoError(t, err)
	require.Equal(t, 0, mgr.NumBrokers())
}

func TestOutPeersAndInPeersReflectRoutingTable(t *testing.T) {
	mgr, err := New("127.0.0.1:5041", "127.0.0.1:5040", testLogger())
	require.NoError(t, err)

	a, b := moduleid.New(), moduleid.New()
	conn, err := connectivity.New(a, 3, b, 3, 1)
	require.NoError(t, err)
	require.NoError(t, conn.SetConnMatrix(a, b, 0, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	require.NoError(t, mgr.Connect(a, b, conn))

	require.Equal(t, []moduleid.ID{b}, mgr.OutPeers(a))
	require.Equal(t, []moduleid.ID{a}, mgr.InPeers(b))
	require.Empty(t, mgr.OutPeers(b))
	require.Empty(t, mgr.InPeers(a))
}
