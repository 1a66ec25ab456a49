package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

func TestNewInvalidShape(t *testing.T) {
	_, err := New("a", 0, "b", 3, 1)
	require.ErrorIs(t, err, ErrInvalidShape)

	_, err = New("a", 3, "a", 3, 1)
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestIdentityProjection(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 3, b, 3, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SetConn(a, b, i, i))
	}

	idx, err := c.SrcIdx(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx)

	connected, err := c.IsConnected(a, b)
	require.NoError(t, err)
	assert.True(t, connected)

	connected, err = c.IsConnected(b, a)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestSparseProjection(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 3, b, 3, 1)
	require.NoError(t, err)

	// diag(1,0,1)
	require.NoError(t, c.SetConn(a, b, 0, 0))
	require.NoError(t, c.SetConn(a, b, 2, 2))

	idx, err := c.SrcIdx(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, idx)
}

func TestParallelConnectionsMaskIsOR(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 2, b, 2, 1)
	require.NoError(t, err)

	require.NoError(t, c.Set(a, b, 0, 1, 0, ParamConn, 1))
	require.NoError(t, c.Set(a, b, 0, 1, 1, ParamConn, 1))
	assert.Equal(t, 2, c.NMult())

	idx, err := c.SrcIdx(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx)
}

func TestTransposeRoundTrip(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 3, b, 2, 1)
	require.NoError(t, err)
	require.NoError(t, c.SetConn(a, b, 0, 1))
	require.NoError(t, c.Set(a, b, 2, 0, 0, "weight", 4.5))

	back := c.Transpose().Transpose()
	assert.Equal(t, c.NMult(), back.NMult())

	got, err := back.Get(a, b, 2, 0, 0, "weight")
	require.NoError(t, err)
	assert.Equal(t, 4.5, got)

	conn, err := back.GetConn(a, b, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), conn)
}

func TestSetRejectsTypeMismatch(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 2, b, 2, 1)
	require.NoError(t, err)

	require.NoError(t, c.Set(a, b, 0, 0, 0, "weight", 1.5))
	err = c.Set(a, b, 0, 1, 0, "weight", 2)
	require.ErrorIs(t, err, ErrParamTypeMismatch)
}

func TestUnknownModule(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 2, b, 2, 1)
	require.NoError(t, err)

	_, err = c.N("ghost")
	require.ErrorIs(t, err, ErrUnknownModule)

	_, err = c.IsConnected("ghost", b)
	require.ErrorIs(t, err, ErrUnknownModule)
}

func TestMissingStorageReadsZero(t *testing.T) {
	a, b := moduleid.ID("m1"), moduleid.ID("m2")
	c, err := New(a, 2, b, 2, 1)
	require.NoError(t, err)

	val, err := c.Get(a, b, 0, 0, 0, "weight")
	require.NoError(t, err)
	assert.Equal(t, float64(0), val)
}
