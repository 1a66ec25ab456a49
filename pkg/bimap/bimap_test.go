package bimap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetAndKeyFor(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)

	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	k, ok := m.KeyFor(1)
	require.True(t, ok)
	require.Equal(t, "a", k)

	_, ok = m.Get("missing")
	require.False(t, ok)
	_, ok = m.KeyFor(99)
	require.False(t, ok)
}

func TestSetOverwriteDropsStaleReverseMapping(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("a", 2)

	_, ok := m.KeyFor(1)
	require.False(t, ok, "stale reverse mapping for the old value must be gone")

	k, ok := m.KeyFor(2)
	require.True(t, ok)
	require.Equal(t, "a", k)
}

func TestHasAndDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	require.True(t, m.Has("a"))

	m.Delete("a")
	require.False(t, m.Has("a"))
	_, ok := m.KeyFor(1)
	require.False(t, ok)
}

func TestLenKeysAndValues(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	require.Equal(t, 2, m.Len())
	require.ElementsMatch(t, []string{"a", "b"}, m.Keys())
	require.ElementsMatch(t, []int{1, 2}, m.Values())
}
