package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

func TestAddContainsDelete(t *testing.T) {
	tbl := New()
	a, b := moduleid.ID("a"), moduleid.ID("b")

	assert.False(t, tbl.Contains(a, b))
	tbl.Add(a, b)
	assert.True(t, tbl.Contains(a, b))
	assert.False(t, tbl.Contains(b, a))

	tbl.Delete(a, b)
	assert.False(t, tbl.Contains(a, b))
}

func TestSelfEdgeRejected(t *testing.T) {
	tbl := New()
	tbl.Add("a", "a")
	assert.Equal(t, 0, tbl.Len())
}

func TestCoordsSnapshotIndependence(t *testing.T) {
	tbl := New()
	tbl.Add("a", "b")
	tbl.Add("a", "c")

	snap := tbl.Coords()
	assert.Len(t, snap, 2)

	tbl.Add("b", "c")
	assert.Len(t, snap, 2, "earlier snapshot must not observe later mutations")
	assert.Equal(t, 3, tbl.Len())
}

func TestOutInEdges(t *testing.T) {
	tbl := New()
	tbl.Add("a", "b")
	tbl.Add("a", "c")
	tbl.Add("b", "c")

	assert.ElementsMatch(t, []moduleid.ID{"b", "c"}, tbl.OutEdges("a"))
	assert.ElementsMatch(t, []moduleid.ID{"a", "b"}, tbl.InEdges("c"))
}
