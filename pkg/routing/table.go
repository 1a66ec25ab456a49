// Package routing implements the RoutingTable described in spec.md §4.2: a
// set of directed (src,dst) edges over module IDs, giving the broker the
// authoritative per-tick barrier membership.
package routing

import (
	"sync"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

// Edge is a directed routing-table entry.
type Edge struct {
	Src moduleid.ID
	Dst moduleid.ID
}

// Table is a set of directed edges. Safe for concurrent use: the manager
// mutates it while workers are starting, and the broker takes read-only
// snapshots of it every tick.
type Table struct {
	mu    sync.RWMutex
	edges map[Edge]struct{}
}

// New returns an empty routing table.
func New() *Table {
	return &Table{edges: make(map[Edge]struct{})}
}

// Add inserts (src,dst). src == dst is silently rejected (an edge cannot
// loop back to the same module); callers that need to surface this should
// check Contains first if they care.
func (t *Table) Add(src, dst moduleid.ID) {
	if src == dst {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edges[Edge{src, dst}] = struct{}{}
}

// Delete removes (src,dst) if present.
func (t *Table) Delete(src, dst moduleid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.edges, Edge{src, dst})
}

// Contains reports whether (src,dst) is a current edge.
func (t *Table) Contains(src, dst moduleid.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.edges[Edge{src, dst}]
	return ok
}

// Coords returns a snapshot of every current edge. Iteration order is
// unspecified but each call returns a fresh, independently mutable slice —
// this is what lets the broker safely shrink its own per-tick working copy
// without perturbing the table.
func (t *Table) Coords() []Edge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Edge, 0, len(t.edges))
	for e := range t.edges {
		out = append(out, e)
	}
	return out
}

// Len returns the number of edges.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.edges)
}

// OutEdges returns the destinations that src declares outbound edges to.
func (t *Table) OutEdges(src moduleid.ID) []moduleid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []moduleid.ID
	for e := range t.edges {
		if e.Src == src {
			out = append(out, e.Dst)
		}
	}
	return out
}

// InEdges returns the sources that declare outbound edges to dst.
func (t *Table) InEdges(dst moduleid.ID) []moduleid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var in []moduleid.ID
	for e := range t.edges {
		if e.Dst == dst {
			in = append(in, e.Src)
		}
	}
	return in
}
