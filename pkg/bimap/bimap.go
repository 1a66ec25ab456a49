// Package bimap implements a small generic bidirectional index: a mirrored
// pair of maps kept consistent under insert/delete. spec.md §9 calls for
// exactly this shape for the manager's broker/module/connectivity
// registries, used both for lookup-by-ID and reverse membership tests,
// without exposing a language-specific container type.
package bimap

// Map is a two-way index between a comparable key K and comparable value V.
// It is not safe for concurrent use; callers that need concurrency guard it
// externally (the manager does, with its own mutex).
type Map[K comparable, V comparable] struct {
	fwd map[K]V
	rev map[V]K
}

// New creates an empty bidirectional map.
func New[K comparable, V comparable]() *Map[K, V] {
	return &Map[K, V]{
		fwd: make(map[K]V),
		rev: make(map[V]K),
	}
}

// Set inserts or overwrites the (k,v) pair, removing any stale reverse
// mapping the previous value held.
func (m *Map[K, V]) Set(k K, v V) {
	if oldV, ok := m.fwd[k]; ok {
		delete(m.rev, oldV)
	}
	m.fwd[k] = v
	m.rev[v] = k
}

// Get looks up the value for a key.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.fwd[k]
	return v, ok
}

// KeyFor looks up the key for a value (reverse membership test).
func (m *Map[K, V]) KeyFor(v V) (K, bool) {
	k, ok := m.rev[v]
	return k, ok
}

// Has reports whether k is a known key.
func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.fwd[k]
	return ok
}

// Delete removes k (and its mirrored value entry) if present.
func (m *Map[K, V]) Delete(k K) {
	if v, ok := m.fwd[k]; ok {
		delete(m.fwd, k)
		delete(m.rev, v)
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.fwd)
}

// Keys returns a snapshot of all keys. Iteration order is unspecified.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.fwd))
	for k := range m.fwd {
		keys = append(keys, k)
	}
	return keys
}

// Values returns a snapshot of all values. Iteration order is unspecified.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, len(m.fwd))
	for _, v := range m.fwd {
		values = append(values, v)
	}
	return values
}
