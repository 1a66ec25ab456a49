// Package connectivity implements the sparse, directed port-to-port map
// between two modules described in spec.md §3/§4.1. Two module IDs A and
// B, each with a fixed port count, are connected by a family of named
// parameter matrices keyed by (direction, connection index, name); the
// reserved name "conn" is the 0/1 adjacency matrix that the other named
// parameters are only meaningful relative to.
//
// Grounded on original_source/neurokernel/base.py's BaseConnectivity.
package connectivity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

// direction identifies which side of the pair a parameter matrix maps.
type direction int

const (
	dirAtoB direction = iota
	dirBtoA
)

// ParamConn is the reserved adjacency parameter name.
const ParamConn = "conn"

type paramKey struct {
	dir     direction
	connIdx int
	param   string
}

// Connectivity is a sparse, directed, two-party port map. It is not safe
// for concurrent use without external synchronization, matching the rest
// of the substrate's single-goroutine-per-worker model; the internal mutex
// only protects the memoization cache, which the manager may query from a
// different goroutine than the one mutating the object.
type Connectivity struct {
	id moduleid.ID

	aID, bID moduleid.ID
	nA, nB   int
	nMult    int

	data         map[paramKey]paramStore
	keysByDir    map[direction][]paramKey
	dtypeByParam map[string]DType

	mu      sync.Mutex
	version uint64
	idxLRU  *lru.Cache[string, []int]
}

// New constructs a Connectivity between aID (with nA ports) and bID (with
// nB ports), starting with nMult parallel connections per port pair; Set
// raises NMult when it writes a higher connection index.
// The A→B and B→A adjacency matrices at connection index 0 are created
// empty, matching original_source/neurokernel/base.py's constructor.
func New(aID moduleid.ID, nA int, bID moduleid.ID, nB int, nMult int) (*Connectivity, error) {
	if nA <= 0 || nB <= 0 || nMult <= 0 || aID == bID || aID == "" || bID == "" {
		return nil, ErrInvalidShape
	}
	cache, _ := lru.New[string, []int](256)
	c := &Connectivity{
		id:           moduleid.New(),
		aID:          aID,
		bID:          bID,
		nA:           nA,
		nB:           nB,
		nMult:        nMult,
		data:         make(map[paramKey]paramStore),
		keysByDir:    map[direction][]paramKey{dirAtoB: nil, dirBtoA: nil},
		dtypeByParam: map[string]DType{ParamConn: DTypeInt},
		idxLRU:       cache,
	}
	c.data[paramKey{dirAtoB, 0, ParamConn}] = newIntParam(nA, nB)
	c.keysByDir[dirAtoB] = append(c.keysByDir[dirAtoB], paramKey{dirAtoB, 0, ParamConn})
	c.data[paramKey{dirBtoA, 0, ParamConn}] = newIntParam(nB, nA)
	c.keysByDir[dirBtoA] = append(c.keysByDir[dirBtoA], paramKey{dirBtoA, 0, ParamConn})
	return c, nil
}

// ID returns the connectivity object's own unique identifier.
func (c *Connectivity) ID() moduleid.ID { return c.id }

// AID and BID return the two module IDs this object connects.
func (c *Connectivity) AID() moduleid.ID { return c.aID }
func (c *Connectivity) BID() moduleid.ID { return c.bID }

// NMult returns the current high-water mark of parallel connections.
func (c *Connectivity) NMult() int { return c.nMult }

func (c *Connectivity) dirOf(src, dst moduleid.ID) (direction, error) {
	switch {
	case src == c.aID && dst == c.bID:
		return dirAtoB, nil
	case src == c.bID && dst == c.aID:
		return dirBtoA, nil
	default:
		return 0, ErrUnknownModule
	}
}

func (c *Connectivity) shapeFor(dir direction) (rows, cols int) {
	if dir == dirAtoB {
		return c.nA, c.nB
	}
	return c.nB, c.nA
}

// N returns the port count for the given module ID.
func (c *Connectivity) N(id moduleid.ID) (int, error) {
	switch id {
	case c.aID:
		return c.nA, nil
	case c.bID:
		return c.nB, nil
	default:
		return 0, ErrUnknownModule
	}
}

// OtherMod returns the peer module ID for the given one.
func (c *Connectivity) OtherMod(id moduleid.ID) (moduleid.ID, error) {
	switch id {
	case c.aID:
		return c.bID, nil
	case c.bID:
		return c.aID, nil
	default:
		return "", ErrUnknownModule
	}
}

// IsConnected reports whether any parameter matrix in direction src→dst
// has a nonzero entry.
func (c *Connectivity) IsConnected(src, dst moduleid.ID) (bool, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return false, err
	}
	for _, key := range c.keysByDir[dir] {
		if c.data[key].NNZ() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SrcMask returns, for every source port, whether it has at least one
// "conn" connection (over any connection index) to a destination port in
// destPorts. destPorts == nil means "all destination ports".
func (c *Connectivity) SrcMask(src, dst moduleid.ID, destPorts []int) ([]bool, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return nil, err
	}
	rows, _ := c.shapeFor(dir)
	mask := make([]bool, rows)
	for connIdx := 0; connIdx < c.nMult; connIdx++ {
		store, ok := c.data[paramKey{dir, connIdx, ParamConn}]
		if !ok {
			continue
		}
		for i := 0; i < rows; i++ {
			if mask[i] {
				continue
			}
			if store.RowNonzero(i, destPorts) {
				mask[i] = true
			}
		}
	}
	return mask, nil
}

// SrcIdx returns the sorted positions of true bits in SrcMask, memoized
// until the next write invalidates the cache.
func (c *Connectivity) SrcIdx(src, dst moduleid.ID, destPorts []int) ([]int, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return nil, err
	}
	key := c.cacheKey("src", dir, destPorts)
	if cached, ok := c.cacheGet(key); ok {
		return cached, nil
	}
	mask, err := c.SrcMask(src, dst, destPorts)
	if err != nil {
		return nil, err
	}
	idx := maskToIdx(mask)
	c.cacheSet(key, idx)
	return idx, nil
}

// DestMask returns, for every destination port, whether it has at least
// one "conn" connection (over any connection index) from a source port in
// srcPorts. srcPorts == nil means "all source ports".
func (c *Connectivity) DestMask(src, dst moduleid.ID, srcPorts []int) ([]bool, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return nil, err
	}
	_, cols := c.shapeFor(dir)
	mask := make([]bool, cols)
	for connIdx := 0; connIdx < c.nMult; connIdx++ {
		store, ok := c.data[paramKey{dir, connIdx, ParamConn}]
		if !ok {
			continue
		}
		for j := 0; j < cols; j++ {
			if mask[j] {
				continue
			}
			if store.ColNonzero(j, srcPorts) {
				mask[j] = true
			}
		}
	}
	return mask, nil
}

// DestIdx returns the sorted positions of true bits in DestMask, memoized.
func (c *Connectivity) DestIdx(src, dst moduleid.ID, srcPorts []int) ([]int, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return nil, err
	}
	key := c.cacheKey("dst", dir, srcPorts)
	if cached, ok := c.cacheGet(key); ok {
		return cached, nil
	}
	mask, err := c.DestMask(src, dst, srcPorts)
	if err != nil {
		return nil, err
	}
	idx := maskToIdx(mask)
	c.cacheSet(key, idx)
	return idx, nil
}

// Get retrieves a single scalar entry. Missing backing storage returns 0
// rather than an error, per spec.md §4.1.
func (c *Connectivity) Get(src, dst moduleid.ID, sIdx, dIdx, connIdx int, param string) (float64, error) {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return 0, err
	}
	store, ok := c.data[paramKey{dir, connIdx, param}]
	if !ok {
		return 0, nil
	}
	return store.GetFloat(sIdx, dIdx), nil
}

// GetConn is Get with the defaults connIdx=0, param="conn".
func (c *Connectivity) GetConn(src, dst moduleid.ID, sIdx, dIdx int) (float64, error) {
	return c.Get(src, dst, sIdx, dIdx, 0, ParamConn)
}

// Set writes a single scalar entry, auto-creating the backing matrix for
// (direction, connIdx, param) on first write. The matrix's element type is
// fixed to val's type (int or float64); a later write of a different type
// for the same param name returns ErrParamTypeMismatch (see SPEC_FULL.md
// Open Question #2). If connIdx >= NMult, NMult grows to connIdx+1.
func (c *Connectivity) Set(src, dst moduleid.ID, sIdx, dIdx, connIdx int, param string, val any) error {
	dir, err := c.dirOf(src, dst)
	if err != nil {
		return err
	}
	dt, fv, ok := dtypeOf(val)
	if !ok {
		return fmt.Errorf("connectivity: unsupported value type %T", val)
	}
	if existing, seen := c.dtypeByParam[param]; seen && existing != dt {
		return ErrParamTypeMismatch
	}
	c.dtypeByParam[param] = dt

	key := paramKey{dir, connIdx, param}
	store, ok := c.data[key]
	if !ok {
		rows, cols := c.shapeFor(dir)
		store = newParamStore(dt, rows, cols)
		c.data[key] = store
		c.keysByDir[dir] = append(c.keysByDir[dir], key)
	}
	store.SetFloat(sIdx, dIdx, fv)
	if connIdx+1 > c.nMult {
		c.nMult = connIdx + 1
	}
	c.invalidate()
	return nil
}

// SetConn is Set with the defaults connIdx=0, param="conn", val=1.
func (c *Connectivity) SetConn(src, dst moduleid.ID, sIdx, dIdx int) error {
	return c.Set(src, dst, sIdx, dIdx, 0, ParamConn, 1)
}

// SetConnMatrix bulk-writes a dense 0/1 (or weighted) adjacency block at
// connIdx for the given direction; rows/cols follow src's/dst's port
// indexing. Used by worker bodies to declare a whole routing block at
// once (e.g. an identity matrix between two equally-sized modules).
func (c *Connectivity) SetConnMatrix(src, dst moduleid.ID, connIdx int, rows [][]int) error {
	for i, row := range rows {
		for j, val := range row {
			if val == 0 {
				continue
			}
			if err := c.Set(src, dst, i, j, connIdx, ParamConn, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// Transpose returns a fresh Connectivity with A and B swapped and every
// parameter matrix replaced by its transpose.
func (c *Connectivity) Transpose() *Connectivity {
	cache, _ := lru.New[string, []int](256)
	t := &Connectivity{
		id:           moduleid.New(),
		aID:          c.bID,
		bID:          c.aID,
		nA:           c.nB,
		nB:           c.nA,
		nMult:        c.nMult,
		data:         make(map[paramKey]paramStore),
		keysByDir:    map[direction][]paramKey{dirAtoB: nil, dirBtoA: nil},
		dtypeByParam: make(map[string]DType, len(c.dtypeByParam)),
		idxLRU:       cache,
	}
	for k, v := range c.dtypeByParam {
		t.dtypeByParam[k] = v
	}
	flip := map[direction]direction{dirAtoB: dirBtoA, dirBtoA: dirAtoB}
	for key, store := range c.data {
		newKey := paramKey{dir: flip[key.dir], connIdx: key.connIdx, param: key.param}
		t.data[newKey] = store.Transpose()
		t.keysByDir[newKey.dir] = append(t.keysByDir[newKey.dir], newKey)
	}
	return t
}

// NNZ returns the total number of stored nonzero entries across every
// parameter matrix, mirroring base.py's nbytes helper's nnz accounting.
func (c *Connectivity) NNZ() int {
	total := 0
	for _, store := range c.data {
		total += store.NNZ()
	}
	return total
}

// ApproxBytes approximates memory footprint from nonzero counts, the Go
// analogue of base.py's BaseConnectivity.nbytes property.
func (c *Connectivity) ApproxBytes() int {
	total := 0
	for _, store := range c.data {
		total += store.NNZ() * store.ItemSize()
	}
	return total
}

// String renders each direction's parameter matrices, the Go analogue of
// base.py's BaseConnectivity.__repr__.
func (c *Connectivity) String() string {
	var b strings.Builder
	render := func(dir direction, from, to moduleid.ID) {
		fmt.Fprintf(&b, "%s -> %s\n-----------\n", from, to)
		keys := append([]paramKey(nil), c.keysByDir[dir]...)
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].connIdx != keys[j].connIdx {
				return keys[i].connIdx < keys[j].connIdx
			}
			return keys[i].param < keys[j].param
		})
		for _, k := range keys {
			fmt.Fprintf(&b, "%d/%s (nnz=%d)\n", k.connIdx, k.param, c.data[k].NNZ())
		}
	}
	render(dirAtoB, c.aID, c.bID)
	render(dirBtoA, c.bID, c.aID)
	return b.String()
}

func maskToIdx(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, v := range mask {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

func (c *Connectivity) invalidate() {
	c.mu.Lock()
	c.version++
	c.idxLRU.Purge()
	c.mu.Unlock()
}

func (c *Connectivity) cacheKey(kind string, dir direction, ports []int) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('/')
	sb.WriteString(strconv.Itoa(int(dir)))
	sb.WriteByte('/')
	if ports == nil {
		sb.WriteString("*")
	} else {
		sorted := append([]int(nil), ports...)
		sort.Ints(sorted)
		for _, p := range sorted {
			sb.WriteString(strconv.Itoa(p))
			sb.WriteByte(',')
		}
	}
	return sb.String()
}

func (c *Connectivity) cacheGet(key string) ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.idxLRU.Get(key)
	return v, ok
}

func (c *Connectivity) cacheSet(key string, val []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idxLRU.Add(key, val)
}
