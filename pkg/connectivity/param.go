package connectivity

import "github.com/penguintechinc/simsubstrate/pkg/sparse"

// DType identifies the element type a named parameter was first written
// with. Fixed per param name for the lifetime of a Connectivity (see
// ErrParamTypeMismatch).
type DType int

const (
	// DTypeInt backs integer-valued parameters; the reserved "conn"
	// adjacency parameter is always this type.
	DTypeInt DType = iota
	// DTypeFloat64 backs floating-point parameters (weights, delays...).
	DTypeFloat64
)

func (d DType) String() string {
	switch d {
	case DTypeInt:
		return "int"
	case DTypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// paramStore is the type-erased view over a *sparse.Matrix[int] or
// *sparse.Matrix[float64] that Connectivity stores per (direction,
// connection index, parameter name) key.
type paramStore interface {
	DType() DType
	Rows() int
	Cols() int
	NNZ() int
	GetFloat(i, j int) float64
	SetFloat(i, j int, val float64)
	RowNonzero(i int, cols []int) bool
	ColNonzero(j int, rows []int) bool
	Transpose() paramStore
	Clone() paramStore
	ItemSize() int
}

type intParam struct{ m *sparse.Matrix[int] }

func newIntParam(rows, cols int) *intParam { return &intParam{m: sparse.NewMatrix[int](rows, cols)} }

func (p *intParam) DType() DType     { return DTypeInt }
func (p *intParam) Rows() int        { return p.m.Rows() }
func (p *intParam) Cols() int        { return p.m.Cols() }
func (p *intParam) NNZ() int         { return p.m.NNZ() }
func (p *intParam) ItemSize() int    { return 8 } // int is machine-word sized
func (p *intParam) GetFloat(i, j int) float64 {
	return float64(p.m.Get(i, j))
}
func (p *intParam) SetFloat(i, j int, val float64) {
	p.m.Set(i, j, int(val))
}
func (p *intParam) RowNonzero(i int, cols []int) bool { return p.m.RowNonzero(i, cols) }
func (p *intParam) ColNonzero(j int, rows []int) bool { return p.m.ColNonzero(j, rows) }
func (p *intParam) Transpose() paramStore             { return &intParam{m: p.m.Transpose()} }
func (p *intParam) Clone() paramStore                 { return &intParam{m: p.m.Clone()} }

type floatParam struct{ m *sparse.Matrix[float64] }

func newFloatParam(rows, cols int) *floatParam {
	return &floatParam{m: sparse.NewMatrix[float64](rows, cols)}
}

func (p *floatParam) DType() DType                    { return DTypeFloat64 }
func (p *floatParam) Rows() int                       { return p.m.Rows() }
func (p *floatParam) Cols() int                       { return p.m.Cols() }
func (p *floatParam) NNZ() int                        { return p.m.NNZ() }
func (p *floatParam) ItemSize() int                   { return 8 }
func (p *floatParam) GetFloat(i, j int) float64        { return p.m.Get(i, j) }
func (p *floatParam) SetFloat(i, j int, val float64)   { p.m.Set(i, j, val) }
func (p *floatParam) RowNonzero(i int, cols []int) bool { return p.m.RowNonzero(i, cols) }
func (p *floatParam) ColNonzero(j int, rows []int) bool { return p.m.ColNonzero(j, rows) }
func (p *floatParam) Transpose() paramStore            { return &floatParam{m: p.m.Transpose()} }
func (p *floatParam) Clone() paramStore                { return &floatParam{m: p.m.Clone()} }

func newParamStore(dt DType, rows, cols int) paramStore {
	if dt == DTypeInt {
		return newIntParam(rows, cols)
	}
	return newFloatParam(rows, cols)
}

// dtypeOf classifies a value written through the public Set/SetConn API.
func dtypeOf(val any) (DType, float64, bool) {
	switch v := val.(type) {
	case int:
		return DTypeInt, float64(v), true
	case int32:
		return DTypeInt, float64(v), true
	case int64:
		return DTypeInt, float64(v), true
	case float32:
		return DTypeFloat64, float64(v), true
	case float64:
		return DTypeFloat64, v, true
	default:
		return 0, 0, false
	}
}
