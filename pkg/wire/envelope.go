// Package wire implements the substrate's wire envelope and frame types:
// a compact, self-describing encoding for the numeric payloads that flow
// between modules and the broker (spec.md §6), plus the control- and
// data-channel frame shapes.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType tags the element type a Sample's raw bytes were packed with, so a
// receiver can unpack them without any side-channel schema.
type DType uint8

const (
	Float64 DType = iota
	Float32
	Int64
	Int32
)

func (d DType) itemSize() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

// Sample is the self-describing numeric envelope carried on the data
// channel. Sentinel is the "no data this tick" marker required by spec.md
// §6/§8 to be distinguishable from a genuine empty array: an empty,
// non-sentinel Sample has Shape == []int{0} and zero-length Raw, which is
// a different wire shape than Sentinel == true (which carries no Shape/
// Raw at all).
type Sample struct {
	Sentinel   bool
	Compressed bool
	DType      DType
	Shape      []int
	Raw        []byte
}

// AbsenceSentinel is the distinguished "no data this tick" payload.
func AbsenceSentinel() Sample {
	return Sample{Sentinel: true}
}

// FromFloat64 packs a flat float64 vector into a Sample.
func FromFloat64(vals []float64) Sample {
	raw := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return Sample{DType: Float64, Shape: []int{len(vals)}, Raw: raw}
}

// FromFloat32 packs a flat float32 vector into a Sample.
func FromFloat32(vals []float32) Sample {
	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return Sample{DType: Float32, Shape: []int{len(vals)}, Raw: raw}
}

// Float64 unpacks the Sample as a flat float64 vector, converting from its
// native DType if necessary. Calling this on a sentinel Sample is an
// error: callers must check Sentinel first.
func (s Sample) Float64() ([]float64, error) {
	if s.Sentinel {
		return nil, fmt.Errorf("wire: cannot unpack absence sentinel")
	}
	size := s.DType.itemSize()
	if size == 0 {
		return nil, fmt.Errorf("wire: unknown dtype %d", s.DType)
	}
	n := len(s.Raw) / size
	out := make([]float64, n)
	switch s.DType {
	case Float64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(s.Raw[i*8:]))
		}
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(s.Raw[i*4:])))
		}
	case Int64:
		for i := 0; i < n; i++ {
			out[i] = float64(int64(binary.LittleEndian.Uint64(s.Raw[i*8:])))
		}
	case Int32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(s.Raw[i*4:])))
		}
	default:
		return nil, fmt.Errorf("wire: unknown dtype %d", s.DType)
	}
	return out, nil
}

// Len returns the flat element count implied by Shape.
func (s Sample) Len() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	if len(s.Shape) == 0 {
		return 0
	}
	return n
}
