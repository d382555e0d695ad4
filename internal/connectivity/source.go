// Package connectivity describes intra-core (L0) synaptic connectivity as a
// pointer table: a logical source-unit × destination-unit × destination-state
// tensor whose nonzero entries are indices into the core's weight table.
//
// Two concrete representations exist, a dense 3-D tensor and a sparse
// CSR matrix whose column index is state*nUnits + unit. Both implement
// Source and iterate nonzero entries in the same canonical order, so the
// encoder never branches on representation.
package connectivity

import (
	"errors"
	"fmt"
)

// Synapse is one nonzero pointer-table entry.
type Synapse struct {
	Src      uint64
	DstUnit  uint64
	DstState uint64
	// Ptr indexes the weight table. It is never zero.
	Ptr uint64
}

// Shape is the logical tensor shape of a pointer table.
type Shape struct {
	Units  int
	States int
}

// Source is a pointer table in any representation.
type Source interface {
	// Shape returns the logical tensor shape (Units × Units × States).
	Shape() Shape
	// NNZ returns the number of nonzero entries.
	NNZ() int
	// EachNonZero calls fn for every nonzero entry ordered by source unit,
	// then destination state, then destination unit. Iteration stops at the
	// first error fn returns.
	EachNonZero(fn func(Synapse) error) error
	// Clone returns an independent copy.
	Clone() Source
}

// ErrStop can be returned from an EachNonZero callback to end iteration
// early without an error.
var ErrStop = errors.New("connectivity: stop iteration")

// Collect returns every nonzero entry of src in canonical order.
func Collect(src Source) []Synapse {
	out := make([]Synapse, 0, src.NNZ())
	_ = src.EachNonZero(func(s Synapse) error {
		out = append(out, s)
		return nil
	})
	return out
}

// MaxPtr returns the largest pointer value, or 0 for an empty table.
func MaxPtr(src Source) uint64 {
	var m uint64
	_ = src.EachNonZero(func(s Synapse) error {
		if s.Ptr > m {
			m = s.Ptr
		}
		return nil
	})
	return m
}

// Empty returns a sparse table with no entries.
func Empty(shape Shape) *Sparse {
	return &Sparse{shape: shape, rowPtr: make([]int, shape.Units+1)}
}

func checkCoord(shape Shape, src, unit, state int) error {
	if src < 0 || src >= shape.Units {
		return fmt.Errorf("source unit %d out of range [0, %d)", src, shape.Units)
	}
	if unit < 0 || unit >= shape.Units {
		return fmt.Errorf("destination unit %d out of range [0, %d)", unit, shape.Units)
	}
	if state < 0 || state >= shape.States {
		return fmt.Errorf("destination state %d out of range [0, %d)", state, shape.States)
	}
	return nil
}
