package connectivity

import (
	"errors"
	"fmt"
	"sort"
)

// Sparse is a pointer table stored as a CSR matrix of Units rows and
// Units*States columns. Column c addresses destination unit c % Units in
// destination state c / Units.
type Sparse struct {
	shape  Shape
	rowPtr []int
	cols   []int
	vals   []uint64
}

// Triplet is a COO entry used to build a Sparse table.
type Triplet struct {
	Row int
	Col int
	Val uint64
}

// NewSparse builds a CSR table from COO triplets in any order. Zero values
// are dropped; a duplicate (row, col) pair is an error.
func NewSparse(shape Shape, entries []Triplet) (*Sparse, error) {
	nCols := shape.Units * shape.States
	sorted := make([]Triplet, 0, len(entries))
	for _, e := range entries {
		if e.Row < 0 || e.Row >= shape.Units || e.Col < 0 || e.Col >= nCols {
			return nil, fmt.Errorf("entry (%d, %d) out of range %dx%d", e.Row, e.Col, shape.Units, nCols)
		}
		if e.Val != 0 {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	s := &Sparse{
		shape:  shape,
		rowPtr: make([]int, shape.Units+1),
		cols:   make([]int, 0, len(sorted)),
		vals:   make([]uint64, 0, len(sorted)),
	}
	for i, e := range sorted {
		if i > 0 && sorted[i-1].Row == e.Row && sorted[i-1].Col == e.Col {
			return nil, fmt.Errorf("duplicate entry (%d, %d)", e.Row, e.Col)
		}
		s.rowPtr[e.Row+1]++
		s.cols = append(s.cols, e.Col)
		s.vals = append(s.vals, e.Val)
	}
	for r := 0; r < shape.Units; r++ {
		s.rowPtr[r+1] += s.rowPtr[r]
	}
	return s, nil
}

// Column returns the CSR column that addresses (unit, state).
func Column(shape Shape, unit, state int) int {
	return state*shape.Units + unit
}

// Shape returns the dimensions the matrix was built for.
func (s *Sparse) Shape() Shape { return s.shape }

// NNZ returns the number of stored entries.
func (s *Sparse) NNZ() int { return len(s.vals) }

// EachNonZero visits stored entries row by row in column order.
func (s *Sparse) EachNonZero(fn func(Synapse) error) error {
	units := uint64(s.shape.Units)
	for r := 0; r < s.shape.Units; r++ {
		for k := s.rowPtr[r]; k < s.rowPtr[r+1]; k++ {
			col := uint64(s.cols[k])
			err := fn(Synapse{
				Src:      uint64(r),
				DstUnit:  col % units,
				DstState: col / units,
				Ptr:      s.vals[k],
			})
			if errors.Is(err, ErrStop) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Sparse) Clone() Source {
	c := &Sparse{
		shape:  s.shape,
		rowPtr: append([]int(nil), s.rowPtr...),
		cols:   append([]int(nil), s.cols...),
		vals:   append([]uint64(nil), s.vals...),
	}
	return c
}

// ToSparse converts any source to CSR.
func ToSparse(src Source) *Sparse {
	if s, ok := src.(*Sparse); ok {
		return s
	}
	shape := src.Shape()
	entries := make([]Triplet, 0, src.NNZ())
	_ = src.EachNonZero(func(syn Synapse) error {
		entries = append(entries, Triplet{
			Row: int(syn.Src),
			Col: Column(shape, int(syn.DstUnit), int(syn.DstState)),
			Val: syn.Ptr,
		})
		return nil
	})
	// Entries come from a valid source, so construction cannot fail.
	s, _ := NewSparse(shape, entries)
	return s
}
