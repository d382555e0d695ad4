package connectivity

import (
	"fmt"
	"reflect"
	"testing"
)

func sampleShape() Shape { return Shape{Units: 3, States: 2} }

func buildDense(t *testing.T) *Dense {
	t.Helper()
	d := NewDense(sampleShape())
	sets := []struct {
		src, unit, state int
		ptr              uint64
	}{
		{0, 2, 1, 3},
		{0, 1, 0, 1},
		{2, 0, 0, 2},
		{0, 0, 1, 4},
	}
	for _, s := range sets {
		if err := d.Set(s.src, s.unit, s.state, s.ptr); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	return d
}

func TestDenseAndSparseIterateIdentically(t *testing.T) {
	shape := sampleShape()
	dense := buildDense(t)
	sparse, err := NewSparse(shape, []Triplet{
		{Row: 2, Col: Column(shape, 0, 0), Val: 2},
		{Row: 0, Col: Column(shape, 0, 1), Val: 4},
		{Row: 0, Col: Column(shape, 2, 1), Val: 3},
		{Row: 0, Col: Column(shape, 1, 0), Val: 1},
	})
	if err != nil {
		t.Fatalf("NewSparse failed: %v", err)
	}

	want := []Synapse{
		{Src: 0, DstUnit: 1, DstState: 0, Ptr: 1},
		{Src: 0, DstUnit: 0, DstState: 1, Ptr: 4},
		{Src: 0, DstUnit: 2, DstState: 1, Ptr: 3},
		{Src: 2, DstUnit: 0, DstState: 0, Ptr: 2},
	}
	if got := Collect(dense); !reflect.DeepEqual(got, want) {
		t.Errorf("dense order = %v, want %v", got, want)
	}
	if got := Collect(sparse); !reflect.DeepEqual(got, want) {
		t.Errorf("sparse order = %v, want %v", got, want)
	}
	if dense.NNZ() != 4 || sparse.NNZ() != 4 {
		t.Errorf("NNZ = %d / %d, want 4", dense.NNZ(), sparse.NNZ())
	}
}

func TestToSparsePreservesEntries(t *testing.T) {
	dense := buildDense(t)
	sparse := ToSparse(dense)
	if !reflect.DeepEqual(Collect(dense), Collect(sparse)) {
		t.Error("ToSparse changed the nonzero set")
	}
	if MaxPtr(sparse) != 4 {
		t.Errorf("MaxPtr = %d, want 4", MaxPtr(sparse))
	}
}

func TestNewSparseRejects(t *testing.T) {
	shape := sampleShape()
	tests := []struct {
		name    string
		entries []Triplet
	}{
		{"row out of range", []Triplet{{Row: 3, Col: 0, Val: 1}}},
		{"col out of range", []Triplet{{Row: 0, Col: 6, Val: 1}}},
		{"duplicate", []Triplet{{Row: 0, Col: 1, Val: 1}, {Row: 0, Col: 1, Val: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSparse(shape, tt.entries); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewSparseDropsZeros(t *testing.T) {
	s, err := NewSparse(sampleShape(), []Triplet{{Row: 1, Col: 1, Val: 0}})
	if err != nil {
		t.Fatalf("NewSparse failed: %v", err)
	}
	if s.NNZ() != 0 {
		t.Errorf("NNZ = %d, want 0", s.NNZ())
	}
}

func TestDenseSetOutOfRange(t *testing.T) {
	d := NewDense(sampleShape())
	if err := d.Set(0, 0, 2, 1); err == nil {
		t.Error("expected state range error")
	}
	if err := d.Set(-1, 0, 0, 1); err == nil {
		t.Error("expected source range error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := buildDense(t)
	c := d.Clone().(*Dense)
	_ = c.Set(1, 1, 1, 9)
	if d.At(1, 1, 1) != 0 {
		t.Error("mutating clone changed original")
	}
}

func TestEachNonZeroStop(t *testing.T) {
	n := 0
	err := buildDense(t).EachNonZero(func(Synapse) error {
		n++
		return ErrStop
	})
	if err != nil || n != 1 {
		t.Errorf("got n=%d err=%v, want 1 and nil", n, err)
	}
}

func TestEachNonZeroWrappedStop(t *testing.T) {
	dense := buildDense(t)
	sources := map[string]Source{"dense": dense, "sparse": ToSparse(dense)}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			n := 0
			err := src.EachNonZero(func(Synapse) error {
				n++
				return fmt.Errorf("enough: %w", ErrStop)
			})
			if err != nil || n != 1 {
				t.Errorf("got n=%d err=%v, want 1 and nil", n, err)
			}
		})
	}
}

func TestEmpty(t *testing.T) {
	e := Empty(sampleShape())
	if e.NNZ() != 0 || len(Collect(e)) != 0 {
		t.Error("Empty table has entries")
	}
}
