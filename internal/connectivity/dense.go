package connectivity

import "errors"

// Dense is a pointer table stored as a flat source × unit × state array.
type Dense struct {
	shape Shape
	data  []uint64
}

// NewDense returns a zeroed dense table.
func NewDense(shape Shape) *Dense {
	return &Dense{shape: shape, data: make([]uint64, shape.Units*shape.Units*shape.States)}
}

func (d *Dense) index(src, unit, state int) int {
	return (src*d.shape.Units+unit)*d.shape.States + state
}

// Set stores a pointer value. A zero ptr removes the connection.
func (d *Dense) Set(src, unit, state int, ptr uint64) error {
	if err := checkCoord(d.shape, src, unit, state); err != nil {
		return err
	}
	d.data[d.index(src, unit, state)] = ptr
	return nil
}

// At returns the pointer value at a coordinate.
func (d *Dense) At(src, unit, state int) uint64 {
	return d.data[d.index(src, unit, state)]
}

// Shape returns the dimensions the matrix was created with.
func (d *Dense) Shape() Shape { return d.shape }

// NNZ counts the non-zero pointers.
func (d *Dense) NNZ() int {
	n := 0
	for _, v := range d.data {
		if v != 0 {
			n++
		}
	}
	return n
}

// EachNonZero visits non-zero entries in (src, state, unit) order.
func (d *Dense) EachNonZero(fn func(Synapse) error) error {
	for src := 0; src < d.shape.Units; src++ {
		for state := 0; state < d.shape.States; state++ {
			for unit := 0; unit < d.shape.Units; unit++ {
				v := d.data[d.index(src, unit, state)]
				if v == 0 {
					continue
				}
				err := fn(Synapse{Src: uint64(src), DstUnit: uint64(unit), DstState: uint64(state), Ptr: v})
				if errors.Is(err, ErrStop) {
					return nil
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Dense) Clone() Source {
	data := make([]uint64, len(d.data))
	copy(data, d.data)
	return &Dense{shape: d.shape, data: data}
}
