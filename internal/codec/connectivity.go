package codec

import (
	"fmt"
	"io"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/connectivity"
)

// EncodePtrTable writes a core's pointer table as a nonzero count followed
// by (source, destination unit, destination state, pointer) quadruples, all
// uint64. It returns the number of entries written.
func EncodePtrTable(w io.Writer, src connectivity.Source) (int, error) {
	enc := binpack.NewEncoder(w)
	nnz := src.NNZ()
	enc.U64(uint64(nnz))
	written := 0
	err := src.EachNonZero(func(s connectivity.Synapse) error {
		enc.U64s([]uint64{s.Src, s.DstUnit, s.DstState, s.Ptr})
		written++
		return enc.Err()
	})
	if err == nil {
		err = enc.Err()
	}
	if err == nil && written != nnz {
		err = fmt.Errorf("source reported %d nonzeros but yielded %d", nnz, written)
	}
	if err != nil {
		return 0, fmt.Errorf("encoding pointer table: %w", err)
	}
	return written, nil
}

// DecodePtrTable reads a pointer table file.
func DecodePtrTable(r io.Reader) ([]connectivity.Synapse, error) {
	dec := binpack.NewDecoder(r, "ptr_table")
	n := count(dec, dec.U64())
	out := make([]connectivity.Synapse, 0, min(n, 1<<16))
	for i := 0; i < n && dec.Err() == nil; i++ {
		v := dec.U64s(4)
		if dec.Err() != nil {
			break
		}
		if v[3] == 0 {
			dec.Mismatch("entry %d has a zero pointer", i)
			break
		}
		out = append(out, connectivity.Synapse{Src: v[0], DstUnit: v[1], DstState: v[2], Ptr: v[3]})
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeWgtTable writes a core's weight table as a flat int32 array.
func EncodeWgtTable(w io.Writer, table []int32) error {
	enc := binpack.NewEncoder(w)
	enc.I32s(table)
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding weight table: %w", err)
	}
	return nil
}

// DecodeWgtTable reads a flat int32 weight table. The simulator's shared
// memory dump uses the same layout.
func DecodeWgtTable(r io.Reader) ([]int32, error) {
	dec := binpack.NewDecoder(r, "wgt_table")
	out := dec.I32sUntilEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
