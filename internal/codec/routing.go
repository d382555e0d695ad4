package codec

import (
	"fmt"
	"io"
	"math"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/model"
)

// Route is one decoded routing record.
type Route struct {
	Src  model.Unit
	Dsts []model.Unit
}

// EncodeL1 writes the inter-core routing table: an int32 source count, then
// per source (ascending by core, unit) the source core (uint32), source unit
// (uint64) and destination count (uint64), followed by each destination's
// core (uint32) and unit (uint64) in list order.
func EncodeL1(w io.Writer, l1 model.L1Connectivity) error {
	enc := binpack.NewEncoder(w)
	sources := l1.Sources()
	if len(sources) > math.MaxInt32 {
		return fmt.Errorf("encoding l1 connectivity: %d sources exceed int32", len(sources))
	}
	enc.I32(int32(len(sources)))
	for _, src := range sources {
		dsts := l1[src]
		encodeUnit(enc, src)
		enc.U64(uint64(len(dsts)))
		for _, d := range dsts {
			encodeUnit(enc, d)
		}
	}
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding l1 connectivity: %w", err)
	}
	return nil
}

func encodeUnit(enc *binpack.Encoder, u model.Unit) {
	binpack.Ints(enc, binpack.Uint32, []int{u.Core})
	enc.U64(u.ID)
}

func decodeUnit(dec *binpack.Decoder) model.Unit {
	core := dec.U32()
	return model.Unit{Core: int(core), ID: dec.U64()}
}

// DecodeL1 reads a routing file, preserving record order.
func DecodeL1(r io.Reader) ([]Route, error) {
	dec := binpack.NewDecoder(r, "l1_conn")
	n := dec.I32()
	if dec.Err() == nil && n < 0 {
		dec.Mismatch("negative source count %d", n)
	}
	var routes []Route
	for i := 0; i < int(n) && dec.Err() == nil; i++ {
		rt := Route{Src: decodeUnit(dec)}
		nd := count(dec, dec.U64())
		for j := 0; j < nd && dec.Err() == nil; j++ {
			rt.Dsts = append(rt.Dsts, decodeUnit(dec))
		}
		routes = append(routes, rt)
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return routes, nil
}

// RoutesToL1 rebuilds the routing map from decoded records.
func RoutesToL1(routes []Route) model.L1Connectivity {
	l1 := make(model.L1Connectivity, len(routes))
	for _, rt := range routes {
		l1[rt.Src] = append(l1[rt.Src], rt.Dsts...)
	}
	return l1
}
