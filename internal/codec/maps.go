package codec

import (
	"fmt"
	"io"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/model"
)

// EncodeNMap writes every core's neuron-to-group map back to back.
func EncodeNMap(w io.Writer, cores []*model.CoreConfig) error {
	enc := binpack.NewEncoder(w)
	for _, c := range cores {
		enc.I32s(c.NMap)
	}
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding neuron group map: %w", err)
	}
	return nil
}

// EncodeLrnMap writes every core's learning map unrolled to one entry per
// (neuron, state), the granularity the simulator indexes learning
// parameters at.
func EncodeLrnMap(w io.Writer, cores []*model.CoreConfig) error {
	enc := binpack.NewEncoder(w)
	for _, c := range cores {
		enc.I32s(c.UnrolledLrnMap())
	}
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding learning group map: %w", err)
	}
	return nil
}

// DecodeNMap splits a neuron group map file by per-core neuron counts.
func DecodeNMap(r io.Reader, neurons []int) ([][]int32, error) {
	dec := binpack.NewDecoder(r, "nsat_params_map")
	out := make([][]int32, len(neurons))
	for p, n := range neurons {
		out[p] = dec.I32s(n)
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeLrnMap splits an unrolled learning map file into per-core
// neurons × states matrices.
func DecodeLrnMap(r io.Reader, neurons, states []int) ([][][]int32, error) {
	if len(neurons) != len(states) {
		return nil, fmt.Errorf("decoding learning group map: %d neuron counts, %d state counts", len(neurons), len(states))
	}
	dec := binpack.NewDecoder(r, "lrn_params_map")
	out := make([][][]int32, len(neurons))
	for p := range neurons {
		out[p] = make([][]int32, 0, neurons[p])
		for i := 0; i < neurons[p] && dec.Err() == nil; i++ {
			out[p] = append(out[p], dec.I32s(states[p]))
		}
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
