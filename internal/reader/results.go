package reader

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/events"
)

// StateRecord is one sample of the state monitor: the tick and, per
// recorded neuron, its state vector.
type StateRecord struct {
	Time int32     `json:"time"`
	X    [][]int32 `json:"x"`
}

// WeightRecord is one entry of the online weight monitor.
type WeightRecord struct {
	Time  uint64 `json:"time"`
	Src   uint64 `json:"src"`
	Dst   uint64 `json:"dst"`
	State uint32 `json:"state"`
	W     int32  `json:"w"`
}

// weightRecordSize is the on-disk width of a WeightRecord.
const weightRecordSize = 8 + 8 + 8 + 4 + 4

// FinalWeight is one synapse of the final weight dump. For synapses from
// external inputs W holds the weight table address instead of the value.
type FinalWeight struct {
	Src   int32 `json:"src"`
	Dst   int32 `json:"dst"`
	State int32 `json:"state"`
	W     int32 `json:"w"`
}

// CoreStats holds the per-unit spike counters of one core.
type CoreStats struct {
	Core   uint64   `json:"core"`
	Counts []uint64 `json:"counts"`
}

// readSized reads all of r and checks that its length is a multiple of
// record. what names the file kind in errors.
func readSized(r io.Reader, what string, record int) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", what, err)
	}
	if record > 0 && len(data)%record != 0 {
		return nil, &binpack.FormatMismatchError{
			What:   what,
			Offset: int64(len(data)),
			Detail: fmt.Sprintf("size %d is not a multiple of the %d-byte record", len(data), record),
		}
	}
	return data, nil
}

// DecodeStates reads a state monitor file of nRec recorded neurons with
// nStates states each.
func DecodeStates(r io.Reader, nRec, nStates int) ([]StateRecord, error) {
	if nRec < 0 || nStates <= 0 {
		return nil, fmt.Errorf("decoding states: invalid shape %d x %d", nRec, nStates)
	}
	record := 4 * (1 + nRec*nStates)
	data, err := readSized(r, "states", record)
	if err != nil {
		return nil, err
	}
	dec := binpack.NewDecoder(bytes.NewReader(data), "states")
	out := make([]StateRecord, 0, len(data)/record)
	for range len(data) / record {
		rec := StateRecord{Time: dec.I32(), X: make([][]int32, nRec)}
		for j := range rec.X {
			rec.X[j] = dec.I32s(nStates)
		}
		out = append(out, rec)
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeWeights reads an online weight monitor file.
func DecodeWeights(r io.Reader) ([]WeightRecord, error) {
	data, err := readSized(r, "weights", weightRecordSize)
	if err != nil {
		return nil, err
	}
	dec := binpack.NewDecoder(bytes.NewReader(data), "weights")
	out := make([]WeightRecord, len(data)/weightRecordSize)
	for i := range out {
		out[i] = WeightRecord{
			Time:  dec.U64(),
			Src:   dec.U64(),
			Dst:   dec.U64(),
			State: dec.U32(),
			W:     dec.I32(),
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeFinalWeights reads a final weight dump: an int32 count followed by
// that many (src, dst, state, w) int32 quads.
func DecodeFinalWeights(r io.Reader) ([]FinalWeight, error) {
	dec := binpack.NewDecoder(r, "weights_final")
	n := dec.I32()
	if dec.Err() == nil && n < 0 {
		dec.Mismatch("negative synapse count %d", n)
	}
	var out []FinalWeight
	for i := int32(0); i < n && dec.Err() == nil; i++ {
		q := dec.I32s(4)
		if dec.Err() != nil {
			break
		}
		out = append(out, FinalWeight{Src: q[0], Dst: q[1], State: q[2], W: q[3]})
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeSharedMem reads a core's final weight table. It has the layout of a
// weight table file and can be written back as one.
func DecodeSharedMem(r io.Reader) ([]int32, error) {
	data, err := readSized(r, "shared_mem", 4)
	if err != nil {
		return nil, err
	}
	dec := binpack.NewDecoder(bytes.NewReader(data), "shared_mem")
	out := dec.I32s(len(data) / 4)
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeSpikes reads a spike log: L uint64 addresses followed by L uint64
// times.
func DecodeSpikes(r io.Reader) (events.Stream, error) {
	data, err := readSized(r, "events", 16)
	if err != nil {
		return nil, err
	}
	n := len(data) / 16
	dec := binpack.NewDecoder(bytes.NewReader(data), "events")
	addrs := dec.U64s(n)
	times := dec.U64s(n)
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return events.Build(times, addrs)
}

// DecodeStats reads a spike statistics file. counts gives the number of
// units recorded for each core, in core order.
func DecodeStats(r io.Reader, what string, counts []int) ([]CoreStats, error) {
	dec := binpack.NewDecoder(r, what)
	out := make([]CoreStats, 0, len(counts))
	for p, n := range counts {
		cs := CoreStats{Core: dec.U64(), Counts: make([]uint64, 0, min(n, 1<<16))}
		if dec.Err() == nil && cs.Core != uint64(p) {
			dec.Mismatch("expected core %d, found %d", p, cs.Core)
		}
		for j := 0; j < n && dec.Err() == nil; j++ {
			id := dec.U64()
			c := dec.U64()
			if dec.Err() == nil && id != uint64(j) {
				dec.Mismatch("core %d: expected unit %d, found %d", p, j, id)
			}
			cs.Counts = append(cs.Counts, c)
		}
		if dec.Err() != nil {
			break
		}
		out = append(out, cs)
	}
	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
