// Package reader parses the files of a run back into memory: the result
// files the simulator produces and, for inspection, the files the writer
// produced. Every decoder is also exposed over io.Reader.
package reader

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nvandessel/nsatio/internal/codec"
	"github.com/nvandessel/nsatio/internal/connectivity"
	"github.com/nvandessel/nsatio/internal/events"
	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/pathutil"
)

// Reader opens files of one file set.
type Reader struct {
	files  fileset.FileSet
	logger *slog.Logger
	params *codec.Params
}

// New returns a reader for files.
func New(files fileset.FileSet, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reader{files: files, logger: logger}
}

// FileSet returns the names the reader opens.
func (r *Reader) FileSet() fileset.FileSet { return r.files }

func decodeFile[T any](r *Reader, path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", pathutil.RedactPath(path), err)
	}
	defer f.Close()
	v, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", pathutil.RedactPath(path), err)
	}
	r.logger.Debug("read file", "path", pathutil.RedactPath(path))
	return v, nil
}

// Params decodes the params file. The result is cached: later calls that
// need core shapes reuse it.
func (r *Reader) Params() (*codec.Params, error) {
	if r.params != nil {
		return r.params, nil
	}
	p, err := decodeFile(r, r.files.Params(), codec.DecodeParams)
	if err != nil {
		return nil, err
	}
	r.params = p
	return p, nil
}

func (r *Reader) core(p int) (*codec.CoreParams, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}
	if p < 0 || p >= len(params.Cores) {
		return nil, fmt.Errorf("core %d out of range [0, %d)", p, len(params.Cores))
	}
	return &params.Cores[p], nil
}

// NMap decodes the neuron group map of every core.
func (r *Reader) NMap() ([][]int32, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}
	neurons := make([]int, len(params.Cores))
	for p, c := range params.Cores {
		neurons[p] = int(c.NNeurons)
	}
	return decodeFile(r, r.files.NMap(), func(f io.Reader) ([][]int32, error) {
		return codec.DecodeNMap(f, neurons)
	})
}

// LrnMap decodes the unrolled learning group map of every core.
func (r *Reader) LrnMap() ([][][]int32, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}
	neurons := make([]int, len(params.Cores))
	states := make([]int, len(params.Cores))
	for p, c := range params.Cores {
		neurons[p] = int(c.NNeurons)
		states[p] = int(c.NStates)
	}
	return decodeFile(r, r.files.LrnMap(), func(f io.Reader) ([][][]int32, error) {
		return codec.DecodeLrnMap(f, neurons, states)
	})
}

// PtrTable decodes core p's pointer table.
func (r *Reader) PtrTable(p int) ([]connectivity.Synapse, error) {
	return decodeFile(r, r.files.PtrTable(p), codec.DecodePtrTable)
}

// WgtTable decodes core p's weight table.
func (r *Reader) WgtTable(p int) ([]int32, error) {
	return decodeFile(r, r.files.WgtTable(p), codec.DecodeWgtTable)
}

// L1 decodes the inter-core routing table.
func (r *Reader) L1() ([]codec.Route, error) {
	return decodeFile(r, r.files.L1Conn(), codec.DecodeL1)
}

// ExtEvents decodes core p's external event stream.
func (r *Reader) ExtEvents(p int) ([]codec.TickRecord, error) {
	return decodeFile(r, r.files.ExtEventsCore(p), func(f io.Reader) ([]codec.TickRecord, error) {
		return codec.DecodeEventStream(f, false)
	})
}

// SingleStream decodes the combined external event stream.
func (r *Reader) SingleStream() ([]codec.TickRecord, error) {
	return decodeFile(r, r.files.ExtEvents(), func(f io.Reader) ([]codec.TickRecord, error) {
		return codec.DecodeEventStream(f, true)
	})
}

// States decodes core p's state monitor. nRec is the number of recorded
// neurons; pass a negative value to record every neuron of the core.
func (r *Reader) States(p, nRec int) ([]StateRecord, error) {
	c, err := r.core(p)
	if err != nil {
		return nil, err
	}
	if nRec < 0 {
		nRec = int(c.NNeurons)
	}
	nStates := int(c.NStates)
	return decodeFile(r, r.files.States(p), func(f io.Reader) ([]StateRecord, error) {
		return DecodeStates(f, nRec, nStates)
	})
}

// Weights decodes core p's online weight monitor.
func (r *Reader) Weights(p int) ([]WeightRecord, error) {
	return decodeFile(r, r.files.Weights(p), DecodeWeights)
}

// FinalWeights decodes core p's final weight dump.
func (r *Reader) FinalWeights(p int) ([]FinalWeight, error) {
	return decodeFile(r, r.files.WeightsFinal(p), DecodeFinalWeights)
}

// SharedMem decodes core p's final weight table.
func (r *Reader) SharedMem(p int) ([]int32, error) {
	return decodeFile(r, r.files.SharedMem(p), DecodeSharedMem)
}

// Spikes decodes core p's spike log.
func (r *Reader) Spikes(p int) (events.Stream, error) {
	return decodeFile(r, r.files.Events(p), DecodeSpikes)
}

// StatsNSAT decodes the per-neuron spike counters of every core.
func (r *Reader) StatsNSAT() ([]CoreStats, error) {
	return r.stats(r.files.StatsNSAT(), "stats_nsat", func(c codec.CoreParams) int { return int(c.NNeurons) })
}

// StatsExt decodes the per-input spike counters of every core.
func (r *Reader) StatsExt() ([]CoreStats, error) {
	return r.stats(r.files.StatsExt(), "stats_ext", func(c codec.CoreParams) int { return int(c.NInputs) })
}

func (r *Reader) stats(path, what string, units func(codec.CoreParams) int) ([]CoreStats, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}
	counts := make([]int, len(params.Cores))
	for p, c := range params.Cores {
		counts[p] = units(c)
	}
	return decodeFile(r, path, func(f io.Reader) ([]CoreStats, error) {
		return DecodeStats(f, what, counts)
	})
}
