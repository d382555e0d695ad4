// Package export converts decoded simulator results into Apache Arrow IPC
// files so they can be loaded by dataframe tools without knowing the NSAT
// binary layouts. Every table is in long format with a leading core column.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/nvandessel/nsatio/internal/events"
	"github.com/nvandessel/nsatio/internal/reader"
)

// Table schemas.
var (
	SpikesSchema = arrow.NewSchema([]arrow.Field{
		{Name: "core", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "addr", Type: arrow.PrimitiveTypes.Uint64},
	}, nil)

	StatesSchema = arrow.NewSchema([]arrow.Field{
		{Name: "core", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "time", Type: arrow.PrimitiveTypes.Int32},
		{Name: "neuron", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "state", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "x", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	FinalWeightsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "core", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "src", Type: arrow.PrimitiveTypes.Int32},
		{Name: "dst", Type: arrow.PrimitiveTypes.Int32},
		{Name: "state", Type: arrow.PrimitiveTypes.Int32},
		{Name: "w", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	StatsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "core", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "unit", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "count", Type: arrow.PrimitiveTypes.Uint64},
	}, nil)
)

// Exporter writes Arrow IPC files.
type Exporter struct {
	mem memory.Allocator
}

// New returns an exporter using mem, or the default Go allocator when nil.
func New(mem memory.Allocator) *Exporter {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Exporter{mem: mem}
}

func sortedCores[V any](m map[int]V) []int {
	cores := make([]int, 0, len(m))
	for p := range m {
		cores = append(cores, p)
	}
	slices.Sort(cores)
	return cores
}

// writeTable builds one record with fill and writes it as an IPC file.
func (e *Exporter) writeTable(w io.Writer, schema *arrow.Schema, fill func(b *array.RecordBuilder)) (int64, error) {
	b := array.NewRecordBuilder(e.mem, schema)
	defer b.Release()
	fill(b)
	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(e.mem))
	if err != nil {
		return 0, fmt.Errorf("creating arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return 0, fmt.Errorf("writing arrow record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("closing arrow writer: %w", err)
	}
	return rec.NumRows(), nil
}

// Spikes writes one row per spike.
func (e *Exporter) Spikes(w io.Writer, spikes map[int]events.Stream) (int64, error) {
	return e.writeTable(w, SpikesSchema, func(b *array.RecordBuilder) {
		core := b.Field(0).(*array.Uint32Builder)
		tm := b.Field(1).(*array.Uint64Builder)
		addr := b.Field(2).(*array.Uint64Builder)
		for _, p := range sortedCores(spikes) {
			for _, ev := range spikes[p] {
				core.Append(uint32(p))
				tm.Append(ev.Time)
				addr.Append(ev.Addr)
			}
		}
	})
}

// States writes one row per (sample, neuron, state).
func (e *Exporter) States(w io.Writer, states map[int][]reader.StateRecord) (int64, error) {
	return e.writeTable(w, StatesSchema, func(b *array.RecordBuilder) {
		core := b.Field(0).(*array.Uint32Builder)
		tm := b.Field(1).(*array.Int32Builder)
		neuron := b.Field(2).(*array.Uint32Builder)
		state := b.Field(3).(*array.Uint32Builder)
		x := b.Field(4).(*array.Int32Builder)
		for _, p := range sortedCores(states) {
			for _, rec := range states[p] {
				for j, vec := range rec.X {
					for k, v := range vec {
						core.Append(uint32(p))
						tm.Append(rec.Time)
						neuron.Append(uint32(j))
						state.Append(uint32(k))
						x.Append(v)
					}
				}
			}
		}
	})
}

// FinalWeights writes one row per synapse of the final weight dump.
func (e *Exporter) FinalWeights(w io.Writer, weights map[int][]reader.FinalWeight) (int64, error) {
	return e.writeTable(w, FinalWeightsSchema, func(b *array.RecordBuilder) {
		core := b.Field(0).(*array.Uint32Builder)
		src := b.Field(1).(*array.Int32Builder)
		dst := b.Field(2).(*array.Int32Builder)
		state := b.Field(3).(*array.Int32Builder)
		wv := b.Field(4).(*array.Int32Builder)
		for _, p := range sortedCores(weights) {
			for _, fw := range weights[p] {
				core.Append(uint32(p))
				src.Append(fw.Src)
				dst.Append(fw.Dst)
				state.Append(fw.State)
				wv.Append(fw.W)
			}
		}
	})
}

// Stats writes one row per unit counter; kind is "nsat" or "ext".
func (e *Exporter) Stats(w io.Writer, nsat, ext []reader.CoreStats) (int64, error) {
	return e.writeTable(w, StatsSchema, func(b *array.RecordBuilder) {
		core := b.Field(0).(*array.Uint32Builder)
		kind := b.Field(1).(*array.StringBuilder)
		unit := b.Field(2).(*array.Uint32Builder)
		count := b.Field(3).(*array.Uint64Builder)
		add := func(k string, stats []reader.CoreStats) {
			for _, cs := range stats {
				for j, c := range cs.Counts {
					core.Append(uint32(cs.Core))
					kind.Append(k)
					unit.Append(uint32(j))
					count.Append(c)
				}
			}
		}
		add("nsat", nsat)
		add("ext", ext)
	})
}

// CountRows returns the total row count of an Arrow IPC file.
func CountRows(r ipc.ReadAtSeeker, mem memory.Allocator) (int64, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return 0, fmt.Errorf("opening arrow file: %w", err)
	}
	defer fr.Close()

	var n int64
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return 0, fmt.Errorf("reading arrow record %d: %w", i, err)
		}
		n += rec.NumRows()
	}
	return n, nil
}

// Table is one exported file.
type Table struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Rows int64  `json:"rows"`
}

// Run exports every result file the run produced into outDir as
// spikes.arrow, states.arrow, weights_final.arrow and stats.arrow. Result
// kinds with no file on disk are skipped.
func (e *Exporter) Run(rd *reader.Reader, outDir string) ([]Table, error) {
	params, err := rd.Params()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	n := len(params.Cores)
	var tables []Table

	spikes := map[int]events.Stream{}
	states := map[int][]reader.StateRecord{}
	final := map[int][]reader.FinalWeight{}
	for p := range n {
		if s, err := rd.Spikes(p); err == nil {
			spikes[p] = s
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if s, err := rd.States(p, -1); err == nil {
			states[p] = s
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if f, err := rd.FinalWeights(p); err == nil {
			final[p] = f
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	emit := func(name string, write func(io.Writer) (int64, error)) error {
		path := filepath.Join(outDir, name+".arrow")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		rows, werr := write(f)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return werr
		}
		tables = append(tables, Table{Name: name, Path: path, Rows: rows})
		return nil
	}

	if len(spikes) > 0 {
		if err := emit("spikes", func(w io.Writer) (int64, error) { return e.Spikes(w, spikes) }); err != nil {
			return nil, err
		}
	}
	if len(states) > 0 {
		if err := emit("states", func(w io.Writer) (int64, error) { return e.States(w, states) }); err != nil {
			return nil, err
		}
	}
	if len(final) > 0 {
		if err := emit("weights_final", func(w io.Writer) (int64, error) { return e.FinalWeights(w, final) }); err != nil {
			return nil, err
		}
	}

	nsat, nerr := rd.StatsNSAT()
	ext, xerr := rd.StatsExt()
	for _, err := range []error{nerr, xerr} {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if len(nsat) > 0 || len(ext) > 0 {
		if err := emit("stats", func(w io.Writer) (int64, error) { return e.Stats(w, nsat, ext) }); err != nil {
			return nil, err
		}
	}
	return tables, nil
}
