// Package writer serializes a validated model.Configuration into the file
// set the simulator reads.
package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nvandessel/nsatio/internal/codec"
	"github.com/nvandessel/nsatio/internal/events"
	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/model"
	"github.com/nvandessel/nsatio/internal/pathutil"
)

// Options selects which stages Write runs.
type Options struct {
	// CoreConfigs writes _params.dat and the two group-map files.
	CoreConfigs bool
	// Weights writes the pointer and weight tables of every core and the
	// L1 routing table. Disable it when the tables come from a previous run.
	Weights bool
	// Events writes the external event streams, if the configuration has any.
	Events bool
	// SingleStream writes one combined _ext_events.dat instead of one file
	// per core.
	SingleStream bool
	// ChannelShift splits single-stream addresses into (channel, unit).
	ChannelShift uint
}

// DefaultOptions runs every stage in per-core event mode.
func DefaultOptions() Options {
	return Options{
		CoreConfigs:  true,
		Weights:      true,
		Events:       true,
		ChannelShift: events.DefaultChannelShift,
	}
}

// File is one written file.
type File struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Result describes what Write produced.
type Result struct {
	Files []File `json:"files"`
	// EventStats is keyed by core; the single stream uses key -1.
	EventStats map[int]codec.StreamStats `json:"event_stats,omitempty"`
	// Synapses is the nonzero pointer count written per core.
	Synapses []int `json:"synapses,omitempty"`
}

// Writer owns one configuration and the file set it is written to.
type Writer struct {
	cfg        *model.Configuration
	files      fileset.FileSet
	logger     *slog.Logger
	createdDir bool
}

// New prepares a writer for dir/prefix. The configuration is re-validated so
// that no byte is written for an invalid model. A missing dir is created and
// a warning is logged.
func New(cfg *model.Configuration, dir, prefix string, logger *slog.Logger) (*Writer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("writer: nil configuration")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	created, err := pathutil.EnsureDir(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Writer{
		cfg:        cfg,
		files:      fileset.New(dir, prefix, cfg.Global.NCores),
		logger:     logger,
		createdDir: created,
	}, nil
}

// CreatedDir reports whether New had to create the output directory.
func (w *Writer) CreatedDir() bool { return w.createdDir }

// FileSet returns the names the writer uses.
func (w *Writer) FileSet() fileset.FileSet { return w.files }

// Write runs the selected stages in order: core configs, external events,
// connectivity. The context is checked between files.
func (w *Writer) Write(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	if opts.CoreConfigs {
		if err := w.writeCoreConfigs(ctx, opts, res); err != nil {
			return res, err
		}
	}
	if opts.Events {
		if err := w.writeEvents(ctx, opts, res); err != nil {
			return res, err
		}
	}
	if opts.Weights {
		if err := w.writeConnectivity(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (w *Writer) writeCoreConfigs(ctx context.Context, opts Options, res *Result) error {
	cfg := w.cfg
	if opts.SingleStream && cfg.ExtEventData != nil {
		// The simulator reads the combined stream only when core 0 has
		// external events on, so every core is flagged.
		view := *cfg
		view.Global = cfg.Global.Clone()
		for p := range view.Global.ExtEvents {
			view.Global.ExtEvents[p] = true
		}
		cfg = &view
	}
	steps := []struct {
		path   string
		encode func(io.Writer) error
	}{
		{w.files.Params(), func(out io.Writer) error { return codec.EncodeParams(out, cfg) }},
		{w.files.NMap(), func(out io.Writer) error { return codec.EncodeNMap(out, cfg.Cores) }},
		{w.files.LrnMap(), func(out io.Writer) error { return codec.EncodeLrnMap(out, cfg.Cores) }},
	}
	for _, s := range steps {
		if err := w.writeFile(ctx, res, s.path, s.encode); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeEvents(ctx context.Context, opts Options, res *Result) error {
	data := w.cfg.ExtEventData
	if data == nil {
		w.logger.Debug("no external events, skipping event stage")
		return nil
	}
	ticks := w.cfg.Global.SimTicks
	res.EventStats = make(map[int]codec.StreamStats)

	if opts.SingleStream {
		// The channel field of the combined stream is the destination core.
		channels := make([]events.Stream, w.cfg.Global.NCores)
		for _, p := range data.Cores() {
			if p < 0 || p >= len(channels) {
				return fmt.Errorf("external events for core %d outside 0..%d", p, len(channels)-1)
			}
			channels[p] = data[p]
		}
		all, err := events.ExportAER(channels, opts.ChannelShift)
		if err != nil {
			return err
		}
		return w.writeFile(ctx, res, w.files.ExtEvents(), func(out io.Writer) error {
			st, err := codec.EncodeSingleStream(out, all, ticks, opts.ChannelShift)
			res.EventStats[-1] = st
			return err
		})
	}

	for _, p := range data.Cores() {
		stream := data[p]
		core := p
		err := w.writeFile(ctx, res, w.files.ExtEventsCore(p), func(out io.Writer) error {
			st, err := codec.EncodeEventStream(out, stream, ticks)
			res.EventStats[core] = st
			return err
		})
		if err != nil {
			return err
		}
		if st := res.EventStats[core]; st.Dropped > 0 {
			w.logger.Debug("dropped events outside simulation window",
				"core", core, "dropped", st.Dropped, "sim_ticks", ticks)
		}
	}
	return nil
}

func (w *Writer) writeConnectivity(ctx context.Context, res *Result) error {
	res.Synapses = make([]int, len(w.cfg.Cores))
	for p, core := range w.cfg.Cores {
		err := w.writeFile(ctx, res, w.files.PtrTable(p), func(out io.Writer) error {
			n, err := codec.EncodePtrTable(out, core.PtrTable)
			res.Synapses[p] = n
			return err
		})
		if err != nil {
			return err
		}
		err = w.writeFile(ctx, res, w.files.WgtTable(p), func(out io.Writer) error {
			return codec.EncodeWgtTable(out, core.WgtTable)
		})
		if err != nil {
			return err
		}
	}
	return w.writeFile(ctx, res, w.files.L1Conn(), func(out io.Writer) error {
		return codec.EncodeL1(out, w.cfg.L1)
	})
}

// writeFile creates path, runs encode over a buffered writer and records
// the result. A failed encode removes the partial file.
func (w *Writer) writeFile(ctx context.Context, res *Result, path string, encode func(io.Writer) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", pathutil.RedactPath(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", pathutil.RedactPath(path), cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	cw := &countingWriter{w: f}
	bw := bufio.NewWriter(cw)
	if err := encode(bw); err != nil {
		return fmt.Errorf("writing %s: %w", pathutil.RedactPath(path), err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", pathutil.RedactPath(path), err)
	}
	res.Files = append(res.Files, File{Path: path, Bytes: cw.n})
	w.logger.Debug("wrote file", "path", pathutil.RedactPath(path), "bytes", cw.n)
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
