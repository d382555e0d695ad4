package writer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/nsatio/internal/codec"
	"github.com/nvandessel/nsatio/internal/connectivity"
	"github.com/nvandessel/nsatio/internal/events"
	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/model"
)

func twoCoreConfig(t *testing.T, ext events.Data) *model.Configuration {
	t.Helper()
	g := model.NewGlobalConfig(2, 20)
	cores := []*model.CoreConfig{
		model.NewCoreConfig(2, 3, 2, 1, 0),
		model.NewCoreConfig(1, 2, 1, 1, 0),
	}
	dense := connectivity.NewDense(cores[0].Shape())
	if err := dense.Set(0, 2, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := dense.Set(1, 3, 1, 2); err != nil {
		t.Fatal(err)
	}
	cores[0].PtrTable = dense
	cores[0].WgtTable = []int32{0, 25, -7}
	l1 := model.L1Connectivity{
		{Core: 0, ID: 4}: {{Core: 1, ID: 0}},
	}
	cfg, err := model.New(g, cores, l1, ext)
	if err != nil {
		t.Fatalf("model.New failed: %v", err)
	}
	return cfg
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return b
}

func TestWriteAllStages(t *testing.T) {
	ext := events.Data{0: {{Time: 3, Addr: 0}, {Time: 1, Addr: 1}}}
	cfg := twoCoreConfig(t, ext)
	dir := t.TempDir()

	w, err := New(cfg, dir, "test", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := w.Write(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	fs := fileset.New(dir, "test", 2)
	want := []string{
		fs.Params(), fs.NMap(), fs.LrnMap(), fs.ExtEventsCore(0),
		fs.PtrTable(0), fs.WgtTable(0), fs.PtrTable(1), fs.WgtTable(1), fs.L1Conn(),
	}
	if len(res.Files) != len(want) {
		t.Fatalf("wrote %d files, want %d", len(res.Files), len(want))
	}
	for i, f := range res.Files {
		if f.Path != want[i] {
			t.Errorf("file %d = %s, want %s", i, f.Path, want[i])
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Size() != f.Bytes {
			t.Errorf("%s: recorded %d bytes, file has %d", f.Path, f.Bytes, info.Size())
		}
	}
	if _, err := os.Stat(fs.ExtEventsCore(1)); !os.IsNotExist(err) {
		t.Error("core without events should have no event file")
	}

	if res.Synapses[0] != 2 || res.Synapses[1] != 0 {
		t.Errorf("synapses = %v", res.Synapses)
	}
	// 2 nonzeros: count plus 2 quads.
	if n := len(readAll(t, fs.PtrTable(0))); n != 8+2*32 {
		t.Errorf("ptr table size = %d", n)
	}
	if n := len(readAll(t, fs.WgtTable(0))); n != 12 {
		t.Errorf("wgt table size = %d", n)
	}
	// One source: count, src (4+8), n_dst (8), one dst (4+8).
	if n := len(readAll(t, fs.L1Conn())); n != 4+12+8+12 {
		t.Errorf("l1 size = %d", n)
	}
	st := res.EventStats[0]
	if st.Ticks != 19 || st.Events != 2 || st.Dropped != 0 {
		t.Errorf("event stats = %+v", st)
	}
}

func TestWriteWithoutEventsWritesNoEventFiles(t *testing.T) {
	cfg := twoCoreConfig(t, nil)
	dir := t.TempDir()
	w, err := New(cfg, dir, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	res, err := w.Write(context.Background(), opts)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.EventStats != nil {
		t.Errorf("event stats = %v", res.EventStats)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*ext_events*"))
	if len(matches) != 0 {
		t.Errorf("unexpected event files %v", matches)
	}

	opts.SingleStream = true
	if _, err := w.Write(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	matches, _ = filepath.Glob(filepath.Join(dir, "*ext_events*"))
	if len(matches) != 0 {
		t.Errorf("unexpected event files %v", matches)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	ext := events.Data{
		0: {{Time: 2, Addr: 1}, {Time: 2, Addr: 0}, {Time: 1, Addr: 1}},
		1: {{Time: 5, Addr: 0}},
	}
	cfg := twoCoreConfig(t, ext)
	var dirs [2]string
	for i := range dirs {
		dirs[i] = t.TempDir()
		w, err := New(cfg, dirs[i], "run", nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(context.Background(), DefaultOptions()); err != nil {
			t.Fatal(err)
		}
	}
	a := fileset.New(dirs[0], "run", 2)
	b := fileset.New(dirs[1], "run", 2)
	pa, pb := a.Inputs(), b.Inputs()
	for i := range pa {
		_, errA := os.Stat(pa[i])
		_, errB := os.Stat(pb[i])
		if (errA == nil) != (errB == nil) {
			t.Fatalf("%s exists in only one run", filepath.Base(pa[i]))
		}
		if errA != nil {
			continue
		}
		if !bytes.Equal(readAll(t, pa[i]), readAll(t, pb[i])) {
			t.Errorf("%s differs between runs", filepath.Base(pa[i]))
		}
	}
}

func TestNewCreatesMissingDirWithWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	dir := filepath.Join(t.TempDir(), "missing", "out")

	w, err := New(twoCoreConfig(t, nil), dir, "p", logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !w.CreatedDir() {
		t.Error("CreatedDir() = false")
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected warning, got %q", buf.String())
	}
	if _, err := w.Write(context.Background(), Options{CoreConfigs: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "p_params.dat")); err != nil {
		t.Errorf("params not written: %v", err)
	}
}

func TestSingleStream(t *testing.T) {
	shift := uint(events.DefaultChannelShift)
	ext := events.Data{
		0: {{Time: 1, Addr: 1}},
		1: {{Time: 1, Addr: 0}, {Time: 3, Addr: 1}},
	}
	cfg := twoCoreConfig(t, ext)
	dir := t.TempDir()
	w, err := New(cfg, dir, "s", nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Events: true, SingleStream: true, ChannelShift: shift}
	res, err := w.Write(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 || res.Files[0].Path != w.FileSet().ExtEvents() {
		t.Fatalf("files = %+v", res.Files)
	}
	if st := res.EventStats[-1]; st.Events != 3 {
		t.Errorf("stats = %+v", st)
	}
	// 19 tick headers plus three (channel, unit) pairs.
	if n := len(readAll(t, res.Files[0].Path)); n != (19*2+3*2)*8 {
		t.Errorf("size = %d", n)
	}

	f, err := os.Open(res.Files[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := codec.DecodeEventStream(f, true)
	if err != nil {
		t.Fatalf("DecodeEventStream: %v", err)
	}
	type hit struct {
		tick, ch, unit uint64
	}
	var got []hit
	for _, r := range recs {
		for i := range r.Addrs {
			got = append(got, hit{r.Tick, r.Channels[i], r.Addrs[i]})
		}
	}
	want := []hit{{1, 0, 1}, {1, 1, 0}, {3, 1, 1}}
	if len(got) != len(want) {
		t.Fatalf("decoded events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v (channel is the core)", i, got[i], want[i])
		}
	}
}

func TestSingleStreamFlagsEveryCore(t *testing.T) {
	// Only core 1 has input; core 0 still needs ext_evts for the combined file.
	cfg := twoCoreConfig(t, events.Data{1: {{Time: 2, Addr: 0}}})
	if cfg.Global.ExtEvents[0] {
		t.Fatal("precondition: core 0 should start without external events")
	}
	dir := t.TempDir()
	w, err := New(cfg, dir, "s", nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.SingleStream = true
	if _, err := w.Write(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	params, err := codec.DecodeParams(bytes.NewReader(readAll(t, w.FileSet().Params())))
	if err != nil {
		t.Fatal(err)
	}
	for p, c := range params.Cores {
		if !c.ExtEvents {
			t.Errorf("core %d ext_evts = false, want true in single-stream mode", p)
		}
	}
	if cfg.Global.ExtEvents[0] {
		t.Error("Write should not modify the caller's configuration")
	}

	// Per-core mode keeps the flags as configured.
	dir = t.TempDir()
	w, err = New(cfg, dir, "m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(context.Background(), DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	params, err = codec.DecodeParams(bytes.NewReader(readAll(t, w.FileSet().Params())))
	if err != nil {
		t.Fatal(err)
	}
	if params.Cores[0].ExtEvents || !params.Cores[1].ExtEvents {
		t.Errorf("per-core ext_evts = [%v %v], want [false true]", params.Cores[0].ExtEvents, params.Cores[1].ExtEvents)
	}
}

func TestSingleStreamRejectsWideAddress(t *testing.T) {
	shift := uint(events.DefaultChannelShift)
	cfg := twoCoreConfig(t, events.Data{1: {{Time: 2, Addr: events.AddrMask(shift) + 1}}})
	w, err := New(cfg, t.TempDir(), "s", nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Events: true, SingleStream: true, ChannelShift: shift}
	if _, err := w.Write(context.Background(), opts); err == nil {
		t.Error("address wider than the unit field should be rejected")
	}
}

func TestWriteHonorsCancellation(t *testing.T) {
	w, err := New(twoCoreConfig(t, nil), t.TempDir(), "c", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := w.Write(ctx, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(res.Files) != 0 {
		t.Errorf("files = %v", res.Files)
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg := twoCoreConfig(t, nil)
	cfg.Cores[0].NMap[0] = 9
	dir := filepath.Join(t.TempDir(), "never")
	_, err := New(cfg, dir, "x", nil)
	var inv *model.ConfigInvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("err = %v, want ConfigInvariantError", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("directory created for invalid configuration")
	}
}
