package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const testNetwork = `
sim_ticks: 20
monitors:
  spikes: true
cores:
  - inputs: 2
    neurons: 1
    states: 1
    weights: [0, 10, -10]
    synapses:
      - {src: 0, dst: 2, state: 0, ptr: 1}
      - {src: 1, dst: 2, state: 0, ptr: 2}
  - inputs: 1
    neurons: 1
    states: 1
routes:
  - src: {core: 0, id: 2}
    dst: [{core: 1, id: 0}]
events:
  - core: 0
    times: [1, 2, 5]
    addrs: [0, 1, 0]
`

// isolateHome points HOME at a temp directory so config and catalog stay
// out of the real ~/.nsatio, and clears overrides from the environment.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, v := range []string{"NSATIO_SIMULATOR", "NSATIO_SIM_TIMEOUT", "NSATIO_RUNS_DIR",
		"NSATIO_CHANNEL_SHIFT", "NSATIO_CATALOG", "NSATIO_ARCHIVE_DIR", "NSATIO_LOG_LEVEL"} {
		t.Setenv(v, "")
	}
	return home
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustExecuteJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := execute(t, append(args, "--json")...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("%v: decoding output: %v\n%s", args, err, out)
	}
}

func writeNetwork(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "net.yaml")
	if err := os.WriteFile(path, []byte(testNetwork), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "write", "inspect", "read", "export", "run", "transfer", "runs", "config"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, flag := range []string{"json", "log-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing global flag --%s", flag)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output = %q", out)
	}

	var got map[string]string
	mustExecuteJSON(t, &got, "version")
	if got["version"] != version {
		t.Errorf("json version = %v", got)
	}
}

func TestCheckPrefix(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		prefix  string
		wantErr bool
	}{
		{"train", false},
		{"", false},
		{"../escape", true},
		{"sub/../../escape", true},
	}
	for _, tt := range tests {
		err := checkPrefix(dir, tt.prefix)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkPrefix(%q) error = %v, wantErr %v", tt.prefix, err, tt.wantErr)
		}
	}
}

func TestCommandsNeedARun(t *testing.T) {
	isolateHome(t)
	for _, args := range [][]string{
		{"inspect", "params"},
		{"read", "spikes"},
		{"export"},
		{"run"},
	} {
		if _, err := execute(t, args...); err == nil || !strings.Contains(err.Error(), "--dir") {
			t.Errorf("%v: err = %v, want missing --dir", args, err)
		}
	}
}

func TestInvalidLogLevel(t *testing.T) {
	isolateHome(t)
	if _, err := execute(t, "config", "list", "--log-level", "loud"); err == nil {
		t.Error("expected an invalid log level to fail")
	}
}

func TestWriteAndInspect(t *testing.T) {
	isolateHome(t)
	net := writeNetwork(t)
	dir := filepath.Join(t.TempDir(), "runs", "mlp")

	var written struct {
		RunID      string `json:"run_id"`
		CreatedDir bool   `json:"created_dir"`
		Files      []struct {
			Path  string `json:"path"`
			Bytes int64  `json:"bytes"`
		} `json:"files"`
		Synapses []int `json:"synapses"`
	}
	mustExecuteJSON(t, &written, "write", net, "--dir", dir, "--prefix", "train")
	if written.RunID == "" {
		t.Error("run should be recorded in the catalog")
	}
	if !written.CreatedDir {
		t.Error("missing directory should be reported as created")
	}
	if len(written.Synapses) != 2 || written.Synapses[0] != 2 || written.Synapses[1] != 0 {
		t.Errorf("synapses = %v", written.Synapses)
	}
	for _, f := range written.Files {
		if _, err := os.Stat(f.Path); err != nil {
			t.Errorf("written file missing: %v", err)
		}
	}

	var params struct {
		NCores         uint32
		RoutingEnabled bool
		SimTicks       uint64
	}
	mustExecuteJSON(t, &params, "inspect", "params", "--dir", dir, "--prefix", "train")
	if params.NCores != 2 || !params.RoutingEnabled || params.SimTicks != 20 {
		t.Errorf("params = %+v", params)
	}

	// The catalog ID resolves to the same run.
	mustExecuteJSON(t, &params, "inspect", "params", "--run", written.RunID)
	if params.NCores != 2 {
		t.Errorf("params by run ID = %+v", params)
	}

	var ptr []struct {
		Core     int     `json:"core"`
		Weights  []int32 `json:"weights"`
		Synapses []struct {
			Src uint64 `json:"src"`
			Dst uint64 `json:"dst"`
			Ptr uint64 `json:"ptr"`
		} `json:"synapses"`
	}
	mustExecuteJSON(t, &ptr, "inspect", "ptr", "--dir", dir, "--prefix", "train", "--core", "0")
	if len(ptr) != 1 || len(ptr[0].Synapses) != 2 || ptr[0].Synapses[1].Ptr != 2 {
		t.Errorf("ptr = %+v", ptr)
	}

	var l1 struct {
		Count int `json:"count"`
	}
	mustExecuteJSON(t, &l1, "inspect", "l1", "--dir", dir, "--prefix", "train")
	if l1.Count != 1 {
		t.Errorf("routes = %d", l1.Count)
	}

	out, err := execute(t, "inspect", "events", "--dir", dir, "--prefix", "train", "--core", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "3 events") {
		t.Errorf("events output = %q", out)
	}

	if _, err := execute(t, "inspect", "ptr", "--dir", dir, "--prefix", "train", "--core", "5"); err == nil {
		t.Error("expected out of range core to fail")
	}
}

func TestWriteRejectsInvalidNetwork(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cores: [{inputs: 1, neurons: 2, states: 1, nmap: [0, 4]}]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "never")
	if _, err := execute(t, "write", path, "--dir", dir); err == nil {
		t.Fatal("expected invalid network to fail")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("no directory should be created for an invalid network")
	}
}

// fakeSimulator writes a script that leaves an empty spike log per core and
// a three word final weight table (0, 20, -20) for core 0 of prefix train.
func fakeSimulator(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on Windows")
	}
	path := filepath.Join(t.TempDir(), "nsat")
	script := `#!/bin/sh
: > train_events_core_0.dat
: > train_events_core_1.dat
printf '\000\000\000\000\024\000\000\000\354\377\377\377' > train_shared_mem_core_0.dat
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunTransferAndCatalog(t *testing.T) {
	isolateHome(t)
	t.Setenv("NSATIO_SIMULATOR", fakeSimulator(t))
	net := writeNetwork(t)
	dir := t.TempDir()

	var train, test struct {
		RunID string `json:"run_id"`
	}
	mustExecuteJSON(t, &train, "write", net, "--dir", dir, "--prefix", "train")
	mustExecuteJSON(t, &test, "write", net, "--dir", dir, "--prefix", "test", "--no-events")

	var ran struct {
		RunID   string   `json:"run_id"`
		Outputs []string `json:"outputs"`
	}
	mustExecuteJSON(t, &ran, "run", "--dir", dir, "--prefix", "train")
	if ran.RunID != train.RunID {
		t.Errorf("run resolved to %q, want %q", ran.RunID, train.RunID)
	}
	if len(ran.Outputs) != 3 {
		t.Errorf("outputs = %v", ran.Outputs)
	}

	var spikes map[string][]any
	mustExecuteJSON(t, &spikes, "read", "spikes", "--dir", dir, "--prefix", "train")
	if len(spikes) != 2 || len(spikes["0"]) != 0 {
		t.Errorf("spikes = %v", spikes)
	}

	var table map[string][]int32
	mustExecuteJSON(t, &table, "read", "weights", "--dir", dir, "--prefix", "train", "--table", "--core", "0")
	if got := table["0"]; len(got) != 3 || got[1] != 20 || got[2] != -20 {
		t.Errorf("final weight table = %v", table)
	}

	var moved struct {
		TransferID string `json:"transfer_id"`
		Words      int    `json:"words"`
	}
	mustExecuteJSON(t, &moved, "transfer", "--from-dir", dir, "--from-prefix", "train", "--dir", dir, "--prefix", "test")
	if moved.Words != 3 || moved.TransferID == "" {
		t.Errorf("transfer = %+v", moved)
	}

	var ptr []struct {
		Weights []int32 `json:"weights"`
	}
	mustExecuteJSON(t, &ptr, "inspect", "ptr", "--dir", dir, "--prefix", "test", "--core", "0")
	if len(ptr) != 1 || ptr[0].Weights[1] != 20 || ptr[0].Weights[2] != -20 {
		t.Errorf("destination weights = %+v", ptr)
	}

	var list struct {
		Count int `json:"count"`
		Runs  []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"runs"`
	}
	mustExecuteJSON(t, &list, "runs", "list")
	if list.Count != 2 {
		t.Fatalf("runs = %+v", list)
	}

	var shown struct {
		Run struct {
			Status string `json:"status"`
		} `json:"run"`
		Files     []any `json:"files"`
		Transfers []any `json:"transfers"`
	}
	mustExecuteJSON(t, &shown, "runs", "show", train.RunID)
	if shown.Run.Status != "done" || len(shown.Transfers) != 1 {
		t.Errorf("train run = %+v", shown)
	}

	// The transfer re-records the replaced weight table.
	var verified struct {
		Valid bool `json:"valid"`
	}
	mustExecuteJSON(t, &verified, "runs", "verify", test.RunID)
	if !verified.Valid {
		t.Error("test run should verify after the transfer")
	}

	var exported struct {
		Tables []struct {
			Name string `json:"name"`
			Rows int64  `json:"rows"`
		} `json:"tables"`
	}
	mustExecuteJSON(t, &exported, "export", "--dir", dir, "--prefix", "train")
	if len(exported.Tables) != 1 || exported.Tables[0].Name != "spikes" || exported.Tables[0].Rows != 0 {
		t.Errorf("exported = %+v", exported)
	}
}

func TestTransferLengthMismatch(t *testing.T) {
	isolateHome(t)
	t.Setenv("NSATIO_CATALOG", "off")
	t.Setenv("NSATIO_SIMULATOR", fakeSimulator(t))
	dir := t.TempDir()

	if _, err := execute(t, "write", writeNetwork(t), "--dir", dir, "--prefix", "train"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "run", "--dir", dir, "--prefix", "train"); err != nil {
		t.Fatal(err)
	}
	// A second network with a longer weight table.
	longer := strings.Replace(testNetwork, "weights: [0, 10, -10]", "weights: [0, 10, -10, 7]", 1)
	path := filepath.Join(t.TempDir(), "longer.yaml")
	if err := os.WriteFile(path, []byte(longer), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "write", path, "--dir", dir, "--prefix", "test"); err != nil {
		t.Fatal(err)
	}

	args := []string{"transfer", "--from-dir", dir, "--from-prefix", "train", "--dir", dir, "--prefix", "test"}
	if _, err := execute(t, args...); err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Errorf("err = %v, want length mismatch", err)
	}
	if _, err := execute(t, append(args, "--force")...); err != nil {
		t.Errorf("forced transfer failed: %v", err)
	}
}

func TestRunsListWithCatalogDisabled(t *testing.T) {
	isolateHome(t)
	t.Setenv("NSATIO_CATALOG", "off")
	if _, err := execute(t, "runs", "list"); err == nil {
		t.Error("expected an error with the catalog disabled")
	}
}

func TestConfigList(t *testing.T) {
	home := isolateHome(t)
	out, err := execute(t, "config", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "writer.channel_shift: 16") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, filepath.Join(home, ".nsatio", "catalog.db")) {
		t.Errorf("catalog path missing from %q", out)
	}
}

func TestArchiveRestorePrune(t *testing.T) {
	home := isolateHome(t)
	archives := filepath.Join(home, "archives")
	t.Setenv("NSATIO_ARCHIVE_DIR", archives)
	dir := t.TempDir()

	var written struct {
		RunID string `json:"run_id"`
	}
	mustExecuteJSON(t, &written, "write", writeNetwork(t), "--dir", dir, "--prefix", "train")

	var packed struct {
		Path   string `json:"path"`
		Header struct {
			Prefix    string            `json:"prefix"`
			NCores    int               `json:"n_cores"`
			FileCount int               `json:"file_count"`
			Metadata  map[string]string `json:"metadata"`
		} `json:"header"`
	}
	mustExecuteJSON(t, &packed, "runs", "archive", "--run", written.RunID, "--out", filepath.Join(archives, "a.nsatar"))
	if packed.Header.Prefix != "train" || packed.Header.NCores != 2 || packed.Header.FileCount == 0 {
		t.Errorf("header = %+v", packed.Header)
	}
	if packed.Header.Metadata["run_id"] != written.RunID {
		t.Errorf("metadata = %v", packed.Header.Metadata)
	}

	type shown struct {
		Archives []struct {
			Path  string `json:"path"`
			RunID string `json:"run_id"`
		} `json:"archives"`
	}
	var show shown
	mustExecuteJSON(t, &show, "runs", "show", written.RunID)
	if len(show.Archives) != 1 || show.Archives[0].Path != packed.Path {
		t.Errorf("cataloged archives = %+v, want %s", show.Archives, packed.Path)
	}

	restored := filepath.Join(t.TempDir(), "restored")
	var back struct {
		RunID string   `json:"run_id"`
		Files []string `json:"files"`
	}
	mustExecuteJSON(t, &back, "runs", "restore", packed.Path, "--dir", restored)
	if back.RunID == "" || back.RunID == written.RunID || len(back.Files) != packed.Header.FileCount {
		t.Errorf("restore = %+v", back)
	}
	if _, err := execute(t, "inspect", "params", "--dir", restored, "--prefix", "train"); err != nil {
		t.Errorf("restored run is unreadable: %v", err)
	}
	var verified struct {
		Valid bool `json:"valid"`
	}
	mustExecuteJSON(t, &verified, "runs", "verify", back.RunID)
	if !verified.Valid {
		t.Error("restored run should verify")
	}

	for _, name := range []string{"b.nsatar", "c.nsatar"} {
		if _, err := execute(t, "runs", "archive", "--dir", dir, "--prefix", "train", "--out", filepath.Join(archives, name)); err != nil {
			t.Fatal(err)
		}
	}

	var pruned struct {
		Deleted []string `json:"deleted"`
		DryRun  bool     `json:"dry_run"`
	}
	mustExecuteJSON(t, &pruned, "runs", "prune", "--keep", "1", "--dry-run")
	if len(pruned.Deleted) != 2 || !pruned.DryRun {
		t.Errorf("dry run = %+v", pruned)
	}
	mustExecuteJSON(t, &pruned, "runs", "prune", "--keep", "1")
	if len(pruned.Deleted) != 2 {
		t.Errorf("prune = %+v", pruned)
	}
	left, _ := filepath.Glob(filepath.Join(archives, "*.nsatar"))
	if len(left) != 1 {
		t.Errorf("archives left = %v", left)
	}
	show = shown{}
	mustExecuteJSON(t, &show, "runs", "show", written.RunID)
	if len(show.Archives) > 1 {
		t.Errorf("pruned archives still cataloged: %+v", show.Archives)
	}
}

func TestRestoreNeedsDir(t *testing.T) {
	isolateHome(t)
	if _, err := execute(t, "runs", "restore", "x.nsatar"); err == nil {
		t.Error("expected an error without --dir")
	}
}

func TestWriteSanitizesNote(t *testing.T) {
	isolateHome(t)
	var written struct {
		RunID string `json:"run_id"`
	}
	mustExecuteJSON(t, &written, "write", writeNetwork(t), "--dir", t.TempDir(), "--note", "sweep\x00 3\n\tlr=0.1")

	var shown struct {
		Run struct {
			Note string `json:"note"`
		} `json:"run"`
	}
	mustExecuteJSON(t, &shown, "runs", "show", written.RunID)
	if shown.Run.Note != "sweep 3 lr=0.1" {
		t.Errorf("note = %q", shown.Run.Note)
	}
}
