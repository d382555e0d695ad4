// Package fileset names the files that make up one simulator run.
//
// Every name is <dir>/<prefix><suffix>. Per-core files append
// "_core_<i>.dat" to their base suffix.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Base suffixes of every file in a run.
const (
	SuffixParams      = "_params.dat"
	SuffixNMap        = "_nsat_params_map.dat"
	SuffixLrnMap      = "_lrn_params_map.dat"
	SuffixWgtTable    = "_wgt_table"
	SuffixPtrTable    = "_ptr_table"
	SuffixExtEvents   = "_ext_events"
	SuffixWeights     = "_weights"
	SuffixWeightFinal = "_weights_final"
	SuffixEvents      = "_events"
	SuffixStates      = "_states"
	SuffixCheckPMS    = "_cpms.dat"
	SuffixSTDPFun     = "_stdp_fun.dat"
	SuffixStatsNSAT   = "_stats_nsat"
	SuffixStatsExt    = "_stats_ext"
	SuffixL1Conn      = "_l1_conn.dat"
	SuffixSharedMem   = "_shared_mem"
	SuffixManifest    = "_fileset.yaml"
)

// FileSet resolves file names for one run directory and prefix.
type FileSet struct {
	Dir    string `yaml:"dir" json:"dir"`
	Prefix string `yaml:"prefix" json:"prefix"`
	NCores int    `yaml:"n_cores" json:"n_cores"`
}

// New returns the file set for dir/prefix with nCores cores.
func New(dir, prefix string, nCores int) FileSet {
	return FileSet{Dir: dir, Prefix: prefix, NCores: nCores}
}

// Path returns dir/prefix+suffix.
func (f FileSet) Path(suffix string) string {
	return filepath.Join(f.Dir, f.Prefix+suffix)
}

// CorePath returns dir/prefix+base+"_core_<i>.dat".
func (f FileSet) CorePath(base string, core int) string {
	return f.Path(base + "_core_" + strconv.Itoa(core) + ".dat")
}

func (f FileSet) Params() string    { return f.Path(SuffixParams) }
func (f FileSet) NMap() string      { return f.Path(SuffixNMap) }
func (f FileSet) LrnMap() string    { return f.Path(SuffixLrnMap) }
func (f FileSet) L1Conn() string    { return f.Path(SuffixL1Conn) }
func (f FileSet) StatsNSAT() string { return f.Path(SuffixStatsNSAT) }
func (f FileSet) StatsExt() string  { return f.Path(SuffixStatsExt) }
func (f FileSet) CheckPMS() string  { return f.Path(SuffixCheckPMS) }
func (f FileSet) STDPFun() string   { return f.Path(SuffixSTDPFun) }
func (f FileSet) Manifest() string  { return f.Path(SuffixManifest) }

// ExtEvents is the single combined event stream file.
func (f FileSet) ExtEvents() string { return f.Path(SuffixExtEvents + ".dat") }

func (f FileSet) PtrTable(core int) string      { return f.CorePath(SuffixPtrTable, core) }
func (f FileSet) WgtTable(core int) string      { return f.CorePath(SuffixWgtTable, core) }
func (f FileSet) ExtEventsCore(core int) string { return f.CorePath(SuffixExtEvents, core) }
func (f FileSet) States(core int) string        { return f.CorePath(SuffixStates, core) }
func (f FileSet) Weights(core int) string       { return f.CorePath(SuffixWeights, core) }
func (f FileSet) WeightsFinal(core int) string  { return f.CorePath(SuffixWeightFinal, core) }
func (f FileSet) Events(core int) string        { return f.CorePath(SuffixEvents, core) }
func (f FileSet) SharedMem(core int) string     { return f.CorePath(SuffixSharedMem, core) }

// Inputs lists every file the writer can produce, in a fixed order.
// Optional files are included whether or not they exist.
func (f FileSet) Inputs() []string {
	out := []string{f.Params(), f.NMap(), f.LrnMap(), f.L1Conn(), f.ExtEvents()}
	for p := 0; p < f.NCores; p++ {
		out = append(out, f.PtrTable(p), f.WgtTable(p), f.ExtEventsCore(p))
	}
	return out
}

// Results lists every file the simulator can produce, in a fixed order.
func (f FileSet) Results() []string {
	out := []string{f.StatsNSAT(), f.StatsExt()}
	for p := 0; p < f.NCores; p++ {
		out = append(out, f.States(p), f.Weights(p), f.WeightsFinal(p), f.Events(p), f.SharedMem(p))
	}
	return out
}

// Manifest is the document handed to the simulator process.
type Manifest struct {
	FileSet FileSet           `yaml:"fileset"`
	Files   map[string]string `yaml:"files"`
}

// BuildManifest names every input and output path by its simulator field.
func (f FileSet) BuildManifest() Manifest {
	files := map[string]string{
		"params":          f.Params(),
		"nsat_params_map": f.NMap(),
		"lrn_params_map":  f.LrnMap(),
		"syn_wgt_table":   f.Path(SuffixWgtTable),
		"syn_ptr_table":   f.Path(SuffixPtrTable),
		"ext_events":      f.Path(SuffixExtEvents),
		"synw":            f.Path(SuffixWeights),
		"synw_final":      f.Path(SuffixWeightFinal),
		"events":          f.Path(SuffixEvents),
		"states":          f.Path(SuffixStates),
		"check_pms":       f.CheckPMS(),
		"stdp_fun":        f.STDPFun(),
		"stats_nsat":      f.StatsNSAT(),
		"stats_ext":       f.StatsExt(),
		"l1_conn":         f.L1Conn(),
		"shared_mem":      f.Path(SuffixSharedMem),
	}
	return Manifest{FileSet: f, Files: files}
}

// WriteManifest writes the manifest YAML next to the run files and returns
// its path.
func (f FileSet) WriteManifest() (string, error) {
	data, err := yaml.Marshal(f.BuildManifest())
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}
	path := f.Manifest()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}

// LoadManifest reads a manifest written by WriteManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
