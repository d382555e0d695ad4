package model

import (
	"fmt"

	"github.com/nvandessel/nsatio/internal/connectivity"
	"github.com/nvandessel/nsatio/internal/events"
)

// ConfigInvariantError reports a configuration that violates a structural
// invariant. Core is -1 for global fields.
type ConfigInvariantError struct {
	Core   int
	Field  string
	Detail string
}

func (e *ConfigInvariantError) Error() string {
	if e.Core < 0 {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("config: core %d: %s: %s", e.Core, e.Field, e.Detail)
}

func invariant(core int, field, format string, args ...any) error {
	return &ConfigInvariantError{Core: core, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Configuration is one simulation run's complete, validated description.
// It is built by New and must not be mutated afterwards; the writer reads
// it without copying.
type Configuration struct {
	Global GlobalConfig
	Cores  []*CoreConfig
	L1     L1Connectivity
	// ExtEventData is nil when the run has no external input.
	ExtEventData events.Data
}

// New deep-copies its arguments into a Configuration and validates it.
// Every core with a stream in ext is marked as receiving external events;
// a nil ExtEvents slice in g is allocated first.
func New(g GlobalConfig, cores []*CoreConfig, l1 L1Connectivity, ext events.Data) (*Configuration, error) {
	cfg := &Configuration{
		Global:       g.Clone(),
		Cores:        make([]*CoreConfig, len(cores)),
		L1:           l1.Clone(),
		ExtEventData: ext.Clone(),
	}
	for i, c := range cores {
		if c == nil {
			return nil, invariant(i, "core", "nil core config")
		}
		cfg.Cores[i] = c.Clone()
		if cfg.Cores[i].PtrTable == nil {
			cfg.Cores[i].PtrTable = emptyTable(cfg.Cores[i])
		}
	}
	if g.ExtEvents == nil && g.NCores >= 0 {
		cfg.Global.ExtEvents = make([]bool, g.NCores)
	}
	if len(cfg.Global.ExtEvents) == g.NCores {
		for core := range ext {
			if core >= 0 && core < g.NCores {
				cfg.Global.ExtEvents[core] = true
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RoutingEnabled reports whether any inter-core route exists.
func (c *Configuration) RoutingEnabled() bool {
	return len(c.L1) > 0
}

// Validate checks every structural invariant and returns the first
// violation as a *ConfigInvariantError.
func (c *Configuration) Validate() error {
	g := &c.Global
	if g.NCores <= 0 {
		return invariant(-1, "n_cores", "must be positive, got %d", g.NCores)
	}
	if len(c.Cores) != g.NCores {
		return invariant(-1, "cores", "have %d core configs for %d cores", len(c.Cores), g.NCores)
	}
	perCore := []struct {
		name string
		n    int
	}{
		{"plasticity_en", len(g.PlasticityEnabled)},
		{"gated_learning", len(g.GatedLearning)},
		{"ext_evts", len(g.ExtEvents)},
		{"spk_rec_mon", len(g.SpikeRecMon)},
		{"syn_ids_rec", len(g.SynIDsRec)},
	}
	for _, f := range perCore {
		if f.n != g.NCores {
			return invariant(-1, f.name, "has %d entries for %d cores", f.n, g.NCores)
		}
	}

	for p, core := range c.Cores {
		if err := validateCore(p, core); err != nil {
			return err
		}
		for _, id := range g.SpikeRecMon[p] {
			if id >= uint64(core.NNeurons) {
				return invariant(p, "spk_rec_mon", "neuron %d out of range [0, %d)", id, core.NNeurons)
			}
		}
		for _, id := range g.SynIDsRec[p] {
			if id >= uint64(core.NUnits()) {
				return invariant(p, "syn_ids_rec", "unit %d out of range [0, %d)", id, core.NUnits())
			}
		}
	}

	if err := c.validateL1(); err != nil {
		return err
	}
	for core := range c.ExtEventData {
		if core < 0 || core >= g.NCores {
			return invariant(-1, "ext_evts_data", "stream for unknown core %d", core)
		}
	}
	return nil
}

func (c *Configuration) validateL1() error {
	if len(c.L1) == 0 {
		return nil
	}
	if c.Global.NCores < 2 {
		return invariant(-1, "l1_connectivity", "routing requires more than one core")
	}
	checkUnit := func(u Unit, role string) error {
		if u.Core < 0 || u.Core >= len(c.Cores) {
			return invariant(-1, "l1_connectivity", "%s core %d out of range", role, u.Core)
		}
		if n := c.Cores[u.Core].NUnits(); u.ID >= uint64(n) {
			return invariant(u.Core, "l1_connectivity", "%s unit %d out of range [0, %d)", role, u.ID, n)
		}
		return nil
	}
	for _, src := range c.L1.Sources() {
		if err := checkUnit(src, "source"); err != nil {
			return err
		}
		dsts := c.L1[src]
		if len(dsts) == 0 {
			return invariant(src.Core, "l1_connectivity", "source unit %d has no destinations", src.ID)
		}
		for _, d := range dsts {
			if err := checkUnit(d, "destination"); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCore(p int, c *CoreConfig) error {
	if c.NInputs < 0 || c.NNeurons < 0 {
		return invariant(p, "n_units", "negative unit count (%d inputs, %d neurons)", c.NInputs, c.NNeurons)
	}
	if c.NStates <= 0 {
		return invariant(p, "n_states", "must be positive, got %d", c.NStates)
	}
	nGroups := len(c.Groups)
	if nGroups == 0 {
		return invariant(p, "n_groups", "at least one neuron group is required")
	}
	for j := range c.Groups {
		if err := validateGroup(p, j, c.NStates, &c.Groups[j]); err != nil {
			return err
		}
	}

	if len(c.NMap) != c.NNeurons {
		return invariant(p, "nmap", "has %d entries for %d neurons", len(c.NMap), c.NNeurons)
	}
	for i, g := range c.NMap {
		if g < 0 || int(g) >= nGroups {
			return invariant(p, "nmap", "neuron %d maps to group %d, want [0, %d)", i, g, nGroups)
		}
	}

	if len(c.LrnMap) != nGroups {
		return invariant(p, "lrnmap", "has %d rows for %d groups", len(c.LrnMap), nGroups)
	}
	nLrn := len(c.LearningGroups)
	for j, row := range c.LrnMap {
		if len(row) != c.NStates {
			return invariant(p, "lrnmap", "group %d row has %d entries for %d states", j, len(row), c.NStates)
		}
		for s, l := range row {
			if l < 0 || (int(l) >= nLrn && !(nLrn == 0 && l == 0)) {
				return invariant(p, "lrnmap", "group %d state %d maps to learning group %d, want [0, %d)", j, s, l, nLrn)
			}
		}
	}

	if len(c.XInit) != c.NNeurons {
		return invariant(p, "Xinit", "has %d rows for %d neurons", len(c.XInit), c.NNeurons)
	}
	for i, row := range c.XInit {
		if len(row) != c.NStates {
			return invariant(p, "Xinit", "neuron %d has %d states, want %d", i, len(row), c.NStates)
		}
	}

	if c.PtrTable == nil {
		return invariant(p, "ptr_table", "missing")
	}
	if got, want := c.PtrTable.Shape(), c.Shape(); got != want {
		return invariant(p, "ptr_table", "shape %d units × %d states, want %d × %d", got.Units, got.States, want.Units, want.States)
	}
	nWgt := uint64(len(c.WgtTable))
	return c.PtrTable.EachNonZero(func(s connectivity.Synapse) error {
		if s.Ptr >= nWgt {
			return invariant(p, "ptr_table",
				"entry (%d -> %d, state %d) references weight %d, table has %d",
				s.Src, s.DstUnit, s.DstState, s.Ptr, nWgt)
		}
		return nil
	})
}

func validateGroup(p, j, nStates int, g *NeuronGroup) error {
	vectors := []struct {
		name string
		n    int
	}{
		{"prob_syn", len(g.ProbSyn)},
		{"b", len(g.B)},
		{"Xreset", len(g.XReset)},
		{"Xthlo", len(g.XThLo)},
		{"XresetOn", len(g.XResetOn)},
		{"Xthup", len(g.XThUp)},
		{"XspikeIncrVal", len(g.XSpikeIncr)},
		{"sigma", len(g.Sigma)},
		{"Wgain", len(g.WGain)},
		{"A", len(g.A)},
		{"sA", len(g.SA)},
	}
	for _, v := range vectors {
		if v.n != nStates {
			return invariant(p, v.name, "group %d has %d entries for %d states", j, v.n, nStates)
		}
	}
	for r := 0; r < nStates; r++ {
		if len(g.A[r]) != nStates || len(g.SA[r]) != nStates {
			return invariant(p, "A", "group %d row %d is not %d wide", j, r, nStates)
		}
	}
	return nil
}
