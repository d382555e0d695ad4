// Package model defines the validated in-memory description of a multi-core
// NSAT network: global simulation settings, per-core neuron and learning
// parameter groups, L0 pointer/weight tables, L1 routing and external input.
package model

import (
	"github.com/nvandessel/nsatio/internal/connectivity"
)

// Fixed NSAT numeric limits.
const (
	XMax = 1<<15 - 1
	XMin = -(1 << 15)
	// Off disables a transition matrix coefficient.
	Off = -16
	// MaxProbSyn is the synaptic-probability value for "always transmit".
	MaxProbSyn = 15
)

// Shape of the STDP kernel: two time breakpoints bound three linear segments.
const (
	STDPBreakpoints = 2
	STDPSegments    = 3
)

// Monitors selects which result files the simulator produces.
type Monitors struct {
	States       bool `json:"states" yaml:"states"`
	Weights      bool `json:"weights" yaml:"weights"`
	WeightsFinal bool `json:"weights_final" yaml:"weights_final"`
	Spikes       bool `json:"spikes" yaml:"spikes"`
	Stats        bool `json:"stats" yaml:"stats"`
}

// GlobalConfig holds simulation-wide settings and the per-core flags the
// params file stores alongside them. Every per-core slice has NCores entries.
type GlobalConfig struct {
	NCores     int    `json:"n_cores" yaml:"n_cores"`
	SimTicks   uint64 `json:"sim_ticks" yaml:"sim_ticks"`
	Seed       uint64 `json:"seed" yaml:"seed"`
	SSeq       uint64 `json:"s_seq" yaml:"s_seq"`
	SingleCore bool   `json:"single_core" yaml:"single_core"`
	BMRNG      bool   `json:"bm_rng" yaml:"bm_rng"`
	Clock      bool   `json:"clock" yaml:"clock"`
	WCheck     bool   `json:"w_check" yaml:"w_check"`
	WBoundary  int32  `json:"w_boundary" yaml:"w_boundary"`
	RecDeltaT  uint64 `json:"rec_deltat" yaml:"rec_deltat"`

	Monitors Monitors `json:"monitors" yaml:"monitors"`

	PlasticityEnabled []bool     `json:"plasticity_en" yaml:"plasticity_en"`
	GatedLearning     []bool     `json:"gated_learning" yaml:"gated_learning"`
	ExtEvents         []bool     `json:"ext_evts" yaml:"ext_evts"`
	SpikeRecMon       [][]uint64 `json:"spk_rec_mon" yaml:"spk_rec_mon"`
	SynIDsRec         [][]uint64 `json:"syn_ids_rec" yaml:"syn_ids_rec"`
}

// NeuronGroup is one neuron-parameter bundle. Vector fields have one entry
// per state; A and SA are state × state.
type NeuronGroup struct {
	GateLower   int32  `json:"gate_lower" yaml:"gate_lower"`
	GateUpper   int32  `json:"gate_upper" yaml:"gate_upper"`
	LearnPeriod uint32 `json:"learn_period" yaml:"learn_period"`
	LearnBurnin uint32 `json:"learn_burnin" yaml:"learn_burnin"`
	TRef        int32  `json:"t_ref" yaml:"t_ref"`
	ModState    int32  `json:"modstate" yaml:"modstate"`

	ProbSyn    []int32   `json:"prob_syn" yaml:"prob_syn"`
	A          [][]int32 `json:"A" yaml:"A"`
	SA         [][]int32 `json:"sA" yaml:"sA"`
	B          []int32   `json:"b" yaml:"b"`
	XReset     []int32   `json:"Xreset" yaml:"Xreset"`
	XThLo      []int32   `json:"Xthlo" yaml:"Xthlo"`
	XResetOn   []bool    `json:"XresetOn" yaml:"XresetOn"`
	XThUp      []int32   `json:"Xthup" yaml:"Xthup"`
	XSpikeIncr []int32   `json:"XspikeIncrVal" yaml:"XspikeIncrVal"`
	Sigma      []int32   `json:"sigma" yaml:"sigma"`
	FlagXTh    bool      `json:"flagXth" yaml:"flagXth"`
	XTh        int32     `json:"Xth" yaml:"Xth"`
	WGain      []int32   `json:"Wgain" yaml:"Wgain"`
}

// LearningGroup is one learning-rule bundle: a piecewise-linear STDP kernel
// with causal (CA) and anti-causal (AC) branches plus randomized rounding.
type LearningGroup struct {
	TSTDP       int32 `json:"tstdp" yaml:"tstdp"`
	Plastic     bool  `json:"plastic" yaml:"plastic"`
	STDPEnabled bool  `json:"stdp_en" yaml:"stdp_en"`
	STDPExp     bool  `json:"is_stdp_exp_on" yaml:"is_stdp_exp_on"`

	TCA  [STDPBreakpoints]int32 `json:"tca" yaml:"tca"`
	HiCA [STDPSegments]int32    `json:"hica" yaml:"hica"`
	SiCA [STDPSegments]int32    `json:"sica" yaml:"sica"`
	SlCA [STDPSegments]int32    `json:"slca" yaml:"slca"`
	TAC  [STDPBreakpoints]int32 `json:"tac" yaml:"tac"`
	HiAC [STDPSegments]int32    `json:"hiac" yaml:"hiac"`
	SiAC [STDPSegments]int32    `json:"siac" yaml:"siac"`
	SlAC [STDPSegments]int32    `json:"slac" yaml:"slac"`

	RandRound bool  `json:"is_rr_on" yaml:"is_rr_on"`
	RRNumBits int32 `json:"rr_num_bits" yaml:"rr_num_bits"`
}

// CoreConfig describes one core.
type CoreConfig struct {
	NInputs  int
	NNeurons int
	NStates  int

	Groups         []NeuronGroup
	LearningGroups []LearningGroup

	// NMap assigns each neuron a neuron group.
	NMap []int32
	// LrnMap assigns each (neuron group, state) a learning group.
	LrnMap [][]int32
	// TSTDPMax bounds the STDP window of the core.
	TSTDPMax int32
	// XInit is the initial state, neurons × states.
	XInit [][]int32

	PtrTable connectivity.Source
	WgtTable []int32
}

// NUnits returns inputs plus neurons.
func (c *CoreConfig) NUnits() int { return c.NInputs + c.NNeurons }

// Shape returns the pointer-table shape the core requires.
func (c *CoreConfig) Shape() connectivity.Shape {
	return connectivity.Shape{Units: c.NUnits(), States: c.NStates}
}

// UnrolledLrnMap expands LrnMap to one entry per (neuron, state), row-major:
// entry i*NStates+s is LrnMap[NMap[i]][s].
func (c *CoreConfig) UnrolledLrnMap() []int32 {
	out := make([]int32, 0, c.NNeurons*c.NStates)
	for i := 0; i < c.NNeurons; i++ {
		out = append(out, c.LrnMap[c.NMap[i]]...)
	}
	return out
}

// Unit addresses one unit of one core.
type Unit struct {
	Core int    `json:"core" yaml:"core"`
	ID   uint64 `json:"id" yaml:"id"`
}

// Less orders units by core, then id.
func (u Unit) Less(o Unit) bool {
	if u.Core != o.Core {
		return u.Core < o.Core
	}
	return u.ID < o.ID
}

// L1Connectivity routes spikes of a source unit to units on other cores.
type L1Connectivity map[Unit][]Unit
