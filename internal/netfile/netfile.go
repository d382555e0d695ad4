// Package netfile reads and writes YAML network descriptions. A network file
// lists cores with their neuron and learning groups, synapses, inter-core
// routes and external events; Build turns it into a validated
// model.Configuration.
package netfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/nsatio/internal/connectivity"
	"github.com/nvandessel/nsatio/internal/events"
	"github.com/nvandessel/nsatio/internal/model"
)

// Network is the document root.
type Network struct {
	SimTicks   uint64         `yaml:"sim_ticks"`
	Seed       uint64         `yaml:"seed,omitempty"`
	SSeq       uint64         `yaml:"s_seq,omitempty"`
	SingleCore bool           `yaml:"single_core,omitempty"`
	BMRNG      bool           `yaml:"bm_rng,omitempty"`
	Clock      bool           `yaml:"clock,omitempty"`
	WCheck     bool           `yaml:"w_check,omitempty"`
	WBoundary  int32          `yaml:"w_boundary,omitempty"`
	RecDeltaT  uint64         `yaml:"rec_deltat,omitempty"`
	Monitors   model.Monitors `yaml:"monitors"`

	Cores  []Core  `yaml:"cores"`
	Routes []Route `yaml:"routes,omitempty"`
	Events []Event `yaml:"events,omitempty"`
}

// Core describes one core. Groups and LearningGroups entries are merged
// over the defaults, so a group only lists the fields it changes.
type Core struct {
	Inputs        int      `yaml:"inputs"`
	Neurons       int      `yaml:"neurons"`
	States        int      `yaml:"states"`
	Plasticity    bool     `yaml:"plasticity,omitempty"`
	GatedLearning bool     `yaml:"gated_learning,omitempty"`
	TSTDPMax      *int32   `yaml:"tstdpmax,omitempty"`
	SpikeRecMon   []uint64 `yaml:"spk_rec_mon,omitempty"`
	SynIDsRec     []uint64 `yaml:"syn_ids_rec,omitempty"`

	Groups         []yaml.Node `yaml:"groups,omitempty"`
	LearningGroups []yaml.Node `yaml:"learning_groups,omitempty"`

	NMap     []int32   `yaml:"nmap,omitempty"`
	LrnMap   [][]int32 `yaml:"lrnmap,omitempty"`
	XInit    [][]int32 `yaml:"xinit,omitempty"`
	Weights  []int32   `yaml:"weights,omitempty"`
	Synapses []Synapse `yaml:"synapses,omitempty"`
}

// Synapse is one pointer table entry: unit src drives state of unit dst
// through weight table slot ptr.
type Synapse struct {
	Src   int    `yaml:"src"`
	Dst   int    `yaml:"dst"`
	State int    `yaml:"state"`
	Ptr   uint64 `yaml:"ptr"`
}

// Route is one L1 routing entry.
type Route struct {
	Src model.Unit   `yaml:"src"`
	Dst []model.Unit `yaml:"dst"`
}

// Event is a spike list for one core. Times and Addrs pair up by index.
type Event struct {
	Core  int      `yaml:"core"`
	Times []uint64 `yaml:"times"`
	Addrs []uint64 `yaml:"addrs"`
}

// Parse decodes a network document. Unknown top-level and core keys are
// rejected.
func Parse(data []byte) (*Network, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var n Network
	if err := dec.Decode(&n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing network: empty document")
		}
		return nil, fmt.Errorf("parsing network: %w", err)
	}
	return &n, nil
}

// Load reads and builds the network file at path.
func Load(path string) (*model.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network file: %w", err)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return n.Build()
}

// Build converts the network into a validated configuration.
func (n *Network) Build() (*model.Configuration, error) {
	if len(n.Cores) == 0 {
		return nil, fmt.Errorf("network: no cores")
	}
	g := model.NewGlobalConfig(len(n.Cores), n.SimTicks)
	g.Seed = n.Seed
	g.SSeq = n.SSeq
	g.SingleCore = n.SingleCore
	g.BMRNG = n.BMRNG
	g.Clock = n.Clock
	g.WCheck = n.WCheck
	g.WBoundary = n.WBoundary
	if n.RecDeltaT > 0 {
		g.RecDeltaT = n.RecDeltaT
	}
	g.Monitors = n.Monitors

	cores := make([]*model.CoreConfig, len(n.Cores))
	for p := range n.Cores {
		spec := &n.Cores[p]
		core, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("network: core %d: %w", p, err)
		}
		cores[p] = core
		g.PlasticityEnabled[p] = spec.Plasticity
		g.GatedLearning[p] = spec.GatedLearning
		g.SpikeRecMon[p] = spec.SpikeRecMon
		g.SynIDsRec[p] = spec.SynIDsRec
	}

	var l1 model.L1Connectivity
	if len(n.Routes) > 0 {
		l1 = make(model.L1Connectivity, len(n.Routes))
		for _, r := range n.Routes {
			if _, dup := l1[r.Src]; dup {
				return nil, fmt.Errorf("network: duplicate route source %+v", r.Src)
			}
			l1[r.Src] = r.Dst
		}
	}

	var ext events.Data
	if len(n.Events) > 0 {
		ext = make(events.Data)
		for i, ev := range n.Events {
			s, err := events.Build(ev.Times, ev.Addrs)
			if err != nil {
				return nil, fmt.Errorf("network: events[%d]: %w", i, err)
			}
			ext[ev.Core] = append(ext[ev.Core], s...)
		}
	}

	return model.New(g, cores, l1, ext)
}

func (c *Core) build() (*model.CoreConfig, error) {
	nGroups := max(len(c.Groups), 1)
	core := model.NewCoreConfig(c.Inputs, c.Neurons, c.States, nGroups, len(c.LearningGroups))
	for j := range c.Groups {
		// Decoding over the default keeps every field the entry omits.
		if err := c.Groups[j].Decode(&core.Groups[j]); err != nil {
			return nil, fmt.Errorf("groups[%d]: %w", j, err)
		}
	}
	for j := range c.LearningGroups {
		if err := c.LearningGroups[j].Decode(&core.LearningGroups[j]); err != nil {
			return nil, fmt.Errorf("learning_groups[%d]: %w", j, err)
		}
	}
	if c.TSTDPMax != nil {
		core.TSTDPMax = *c.TSTDPMax
	}
	if c.NMap != nil {
		core.NMap = c.NMap
	}
	if c.LrnMap != nil {
		core.LrnMap = c.LrnMap
	}
	if c.XInit != nil {
		core.XInit = c.XInit
	}
	if c.Weights != nil {
		core.WgtTable = c.Weights
	}
	if len(c.Synapses) > 0 {
		shape := core.Shape()
		entries := make([]connectivity.Triplet, 0, len(c.Synapses))
		for i, s := range c.Synapses {
			if s.Dst < 0 || s.Dst >= shape.Units || s.State < 0 || s.State >= shape.States {
				return nil, fmt.Errorf("synapses[%d]: destination (%d, %d) outside %d units x %d states",
					i, s.Dst, s.State, shape.Units, shape.States)
			}
			entries = append(entries, connectivity.Triplet{
				Row: s.Src,
				Col: connectivity.Column(shape, s.Dst, s.State),
				Val: s.Ptr,
			})
		}
		table, err := connectivity.NewSparse(shape, entries)
		if err != nil {
			return nil, fmt.Errorf("synapses: %w", err)
		}
		core.PtrTable = table
	}
	return core, nil
}

// FromConfiguration describes cfg as a network document. Every group field
// is written out in full.
func FromConfiguration(cfg *model.Configuration) (*Network, error) {
	g := &cfg.Global
	n := &Network{
		SimTicks:   g.SimTicks,
		Seed:       g.Seed,
		SSeq:       g.SSeq,
		SingleCore: g.SingleCore,
		BMRNG:      g.BMRNG,
		Clock:      g.Clock,
		WCheck:     g.WCheck,
		WBoundary:  g.WBoundary,
		RecDeltaT:  g.RecDeltaT,
		Monitors:   g.Monitors,
	}
	for p, core := range cfg.Cores {
		tstdp := core.TSTDPMax
		c := Core{
			Inputs:        core.NInputs,
			Neurons:       core.NNeurons,
			States:        core.NStates,
			Plasticity:    g.PlasticityEnabled[p],
			GatedLearning: g.GatedLearning[p],
			TSTDPMax:      &tstdp,
			SpikeRecMon:   g.SpikeRecMon[p],
			SynIDsRec:     g.SynIDsRec[p],
			NMap:          core.NMap,
			LrnMap:        core.LrnMap,
			XInit:         core.XInit,
			Weights:       core.WgtTable,
		}
		for j := range core.Groups {
			var node yaml.Node
			if err := node.Encode(&core.Groups[j]); err != nil {
				return nil, fmt.Errorf("encoding core %d group %d: %w", p, j, err)
			}
			c.Groups = append(c.Groups, node)
		}
		for j := range core.LearningGroups {
			var node yaml.Node
			if err := node.Encode(&core.LearningGroups[j]); err != nil {
				return nil, fmt.Errorf("encoding core %d learning group %d: %w", p, j, err)
			}
			c.LearningGroups = append(c.LearningGroups, node)
		}
		for _, s := range connectivity.Collect(core.PtrTable) {
			c.Synapses = append(c.Synapses, Synapse{
				Src: int(s.Src), Dst: int(s.DstUnit), State: int(s.DstState), Ptr: s.Ptr,
			})
		}
		n.Cores = append(n.Cores, c)
	}
	for _, src := range cfg.L1.Sources() {
		n.Routes = append(n.Routes, Route{Src: src, Dst: cfg.L1[src]})
	}
	for _, p := range cfg.ExtEventData.Cores() {
		ev := Event{Core: p}
		for _, e := range cfg.ExtEventData[p] {
			ev.Times = append(ev.Times, e.Time)
			ev.Addrs = append(ev.Addrs, e.Addr)
		}
		n.Events = append(n.Events, ev)
	}
	return n, nil
}

// Marshal encodes cfg as a network document.
func Marshal(cfg *model.Configuration) ([]byte, error) {
	n, err := FromConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("encoding network: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding network: %w", err)
	}
	return buf.Bytes(), nil
}
