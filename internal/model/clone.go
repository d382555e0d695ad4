package model

import (
	"sort"

	"github.com/nvandessel/nsatio/internal/connectivity"
)

func cloneMatrix(m [][]int32) [][]int32 {
	if m == nil {
		return nil
	}
	out := make([][]int32, len(m))
	for i, row := range m {
		out[i] = append([]int32(nil), row...)
	}
	return out
}

func cloneU64s(m [][]uint64) [][]uint64 {
	if m == nil {
		return nil
	}
	out := make([][]uint64, len(m))
	for i, row := range m {
		out[i] = append([]uint64(nil), row...)
	}
	return out
}

// Clone returns a deep copy.
func (g GlobalConfig) Clone() GlobalConfig {
	g.PlasticityEnabled = append([]bool(nil), g.PlasticityEnabled...)
	g.GatedLearning = append([]bool(nil), g.GatedLearning...)
	g.ExtEvents = append([]bool(nil), g.ExtEvents...)
	g.SpikeRecMon = cloneU64s(g.SpikeRecMon)
	g.SynIDsRec = cloneU64s(g.SynIDsRec)
	return g
}

// Clone returns a deep copy.
func (n NeuronGroup) Clone() NeuronGroup {
	n.ProbSyn = append([]int32(nil), n.ProbSyn...)
	n.A = cloneMatrix(n.A)
	n.SA = cloneMatrix(n.SA)
	n.B = append([]int32(nil), n.B...)
	n.XReset = append([]int32(nil), n.XReset...)
	n.XThLo = append([]int32(nil), n.XThLo...)
	n.XResetOn = append([]bool(nil), n.XResetOn...)
	n.XThUp = append([]int32(nil), n.XThUp...)
	n.XSpikeIncr = append([]int32(nil), n.XSpikeIncr...)
	n.Sigma = append([]int32(nil), n.Sigma...)
	n.WGain = append([]int32(nil), n.WGain...)
	return n
}

// Clone returns a deep copy, so a test configuration can share a train
// configuration's parameters without aliasing them.
func (c *CoreConfig) Clone() *CoreConfig {
	out := *c
	out.Groups = make([]NeuronGroup, len(c.Groups))
	for i, g := range c.Groups {
		out.Groups[i] = g.Clone()
	}
	out.LearningGroups = append([]LearningGroup(nil), c.LearningGroups...)
	out.NMap = append([]int32(nil), c.NMap...)
	out.LrnMap = cloneMatrix(c.LrnMap)
	out.XInit = cloneMatrix(c.XInit)
	if c.PtrTable != nil {
		out.PtrTable = c.PtrTable.Clone()
	}
	out.WgtTable = append([]int32(nil), c.WgtTable...)
	return &out
}

// Clone returns a deep copy.
func (l L1Connectivity) Clone() L1Connectivity {
	if l == nil {
		return nil
	}
	out := make(L1Connectivity, len(l))
	for k, v := range l {
		out[k] = append([]Unit(nil), v...)
	}
	return out
}

// Sources returns the source units ascending by (core, id). This is the
// order routing records are written in.
func (l L1Connectivity) Sources() []Unit {
	keys := make([]Unit, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func emptyTable(c *CoreConfig) connectivity.Source {
	return connectivity.Empty(c.Shape())
}
