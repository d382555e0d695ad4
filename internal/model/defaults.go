package model

// DefaultNeuronGroup returns a group with every coupling disabled, a
// threshold at XMax and reset-to-zero on the first state only.
func DefaultNeuronGroup(nStates int) NeuronGroup {
	g := NeuronGroup{
		GateLower: XMin,
		GateUpper: XMax,
		ModState:  1,
		FlagXTh:   false,
		XTh:       XMax,
	}
	g.ProbSyn = fill(nStates, MaxProbSyn)
	g.A = make([][]int32, nStates)
	g.SA = make([][]int32, nStates)
	for i := range g.A {
		g.A[i] = fill(nStates, Off)
		g.SA[i] = fill(nStates, 1)
	}
	g.B = fill(nStates, 0)
	g.XReset = fill(nStates, XMax)
	g.XResetOn = make([]bool, nStates)
	if nStates > 0 {
		g.XReset[0] = 0
		g.XResetOn[0] = true
	}
	g.XThLo = fill(nStates, XMin)
	g.XThUp = fill(nStates, XMax)
	g.XSpikeIncr = fill(nStates, 0)
	g.Sigma = fill(nStates, 0)
	g.WGain = fill(nStates, 0)
	return g
}

// DefaultLearningGroup returns a non-plastic group with a symmetric kernel.
func DefaultLearningGroup() LearningGroup {
	return LearningGroup{
		TSTDP: 64,
		TCA:   [STDPBreakpoints]int32{16, 36},
		HiCA:  [STDPSegments]int32{1, 0, -1},
		SiCA:  [STDPSegments]int32{1, 1, 1},
		SlCA:  [STDPSegments]int32{0, 1, 0},
		TAC:   [STDPBreakpoints]int32{-16, -36},
		HiAC:  [STDPSegments]int32{1, 0, -1},
		SiAC:  [STDPSegments]int32{-1, -1, -1},
		SlAC:  [STDPSegments]int32{0, 1, 0},
	}
}

// NewCoreConfig returns a core with nGroups default neuron groups, nLrnGroups
// default learning groups, every neuron in group 0, every (group, state) in
// learning group 0, a zero initial state and no connections.
func NewCoreConfig(nInputs, nNeurons, nStates, nGroups, nLrnGroups int) *CoreConfig {
	c := &CoreConfig{
		NInputs:  nInputs,
		NNeurons: nNeurons,
		NStates:  nStates,
		TSTDPMax: 64,
	}
	c.Groups = make([]NeuronGroup, nGroups)
	for i := range c.Groups {
		c.Groups[i] = DefaultNeuronGroup(nStates)
	}
	c.LearningGroups = make([]LearningGroup, nLrnGroups)
	for i := range c.LearningGroups {
		c.LearningGroups[i] = DefaultLearningGroup()
	}
	c.NMap = make([]int32, nNeurons)
	c.LrnMap = make([][]int32, nGroups)
	for i := range c.LrnMap {
		c.LrnMap[i] = make([]int32, nStates)
	}
	c.XInit = make([][]int32, nNeurons)
	for i := range c.XInit {
		c.XInit[i] = make([]int32, nStates)
	}
	c.PtrTable = emptyTable(c)
	c.WgtTable = []int32{0}
	return c
}

// NewGlobalConfig returns settings for nCores cores with every per-core
// slice sized and zeroed.
func NewGlobalConfig(nCores int, simTicks uint64) GlobalConfig {
	g := GlobalConfig{
		NCores:    nCores,
		SimTicks:  simTicks,
		RecDeltaT: 1,
	}
	g.PlasticityEnabled = make([]bool, nCores)
	g.GatedLearning = make([]bool, nCores)
	g.ExtEvents = make([]bool, nCores)
	g.SpikeRecMon = make([][]uint64, nCores)
	g.SynIDsRec = make([][]uint64, nCores)
	return g
}

func fill(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
