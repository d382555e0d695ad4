// Package codec encodes a model.Configuration into the NSAT binary file
// formats and decodes those formats back. Every function works on a single
// io.Writer or io.Reader; file naming and orchestration live in the writer
// and reader packages.
//
// Field order and width are a wire contract with the simulator. There is no
// version header: any change here is a breaking format change.
package codec

import (
	"fmt"
	"io"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/model"
)

// EncodeParams writes the _params.dat layout: globals, per-core scalars,
// per-core neuron groups, per-core learning groups, per-core monitor flags.
func EncodeParams(w io.Writer, cfg *model.Configuration) error {
	enc := binpack.NewEncoder(w)
	g := &cfg.Global

	binpack.Ints(enc, binpack.Uint32, []int{g.NCores})
	enc.Bool(g.SingleCore)
	enc.Bool(cfg.RoutingEnabled())
	enc.U64(g.SimTicks)
	enc.U64(g.Seed)
	enc.U64(g.SSeq)
	enc.Bool(g.BMRNG)
	enc.Bool(g.Clock)
	enc.Bool(g.WCheck)
	enc.I32(g.WBoundary)

	for p, core := range cfg.Cores {
		enc.Bool(g.ExtEvents[p])
		enc.Bool(g.PlasticityEnabled[p])
		enc.Bool(g.GatedLearning[p])
		binpack.Ints(enc, binpack.Uint64, []int{core.NInputs, core.NNeurons})
		binpack.Ints(enc, binpack.Uint32, []int{core.NStates, len(core.Groups), len(core.LearningGroups)})
		enc.U64(g.RecDeltaT)
		enc.U64(uint64(len(g.SynIDsRec[p])))
		enc.U64s(g.SynIDsRec[p])
	}

	for p, core := range cfg.Cores {
		for j := range core.Groups {
			encodeGroup(enc, &core.Groups[j])
		}
		for _, row := range core.XInit {
			enc.I32s(row)
		}
		enc.U64(uint64(len(g.SpikeRecMon[p])))
		enc.U64s(g.SpikeRecMon[p])
	}

	for p, core := range cfg.Cores {
		if !g.PlasticityEnabled[p] {
			continue
		}
		enc.I32(core.TSTDPMax)
		for j := range core.LearningGroups {
			encodeLearningGroup(enc, &core.LearningGroups[j])
		}
	}

	m := g.Monitors
	for range cfg.Cores {
		// The second slot is the simulator's FPGA state monitor; it always
		// echoes the state monitor flag.
		enc.Bools([]bool{m.States, m.States, m.Weights, m.WeightsFinal, m.Spikes, m.Stats})
	}

	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	return nil
}

func encodeGroup(enc *binpack.Encoder, g *model.NeuronGroup) {
	enc.I32(g.GateLower)
	enc.I32(g.GateUpper)
	enc.U32(g.LearnPeriod)
	enc.U32(g.LearnBurnin)
	enc.I32(g.TRef)
	enc.I32(g.ModState)
	enc.I32s(g.ProbSyn)
	enc.I32s(transpose(g.A))
	enc.I32s(transpose(g.SA))
	enc.I32s(g.B)
	enc.I32s(g.XReset)
	enc.I32s(g.XThLo)
	enc.Bools(g.XResetOn)
	enc.I32s(g.XThUp)
	enc.I32s(g.XSpikeIncr)
	enc.I32s(g.Sigma)
	enc.Bool(g.FlagXTh)
	enc.I32(g.XTh)
	enc.I32s(g.WGain)
}

func encodeLearningGroup(enc *binpack.Encoder, l *model.LearningGroup) {
	enc.I32(l.TSTDP)
	enc.Bool(l.Plastic)
	enc.Bool(l.STDPEnabled)
	enc.Bool(l.STDPExp)
	enc.I32s(l.TCA[:])
	enc.I32s(l.HiCA[:])
	enc.I32s(l.SiCA[:])
	enc.I32s(l.SlCA[:])
	enc.I32s(l.TAC[:])
	enc.I32s(l.HiAC[:])
	enc.I32s(l.SiAC[:])
	enc.I32s(l.SlAC[:])
	enc.Bool(l.RandRound)
	enc.I32(l.RRNumBits)
}

// transpose flattens a square matrix column-major, the order the simulator
// reads transition matrices in.
func transpose(m [][]int32) []int32 {
	n := len(m)
	out := make([]int32, 0, n*n)
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			out = append(out, m[r][c])
		}
	}
	return out
}

func untranspose(flat []int32, n int) [][]int32 {
	m := make([][]int32, n)
	for r := range m {
		m[r] = make([]int32, n)
	}
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			if i := c*n + r; i < len(flat) {
				m[r][c] = flat[i]
			}
		}
	}
	return m
}

// Params is the decoded content of a params file.
type Params struct {
	NCores         uint32
	SingleCore     bool
	RoutingEnabled bool
	SimTicks       uint64
	Seed           uint64
	SSeq           uint64
	BMRNG          bool
	Clock          bool
	WCheck         bool
	WBoundary      int32

	Cores []CoreParams
}

// CoreParams is one core's section of a params file.
type CoreParams struct {
	ExtEvents         bool
	PlasticityEnabled bool
	GatedLearning     bool
	NInputs           uint64
	NNeurons          uint64
	NStates           uint32
	NGroups           uint32
	NLrnGroups        uint32
	RecDeltaT         uint64
	SynIDsRec         []uint64

	Groups      []model.NeuronGroup
	XInit       [][]int32
	SpikeRecMon []uint64

	// TSTDPMax and LearningGroups are only present with plasticity enabled.
	TSTDPMax       int32
	LearningGroups []model.LearningGroup

	Monitors   model.Monitors
	StatesFPGA bool
}

// maxCores bounds the core count accepted from a file before any
// allocation depends on it.
const maxCores = 1 << 16

// DecodeParams reads a params file written by EncodeParams.
func DecodeParams(r io.Reader) (*Params, error) {
	dec := binpack.NewDecoder(r, "params")
	p := &Params{}
	p.NCores = dec.U32()
	p.SingleCore = dec.Bool()
	p.RoutingEnabled = dec.Bool()
	p.SimTicks = dec.U64()
	p.Seed = dec.U64()
	p.SSeq = dec.U64()
	p.BMRNG = dec.Bool()
	p.Clock = dec.Bool()
	p.WCheck = dec.Bool()
	p.WBoundary = dec.I32()
	if dec.Err() == nil && p.NCores > maxCores {
		dec.Mismatch("implausible core count %d", p.NCores)
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	p.Cores = make([]CoreParams, p.NCores)
	for i := range p.Cores {
		c := &p.Cores[i]
		c.ExtEvents = dec.Bool()
		c.PlasticityEnabled = dec.Bool()
		c.GatedLearning = dec.Bool()
		c.NInputs = dec.U64()
		c.NNeurons = dec.U64()
		c.NStates = dec.U32()
		c.NGroups = dec.U32()
		c.NLrnGroups = dec.U32()
		c.RecDeltaT = dec.U64()
		c.SynIDsRec = dec.U64s(count(dec, dec.U64()))
	}

	for i := range p.Cores {
		c := &p.Cores[i]
		s := count(dec, uint64(c.NStates))
		for j := 0; j < count(dec, uint64(c.NGroups)) && dec.Err() == nil; j++ {
			c.Groups = append(c.Groups, decodeGroup(dec, s))
		}
		for j := 0; j < count(dec, c.NNeurons) && dec.Err() == nil; j++ {
			c.XInit = append(c.XInit, dec.I32s(s))
		}
		c.SpikeRecMon = dec.U64s(count(dec, dec.U64()))
	}

	for i := range p.Cores {
		c := &p.Cores[i]
		if !c.PlasticityEnabled {
			continue
		}
		c.TSTDPMax = dec.I32()
		for j := 0; j < count(dec, uint64(c.NLrnGroups)) && dec.Err() == nil; j++ {
			c.LearningGroups = append(c.LearningGroups, decodeLearningGroup(dec))
		}
	}

	for i := range p.Cores {
		c := &p.Cores[i]
		c.Monitors.States = dec.Bool()
		c.StatesFPGA = dec.Bool()
		c.Monitors.Weights = dec.Bool()
		c.Monitors.WeightsFinal = dec.Bool()
		c.Monitors.Spikes = dec.Bool()
		c.Monitors.Stats = dec.Bool()
	}

	dec.ExpectEOF()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// count converts a count read from a file to int, flagging values that
// cannot be a real element count.
func count(dec *binpack.Decoder, n uint64) int {
	if n > 1<<40 {
		dec.Mismatch("implausible element count %d", n)
		return 0
	}
	return int(n)
}

func decodeGroup(dec *binpack.Decoder, s int) model.NeuronGroup {
	var g model.NeuronGroup
	g.GateLower = dec.I32()
	g.GateUpper = dec.I32()
	g.LearnPeriod = dec.U32()
	g.LearnBurnin = dec.U32()
	g.TRef = dec.I32()
	g.ModState = dec.I32()
	g.ProbSyn = dec.I32s(s)
	g.A = untranspose(dec.I32s(s*s), s)
	g.SA = untranspose(dec.I32s(s*s), s)
	g.B = dec.I32s(s)
	g.XReset = dec.I32s(s)
	g.XThLo = dec.I32s(s)
	g.XResetOn = dec.Bools(s)
	g.XThUp = dec.I32s(s)
	g.XSpikeIncr = dec.I32s(s)
	g.Sigma = dec.I32s(s)
	g.FlagXTh = dec.Bool()
	g.XTh = dec.I32()
	g.WGain = dec.I32s(s)
	return g
}

func decodeLearningGroup(dec *binpack.Decoder) model.LearningGroup {
	var l model.LearningGroup
	l.TSTDP = dec.I32()
	l.Plastic = dec.Bool()
	l.STDPEnabled = dec.Bool()
	l.STDPExp = dec.Bool()
	copy(l.TCA[:], dec.I32s(model.STDPBreakpoints))
	copy(l.HiCA[:], dec.I32s(model.STDPSegments))
	copy(l.SiCA[:], dec.I32s(model.STDPSegments))
	copy(l.SlCA[:], dec.I32s(model.STDPSegments))
	copy(l.TAC[:], dec.I32s(model.STDPBreakpoints))
	copy(l.HiAC[:], dec.I32s(model.STDPSegments))
	copy(l.SiAC[:], dec.I32s(model.STDPSegments))
	copy(l.SlAC[:], dec.I32s(model.STDPSegments))
	l.RandRound = dec.Bool()
	l.RRNumBits = dec.I32()
	return l
}
