package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/codec"
	"github.com/nvandessel/nsatio/internal/reader"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode the input files of a run",
		Long: `Decode the files written for a run and print their contents.

Examples:
  nsatio inspect params --dir ./runs/mlp --prefix train
  nsatio inspect ptr --dir ./runs/mlp --prefix train --core 0
  nsatio inspect l1 --run 2f1c...
  nsatio inspect events --dir ./runs/mlp --prefix train --single`,
	}

	cmd.AddCommand(
		newInspectParamsCmd(),
		newInspectPtrCmd(),
		newInspectL1Cmd(),
		newInspectEventsCmd(),
	)
	return cmd
}

// openReader resolves the run and returns a reader over it.
func openReader(cmd *cobra.Command) (*reader.Reader, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)
	ref, err := resolveRun(cmd, cfg, logger)
	if err != nil {
		return nil, err
	}
	return reader.New(ref.Files, logger), nil
}

func newInspectParamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show global and per-core parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			params, err := rd.Params()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, params)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cores:      %d\n", params.NCores)
			fmt.Fprintf(out, "Sim ticks:  %s\n", humanize.Comma(int64(params.SimTicks)))
			fmt.Fprintf(out, "Routing:    %v\n", params.RoutingEnabled)
			fmt.Fprintf(out, "Seed:       %d (sequence %d)\n", params.Seed, params.SSeq)
			fmt.Fprintf(out, "Clock:      %v\n", params.Clock)
			if params.WCheck {
				fmt.Fprintf(out, "W boundary: %d\n", params.WBoundary)
			}
			for p, c := range params.Cores {
				fmt.Fprintf(out, "\nCore %d:\n", p)
				fmt.Fprintf(out, "  units:       %d inputs, %d neurons, %d states\n", c.NInputs, c.NNeurons, c.NStates)
				fmt.Fprintf(out, "  groups:      %d neuron, %d learning\n", c.NGroups, c.NLrnGroups)
				fmt.Fprintf(out, "  plasticity:  %v (gated %v)\n", c.PlasticityEnabled, c.GatedLearning)
				fmt.Fprintf(out, "  ext events:  %v\n", c.ExtEvents)
				fmt.Fprintf(out, "  monitors:    %+v\n", c.Monitors)
				if len(c.SpikeRecMon) > 0 {
					fmt.Fprintf(out, "  spk_rec_mon: %v\n", c.SpikeRecMon)
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newInspectPtrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptr",
		Short: "Show pointer and weight tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			cores, err := coreRange(cmd, rd.FileSet().NCores)
			if err != nil {
				return err
			}

			type coreTables struct {
				Core     int           `json:"core"`
				Synapses []synapseJSON `json:"synapses"`
				Weights  []int32       `json:"weights"`
			}
			var all []coreTables
			for _, p := range cores {
				syn, err := rd.PtrTable(p)
				if err != nil {
					return err
				}
				wgt, err := rd.WgtTable(p)
				if err != nil {
					return err
				}
				ct := coreTables{Core: p, Weights: wgt, Synapses: make([]synapseJSON, len(syn))}
				for i, s := range syn {
					ct.Synapses[i] = synapseJSON{Src: s.Src, Dst: s.DstUnit, State: s.DstState, Ptr: s.Ptr}
				}
				all = append(all, ct)
			}
			if jsonOut {
				return printJSON(cmd, all)
			}

			out := cmd.OutOrStdout()
			for _, ct := range all {
				fmt.Fprintf(out, "Core %d: %s synapses, %s weights\n",
					ct.Core, humanize.Comma(int64(len(ct.Synapses))), humanize.Comma(int64(len(ct.Weights))))
				for i, s := range ct.Synapses {
					if limit > 0 && i >= limit {
						fmt.Fprintf(out, "  ... %d more\n", len(ct.Synapses)-limit)
						break
					}
					w := "?"
					if s.Ptr < uint64(len(ct.Weights)) {
						w = fmt.Sprint(ct.Weights[s.Ptr])
					}
					fmt.Fprintf(out, "  %d -> %d[%d]  ptr %d  w %s\n", s.Src, s.Dst, s.State, s.Ptr, w)
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("core", -1, "Only this core")
	cmd.Flags().Int("limit", 20, "Synapses to print per core (0 for all)")
	return cmd
}

type synapseJSON struct {
	Src   uint64 `json:"src"`
	Dst   uint64 `json:"dst"`
	State uint64 `json:"state"`
	Ptr   uint64 `json:"ptr"`
}

func newInspectL1Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "l1",
		Short: "Show the inter-core routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			routes, err := rd.L1()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"count": len(routes), "routes": routesJSON(routes)})
			}
			out := cmd.OutOrStdout()
			if len(routes) == 0 {
				fmt.Fprintln(out, "No routes.")
				return nil
			}
			for _, r := range routes {
				fmt.Fprintf(out, "(%d, %d) ->", r.Src.Core, r.Src.ID)
				for _, d := range r.Dsts {
					fmt.Fprintf(out, " (%d, %d)", d.Core, d.ID)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

func routesJSON(routes []codec.Route) []map[string]any {
	out := make([]map[string]any, len(routes))
	for i, r := range routes {
		out[i] = map[string]any{"src": r.Src, "dst": r.Dsts}
	}
	return out
}

func newInspectEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show external event streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			single, _ := cmd.Flags().GetBool("single")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}

			streams := map[int][]codec.TickRecord{}
			if single {
				recs, err := rd.SingleStream()
				if err != nil {
					return err
				}
				streams[-1] = recs
			} else {
				cores, err := coreRange(cmd, rd.FileSet().NCores)
				if err != nil {
					return err
				}
				for _, p := range cores {
					recs, err := rd.ExtEvents(p)
					if err != nil {
						return err
					}
					streams[p] = recs
				}
			}
			if jsonOut {
				return printJSON(cmd, streams)
			}

			out := cmd.OutOrStdout()
			for p := -1; p < rd.FileSet().NCores; p++ {
				recs, ok := streams[p]
				if !ok {
					continue
				}
				n := 0
				for _, r := range recs {
					n += len(r.Addrs)
				}
				label := fmt.Sprintf("Core %d", p)
				if p < 0 {
					label = "Single stream"
				}
				fmt.Fprintf(out, "%s: %s events over %s ticks\n", label, humanize.Comma(int64(n)), humanize.Comma(int64(len(recs))))
				for _, r := range recs {
					if len(r.Addrs) == 0 {
						continue
					}
					if r.Channels != nil {
						fmt.Fprintf(out, "  t=%d channels=%v addrs=%v\n", r.Tick, r.Channels, r.Addrs)
					} else {
						fmt.Fprintf(out, "  t=%d addrs=%v\n", r.Tick, r.Addrs)
					}
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("core", -1, "Only this core")
	cmd.Flags().Bool("single", false, "Read the combined single-stream file")
	return cmd
}
