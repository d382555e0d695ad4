package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/reader"
	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Decode the result files of a simulated run",
		Long: `Decode the monitor files the simulator wrote for a run.

Examples:
  nsatio read spikes --dir ./runs/mlp --prefix train
  nsatio read states --dir ./runs/mlp --prefix train --core 0 --rec 2
  nsatio read weights --run 2f1c... --table
  nsatio read stats --dir ./runs/mlp --prefix train --json`,
	}

	cmd.AddCommand(
		newReadStatesCmd(),
		newReadSpikesCmd(),
		newReadWeightsCmd(),
		newReadStatsCmd(),
	)
	return cmd
}

func newReadStatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Show recorded neuron states",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			nRec, _ := cmd.Flags().GetInt("rec")
			limit, _ := cmd.Flags().GetInt("limit")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			cores, err := coreRange(cmd, rd.FileSet().NCores)
			if err != nil {
				return err
			}

			states := map[int][]reader.StateRecord{}
			for _, p := range cores {
				recs, err := rd.States(p, nRec)
				if err != nil {
					return err
				}
				states[p] = recs
			}
			if jsonOut {
				return printJSON(cmd, states)
			}

			out := cmd.OutOrStdout()
			for _, p := range cores {
				recs := states[p]
				fmt.Fprintf(out, "Core %d: %s samples\n", p, humanize.Comma(int64(len(recs))))
				for i, r := range recs {
					if limit > 0 && i >= limit {
						fmt.Fprintf(out, "  ... %d more\n", len(recs)-limit)
						break
					}
					fmt.Fprintf(out, "  t=%d %v\n", r.Time, r.X)
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("core", -1, "Only this core")
	cmd.Flags().Int("rec", -1, "Recorded neurons per sample (-1 for every neuron)")
	cmd.Flags().Int("limit", 20, "Samples to print per core (0 for all)")
	return cmd
}

func newReadSpikesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spikes",
		Short: "Show recorded spikes",
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

			type spike struct {
				Time uint64 `json:"time"`
				Addr uint64 `json:"addr"`
			}
			spikes := map[int][]spike{}
			for _, p := range cores {
				s, err := rd.Spikes(p)
				if err != nil {
					return err
				}
				list := make([]spike, len(s))
				for i, e := range s {
					list[i] = spike{Time: e.Time, Addr: e.Addr}
				}
				spikes[p] = list
			}
			if jsonOut {
				return printJSON(cmd, spikes)
			}

			out := cmd.OutOrStdout()
			for _, p := range cores {
				list := spikes[p]
				fmt.Fprintf(out, "Core %d: %s spikes\n", p, humanize.Comma(int64(len(list))))
				for i, s := range list {
					if limit > 0 && i >= limit {
						fmt.Fprintf(out, "  ... %d more\n", len(list)-limit)
						break
					}
					fmt.Fprintf(out, "  t=%d addr=%d\n", s.Time, s.Addr)
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("core", -1, "Only this core")
	cmd.Flags().Int("limit", 20, "Spikes to print per core (0 for all)")
	return cmd
}

func newReadWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Show final weights, the weight monitor or the final weight table",
		Long: `Show the weights a run produced. By default the final per-synapse
dump is read; --online reads the weight monitor and --table the final
weight table (shared memory) used for weight transfers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			online, _ := cmd.Flags().GetBool("online")
			table, _ := cmd.Flags().GetBool("table")
			limit, _ := cmd.Flags().GetInt("limit")
			if online && table {
				return fmt.Errorf("--online and --table are mutually exclusive")
			}
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			cores, err := coreRange(cmd, rd.FileSet().NCores)
			if err != nil {
				return err
			}

			result := map[int]any{}
			lines := map[int][]string{}
			for _, p := range cores {
				switch {
				case online:
					recs, err := rd.Weights(p)
					if err != nil {
						return err
					}
					result[p] = recs
					for _, r := range recs {
						lines[p] = append(lines[p], fmt.Sprintf("t=%d %d -> %d[%d] w %d", r.Time, r.Src, r.Dst, r.State, r.W))
					}
				case table:
					wgt, err := rd.SharedMem(p)
					if err != nil {
						return err
					}
					result[p] = wgt
					for i, w := range wgt {
						lines[p] = append(lines[p], fmt.Sprintf("[%d] %d", i, w))
					}
				default:
					fw, err := rd.FinalWeights(p)
					if err != nil {
						return err
					}
					result[p] = fw
					for _, w := range fw {
						lines[p] = append(lines[p], fmt.Sprintf("%d -> %d[%d] w %d", w.Src, w.Dst, w.State, w.W))
					}
				}
			}
			if jsonOut {
				return printJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			for _, p := range cores {
				fmt.Fprintf(out, "Core %d: %s entries\n", p, humanize.Comma(int64(len(lines[p]))))
				for i, l := range lines[p] {
					if limit > 0 && i >= limit {
						fmt.Fprintf(out, "  ... %d more\n", len(lines[p])-limit)
						break
					}
					fmt.Fprintf(out, "  %s\n", l)
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("core", -1, "Only this core")
	cmd.Flags().Bool("online", false, "Read the online weight monitor")
	cmd.Flags().Bool("table", false, "Read the final weight table")
	cmd.Flags().Int("limit", 20, "Entries to print per core (0 for all)")
	return cmd
}

func newReadStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-unit spike counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rd, err := openReader(cmd)
			if err != nil {
				return err
			}
			nsat, err := rd.StatsNSAT()
			if err != nil {
				return err
			}
			ext, err := rd.StatsExt()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"neurons": nsat, "inputs": ext})
			}

			out := cmd.OutOrStdout()
			summarize := func(kind string, stats []reader.CoreStats) {
				for _, cs := range stats {
					var total uint64
					for _, c := range cs.Counts {
						total += c
					}
					fmt.Fprintf(out, "Core %d %s: %s spikes over %d units\n",
						cs.Core, kind, humanize.Comma(int64(total)), len(cs.Counts))
				}
			}
			summarize("neurons", nsat)
			summarize("inputs", ext)
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}
