package main

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/catalog"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/netfile"
	"github.com/nvandessel/nsatio/internal/sanitize"
	"github.com/nvandessel/nsatio/internal/writer"
	"github.com/spf13/cobra"
)

func newWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <network.yaml>",
		Short: "Write the simulator input files for a network",
		Long: `Build a configuration from a YAML network file and write the
simulator input files: parameters, group maps, pointer and weight tables,
L1 routing and external event streams.

Without --dir the files go to a new timestamped directory under the
configured runs directory. The run is recorded in the catalog unless the
catalog is disabled.

Examples:
  nsatio write net.yaml
  nsatio write net.yaml --dir ./runs/mlp --prefix train
  nsatio write net.yaml --dir ./runs/mlp --prefix test --no-weights`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")
			prefix, _ := cmd.Flags().GetString("prefix")
			noEvents, _ := cmd.Flags().GetBool("no-events")
			noWeights, _ := cmd.Flags().GetBool("no-weights")
			note, _ := cmd.Flags().GetString("note")
			note = sanitize.Note(note)
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			conf, err := netfile.Load(args[0])
			if err != nil {
				return err
			}

			if dir == "" {
				dir = filepath.Join(cfg.Writer.RunsDir, time.Now().Format("20060102-150405"))
			}
			if dir, err = filepath.Abs(dir); err != nil {
				return fmt.Errorf("failed to resolve directory: %w", err)
			}

			opts := writer.DefaultOptions()
			opts.Events = !noEvents
			opts.Weights = !noWeights
			opts.SingleStream = cfg.Writer.SingleStream
			if cmd.Flags().Changed("single-stream") {
				opts.SingleStream, _ = cmd.Flags().GetBool("single-stream")
			}
			opts.ChannelShift = cfg.Writer.ChannelShift
			if cmd.Flags().Changed("channel-shift") {
				opts.ChannelShift, _ = cmd.Flags().GetUint("channel-shift")
			}

			if err := checkPrefix(dir, prefix); err != nil {
				return err
			}
			w, err := writer.New(conf, dir, prefix, logger)
			if err != nil {
				return err
			}

			rl := logging.NewRunLogger(dir, cfg.Logging.Level)
			defer rl.Close()
			rl.Event("write_start", "prefix", prefix, "n_cores", conf.Global.NCores)

			start := time.Now()
			res, err := w.Write(ctx, opts)
			if err != nil {
				rl.Event("write_failed", "error", err)
				return err
			}
			var total int64
			for _, f := range res.Files {
				total += f.Bytes
			}
			rl.Event("write_done",
				"files", len(res.Files),
				"bytes", total,
				"duration_ms", time.Since(start).Milliseconds())

			var runID string
			cat, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			if cat != nil {
				defer cat.Close()
				run, err := cat.CreateRun(ctx, catalog.Run{
					Dir:      dir,
					Prefix:   prefix,
					NCores:   conf.Global.NCores,
					SimTicks: conf.Global.SimTicks,
					Note:     note,
				})
				if err != nil {
					return err
				}
				paths := make([]string, len(res.Files))
				for i, f := range res.Files {
					paths[i] = f.Path
				}
				if _, err := cat.RecordFiles(ctx, run.ID, catalog.RoleInput, paths); err != nil {
					return err
				}
				runID = run.ID
			}

			if jsonOut {
				return printJSON(cmd, map[string]any{
					"run_id":      runID,
					"dir":         dir,
					"prefix":      prefix,
					"created_dir": w.CreatedDir(),
					"files":       res.Files,
					"event_stats": res.EventStats,
					"synapses":    res.Synapses,
					"total_bytes": total,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d files (%s) to %s\n", len(res.Files), humanize.Bytes(uint64(total)), dir)
			for _, f := range res.Files {
				fmt.Fprintf(out, "  %-40s %10s\n", filepath.Base(f.Path), humanize.Bytes(uint64(f.Bytes)))
			}
			for p, n := range res.Synapses {
				fmt.Fprintf(out, "Core %d: %s synapses\n", p, humanize.Comma(int64(n)))
			}
			for _, p := range slices.Sorted(maps.Keys(res.EventStats)) {
				st := res.EventStats[p]
				label := fmt.Sprintf("core %d", p)
				if p < 0 {
					label = "single stream"
				}
				fmt.Fprintf(out, "Events (%s): %s over %s ticks, %d dropped\n",
					label, humanize.Comma(int64(st.Events)), humanize.Comma(int64(st.Ticks)), st.Dropped)
			}
			if runID != "" {
				fmt.Fprintf(out, "Run ID: %s\n", runID)
			}
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Output directory (default: new directory under the runs dir)")
	cmd.Flags().String("prefix", "nsat", "File name prefix")
	cmd.Flags().Bool("single-stream", false, "Write one combined external event stream")
	cmd.Flags().Uint("channel-shift", 16, "Channel bit position in single-stream addresses")
	cmd.Flags().Bool("no-events", false, "Skip the external event streams")
	cmd.Flags().Bool("no-weights", false, "Skip pointer, weight and routing tables")
	cmd.Flags().String("note", "", "Free-form note stored in the catalog")

	return cmd
}
