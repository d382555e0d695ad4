package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/catalog"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/simulator"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulator over a written file set",
		Long: `Write the file set manifest and run the configured simulator binary
with it. The simulator runs in the run directory; Ctrl-C or the configured
timeout kills it.

When the run came from the catalog (--run) its status, duration and result
files are recorded.

Examples:
  nsatio run --dir ./runs/mlp --prefix train
  nsatio run --run 2f1c... --timeout 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("simulator") {
				cfg.Simulator.Path, _ = cmd.Flags().GetString("simulator")
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Simulator.Timeout, _ = cmd.Flags().GetDuration("timeout")
			}
			logger := newLogger(cmd, cfg)

			ref, err := resolveRun(cmd, cfg, logger)
			if err != nil {
				return err
			}

			runner := simulator.New(simulator.Config{
				Path:    cfg.Simulator.Path,
				Args:    cfg.Simulator.Args,
				Timeout: cfg.Simulator.Timeout,
			}, logger)
			if !runner.Available() {
				return fmt.Errorf("simulator %q not found (set simulator.path or NSATIO_SIMULATOR)", cfg.Simulator.Path)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()

			rl := logging.NewRunLogger(ref.Files.Dir, cfg.Logging.Level)
			defer rl.Close()
			rl.Event("sim_start", "prefix", ref.Files.Prefix, "simulator", cfg.Simulator.Path)

			start := time.Now()
			res, runErr := runner.Run(ctx, ref.Files)
			elapsed := time.Since(start)

			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if cat != nil {
				defer cat.Close()
			}

			if runErr != nil {
				exitCode := -1
				var re *simulator.RunError
				if errors.As(runErr, &re) {
					exitCode = re.ExitCode
				}
				rl.Event("sim_failed", "error", runErr, "exit_code", exitCode)
				if cat != nil && ref.ID != "" {
					if err := cat.FinishRun(cmd.Context(), ref.ID, catalog.StatusFailed, elapsed); err != nil {
						logger.Warn("failed to record run status", "run", ref.ID, "error", err)
					}
				}
				return runErr
			}
			rl.Event("sim_done", "duration_ms", res.Duration.Milliseconds(), "outputs", len(res.Outputs))

			var recorded []catalog.File
			if cat != nil && ref.ID != "" {
				if err := cat.FinishRun(cmd.Context(), ref.ID, catalog.StatusDone, res.Duration); err != nil {
					return err
				}
				if recorded, err = cat.RecordFiles(cmd.Context(), ref.ID, catalog.RoleResult, res.Outputs); err != nil {
					return err
				}
			}

			if jsonOut {
				return printJSON(cmd, map[string]any{
					"run_id":   ref.ID,
					"manifest": res.Manifest,
					"duration": res.Duration.String(),
					"outputs":  res.Outputs,
					"recorded": len(recorded),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Simulation finished in %s\n", res.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Manifest: %s\n", res.Manifest)
			fmt.Fprintf(out, "Result files (%d):\n", len(res.Outputs))
			for _, f := range recorded {
				fmt.Fprintf(out, "  %-40s %10s\n", filepath.Base(f.Path), humanize.Bytes(uint64(f.Bytes)))
			}
			if recorded == nil {
				for _, p := range res.Outputs {
					fmt.Fprintf(out, "  %s\n", filepath.Base(p))
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("simulator", "", "Simulator binary (overrides config)")
	cmd.Flags().Duration("timeout", 0, "Run timeout, 0 for none (overrides config)")
	return cmd
}
