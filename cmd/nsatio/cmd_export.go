package main

import (
	"fmt"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/export"
	"github.com/nvandessel/nsatio/internal/pathutil"
	"github.com/nvandessel/nsatio/internal/reader"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export decoded results as Arrow IPC files",
		Long: `Decode every result file of a run and write it as Arrow IPC tables:
spikes.arrow, states.arrow, weights_final.arrow and stats.arrow. Result
kinds the run did not produce are skipped.

The output directory must lie inside the run directory or the configured
runs directory. It defaults to <dir>/arrow.

Examples:
  nsatio export --dir ./runs/mlp --prefix train
  nsatio export --run 2f1c... --out ./runs/mlp/train_arrow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outDir, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			ref, err := resolveRun(cmd, cfg, logger)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = filepath.Join(ref.Files.Dir, "arrow")
			}
			if err := pathutil.ValidatePath(outDir, []string{ref.Files.Dir, cfg.Writer.RunsDir}); err != nil {
				return err
			}

			rd := reader.New(ref.Files, logger)
			tables, err := export.New(memory.NewGoAllocator()).Run(rd, outDir)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			logger.Debug("exported run", "dir", pathutil.RedactPath(outDir), "tables", len(tables))

			if jsonOut {
				return printJSON(cmd, map[string]any{"dir": outDir, "tables": tables})
			}
			out := cmd.OutOrStdout()
			if len(tables) == 0 {
				fmt.Fprintln(out, "No result files to export.")
				return nil
			}
			for _, t := range tables {
				fmt.Fprintf(out, "%-16s %10s rows  %s\n", t.Name, humanize.Comma(t.Rows), t.Path)
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("out", "", "Output directory (default: <dir>/arrow)")
	return cmd
}
