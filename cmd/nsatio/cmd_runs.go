package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the run catalog and manage archives",
		Long: `List and inspect the runs recorded in the catalog, and pack runs into
checksummed archives.

Examples:
  nsatio runs list
  nsatio runs list --limit 5 --json
  nsatio runs show 2f1c...
  nsatio runs verify 2f1c...
  nsatio runs archive --run 2f1c...
  nsatio runs prune --keep 5`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsVerifyCmd(),
		newRunsArchiveCmd(),
		newRunsRestoreCmd(),
		newRunsPruneCmd(),
	)
	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if cat == nil {
				return fmt.Errorf("the catalog is disabled")
			}
			defer cat.Close()

			runs, err := cat.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"runs": runs, "count": len(runs)})
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-8s  %d cores  %s ticks  %s  %s\n",
					r.ID, r.Status, r.NCores, humanize.Comma(int64(r.SimTicks)),
					humanize.Time(r.CreatedAt), filepath.Join(r.Dir, r.Prefix))
				if r.Note != "" {
					fmt.Fprintf(out, "    %s\n", r.Note)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its files, weight transfers and archives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			if cat == nil {
				return fmt.Errorf("the catalog is disabled")
			}
			defer cat.Close()

			run, err := cat.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			files, err := cat.Files(ctx, run.ID)
			if err != nil {
				return err
			}
			transfers, err := cat.Transfers(ctx, run.ID)
			if err != nil {
				return err
			}
			archives, err := cat.Archives(ctx, run.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"run": run, "files": files, "transfers": transfers, "archives": archives})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s\n", run.ID)
			fmt.Fprintf(out, "  dir:      %s\n", run.Dir)
			fmt.Fprintf(out, "  prefix:   %s\n", run.Prefix)
			fmt.Fprintf(out, "  cores:    %d\n", run.NCores)
			fmt.Fprintf(out, "  ticks:    %s\n", humanize.Comma(int64(run.SimTicks)))
			fmt.Fprintf(out, "  status:   %s\n", run.Status)
			fmt.Fprintf(out, "  created:  %s\n", run.CreatedAt.Local().Format(time.DateTime))
			if run.FinishedAt != nil {
				fmt.Fprintf(out, "  finished: %s (%s)\n", run.FinishedAt.Local().Format(time.DateTime), run.Duration)
			}
			if run.Note != "" {
				fmt.Fprintf(out, "  note:     %s\n", run.Note)
			}
			var total int64
			for _, f := range files {
				total += f.Bytes
			}
			fmt.Fprintf(out, "Files (%d, %s):\n", len(files), humanize.Bytes(uint64(total)))
			for _, f := range files {
				fmt.Fprintf(out, "  %-6s %-40s %10s  %s\n", f.Role, filepath.Base(f.Path), humanize.Bytes(uint64(f.Bytes)), f.SHA256[:12])
			}
			if len(transfers) > 0 {
				fmt.Fprintln(out, "Weight transfers:")
				for _, t := range transfers {
					fmt.Fprintf(out, "  %s -> %s  core %d  %d words  %s\n",
						t.SrcRun, t.DstRun, t.Core, t.Words, humanize.Time(t.CreatedAt))
				}
			}
			if len(archives) > 0 {
				fmt.Fprintln(out, "Archives:")
				for _, a := range archives {
					fmt.Fprintf(out, "  %s  %d files  %s  %s\n",
						a.Path, a.FileCount, humanize.Bytes(uint64(a.Bytes)), humanize.Time(a.CreatedAt))
				}
			}
			return nil
		},
	}
}

func newRunsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Check recorded files against their checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			if cat == nil {
				return fmt.Errorf("the catalog is disabled")
			}
			defer cat.Close()

			if _, err := cat.GetRun(ctx, args[0]); err != nil {
				return err
			}
			changed, err := cat.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"run_id": args[0], "valid": len(changed) == 0, "changed": changed})
			}
			out := cmd.OutOrStdout()
			if len(changed) == 0 {
				fmt.Fprintln(out, "All recorded files match.")
				return nil
			}
			fmt.Fprintf(out, "%d files changed or missing:\n", len(changed))
			for _, p := range changed {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return fmt.Errorf("run %s failed verification", args[0])
		},
	}
}
