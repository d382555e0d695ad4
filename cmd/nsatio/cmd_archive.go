package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/nvandessel/nsatio/internal/archive"
	"github.com/nvandessel/nsatio/internal/catalog"
	"github.com/nvandessel/nsatio/internal/config"
	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/spf13/cobra"
)

func newRunsArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Pack a run's files into a compressed archive",
		Long: `Pack the inputs, results and manifest of a run into one gzip-compressed
archive with a SHA-256 checksum header. Archives go to archive.dir unless
--out is given.

Examples:
  nsatio runs archive --dir ./runs/mlp --prefix train
  nsatio runs archive --run 2f1c... --out /backups/mlp.nsatar`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			ref, err := resolveRun(cmd, cfg, logger)
			if err != nil {
				return err
			}
			if out == "" {
				out = archive.GeneratePath(cfg.Archive.Dir, ref.Files.Prefix)
			}

			meta := map[string]string{"dir": ref.Files.Dir}
			if ref.ID != "" {
				meta["run_id"] = ref.ID
			}
			header, err := archive.Write(out, ref.Files, meta)
			if err != nil {
				return fmt.Errorf("archive failed: %w", err)
			}
			logger.Debug("archive written", "path", out, "files", header.FileCount, "bytes", header.Bytes)

			rl := logging.NewRunLogger(ref.Files.Dir, cfg.Logging.Level)
			defer rl.Close()
			rl.Event("archive_done", "path", out, "files", header.FileCount, "checksum", header.Checksum)

			if ref.ID != "" {
				cat, err := openCatalog(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				if cat != nil {
					defer cat.Close()
					abs, _ := filepath.Abs(out)
					if _, err := cat.RecordArchive(cmd.Context(), catalog.Archive{
						Path:      abs,
						RunID:     ref.ID,
						Checksum:  header.Checksum,
						FileCount: header.FileCount,
						Bytes:     header.Bytes,
					}); err != nil {
						logger.Warn("failed to record archive", "run", ref.ID, "error", err)
					}
				}
			}

			if jsonOut {
				return printJSON(cmd, map[string]any{"path": out, "header": header})
			}
			size := int64(0)
			if info, err := os.Stat(out); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d files (%s, %s compressed) to %s\n",
				header.FileCount, humanize.Bytes(uint64(header.Bytes)), humanize.Bytes(uint64(size)), out)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("out", "", "Archive path (default: archive.dir/<prefix>-<timestamp>.nsatar)")
	return cmd
}

func newRunsRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Unpack an archive into a run directory",
		Long: `Verify an archive's checksum and unpack its files into --dir. When the
catalog is enabled the restored run is recorded as a new entry.

Examples:
  nsatio runs restore ~/.nsatio/archives/train-20260101-120000.nsatar --dir ./restored`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			if dir, err = filepath.Abs(dir); err != nil {
				return fmt.Errorf("failed to resolve directory: %w", err)
			}
			header, written, err := archive.Extract(args[0], dir)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			logger.Debug("archive restored", "path", args[0], "dir", dir, "files", len(written))

			var runID string
			cat, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			if cat != nil {
				defer cat.Close()
				runID, err = recordRestored(cmd, cat, header, dir, written, args[0])
				if err != nil {
					return err
				}
			}

			if jsonOut {
				return printJSON(cmd, map[string]any{
					"run_id": runID,
					"dir":    dir,
					"prefix": header.Prefix,
					"files":  written,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d files of %q to %s\n", len(written), header.Prefix, dir)
			if runID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Catalog run: %s\n", runID)
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Directory to restore into (required)")
	return cmd
}

// recordRestored registers an extracted run, splitting its files into
// inputs and results by name.
func recordRestored(cmd *cobra.Command, cat *catalog.Catalog, h *archive.Header, dir string, written []string, source string) (string, error) {
	ctx := cmd.Context()
	files := fileset.New(dir, h.Prefix, h.NCores)
	results := files.Results()

	var inputs, outputs []string
	for _, p := range written {
		if slices.Contains(results, p) {
			outputs = append(outputs, p)
		} else {
			inputs = append(inputs, p)
		}
	}
	status := catalog.StatusWritten
	if len(outputs) > 0 {
		status = catalog.StatusDone
	}

	run, err := cat.CreateRun(ctx, catalog.Run{
		Dir:    dir,
		Prefix: h.Prefix,
		NCores: h.NCores,
		Status: status,
		Note:   "restored from " + filepath.Base(source),
	})
	if err != nil {
		return "", err
	}
	if _, err := cat.RecordFiles(ctx, run.ID, catalog.RoleInput, inputs); err != nil {
		return "", err
	}
	if len(outputs) > 0 {
		if _, err := cat.RecordFiles(ctx, run.ID, catalog.RoleResult, outputs); err != nil {
			return "", err
		}
	}
	return run.ID, nil
}

func newRunsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archives outside the retention policy",
		Long: `Apply a retention policy to the archive directory. An archive survives if
any given limit keeps it. With no limits, archive.max_count is used.
--per-prefix applies the limits to each run prefix's archives on their own.

Examples:
  nsatio runs prune --keep 5
  nsatio runs prune --max-age 30d --max-size 2GiB
  nsatio runs prune --keep 3 --dry-run
  nsatio runs prune --keep 2 --per-prefix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			maxAge, _ := cmd.Flags().GetString("max-age")
			maxSize, _ := cmd.Flags().GetString("max-size")
			perPrefix, _ := cmd.Flags().GetBool("per-prefix")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.Archive.Dir
			if cmd.Flags().Changed("archive-dir") {
				dir, _ = cmd.Flags().GetString("archive-dir")
			}

			var policies []archive.RetentionPolicy
			if cmd.Flags().Changed("keep") {
				keep, _ := cmd.Flags().GetInt("keep")
				if keep < 0 {
					return fmt.Errorf("--keep must be non-negative")
				}
				policies = append(policies, &archive.CountPolicy{MaxCount: keep})
			}
			if maxAge != "" {
				d, err := archive.ParseDuration(maxAge)
				if err != nil {
					return err
				}
				policies = append(policies, &archive.AgePolicy{MaxAge: d})
			}
			if maxSize != "" {
				n, err := archive.ParseSize(maxSize)
				if err != nil {
					return err
				}
				policies = append(policies, &archive.SizePolicy{MaxTotalBytes: n})
			}
			if len(policies) == 0 {
				if cfg.Archive.MaxCount == 0 {
					return printPruned(cmd, jsonOut, dir, nil, dryRun)
				}
				policies = append(policies, &archive.CountPolicy{MaxCount: cfg.Archive.MaxCount})
			}
			var policy archive.RetentionPolicy = &archive.CompositePolicy{Policies: policies}
			if perPrefix {
				policy = &archive.PerPrefix{Policy: policy}
			}

			var deleted []string
			if dryRun {
				_, drop, err := archive.Plan(dir, policy)
				if err != nil {
					return err
				}
				for _, a := range drop {
					deleted = append(deleted, a.Path)
				}
			} else {
				deleted, err = archive.ApplyRetention(dir, policy)
				if err != nil {
					return err
				}
				if err := forgetPruned(cmd, cfg, deleted); err != nil {
					return err
				}
			}
			return printPruned(cmd, jsonOut, dir, deleted, dryRun)
		},
	}
	cmd.Flags().String("archive-dir", "", "Archive directory (default: archive.dir)")
	cmd.Flags().Int("keep", 0, "Keep the N newest archives")
	cmd.Flags().String("max-age", "", "Keep archives younger than this (e.g. 30d, 2w, 720h)")
	cmd.Flags().String("max-size", "", "Keep the newest archives within this total size (e.g. 500MB, 2GiB)")
	cmd.Flags().Bool("per-prefix", false, "Apply the limits to each run prefix separately")
	cmd.Flags().Bool("dry-run", false, "List what would be deleted without deleting")
	return cmd
}

func printPruned(cmd *cobra.Command, jsonOut bool, dir string, deleted []string, dryRun bool) error {
	if jsonOut {
		if deleted == nil {
			deleted = []string{}
		}
		return printJSON(cmd, map[string]any{"dir": dir, "deleted": deleted, "dry_run": dryRun})
	}
	out := cmd.OutOrStdout()
	if len(deleted) == 0 {
		fmt.Fprintln(out, "Nothing to prune.")
		return nil
	}
	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	fmt.Fprintf(out, "%s %d archives:\n", verb, len(deleted))
	for _, p := range deleted {
		fmt.Fprintf(out, "  %s\n", filepath.Base(p))
	}
	return nil
}

// forgetPruned drops catalog entries for deleted archives.
func forgetPruned(cmd *cobra.Command, cfg *config.Config, deleted []string) error {
	if len(deleted) == 0 {
		return nil
	}
	cat, err := openCatalog(cmd.Context(), cfg)
	if err != nil || cat == nil {
		return err
	}
	defer cat.Close()
	paths := make([]string, 0, len(deleted))
	for _, p := range deleted {
		if abs, err := filepath.Abs(p); err == nil {
			paths = append(paths, abs)
		}
	}
	_, err = cat.ForgetArchives(cmd.Context(), paths)
	return err
}
