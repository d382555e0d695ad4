package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/nsatio/internal/catalog"
	"github.com/nvandessel/nsatio/internal/codec"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/pathutil"
	"github.com/nvandessel/nsatio/internal/reader"
	"github.com/spf13/cobra"
)

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Copy trained weights from one run into another",
		Long: `Copy the final weight table a simulated run left for a core into the
weight table file of another run, typically from a training run into the
matching test run. The destination run keeps its pointer table, so both
weight tables must have the same length unless --force is given.

The source is given with --from-dir/--from-prefix or --from-run, the
destination with --dir/--prefix or --run.

Examples:
  nsatio transfer --from-dir ./runs/mlp --from-prefix train --dir ./runs/mlp --prefix test
  nsatio transfer --from-run 2f1c... --run 9ab0... --core 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			core, _ := cmd.Flags().GetInt("core")
			toCore, _ := cmd.Flags().GetInt("to-core")
			force, _ := cmd.Flags().GetBool("force")
			fromID, _ := cmd.Flags().GetString("from-run")
			fromDir, _ := cmd.Flags().GetString("from-dir")
			fromPrefix, _ := cmd.Flags().GetString("from-prefix")
			if fromID == "" && fromDir == "" {
				return fmt.Errorf("either --from-dir or --from-run is required")
			}
			if core < 0 {
				return fmt.Errorf("--core must be non-negative")
			}
			if toCore < 0 {
				toCore = core
			}
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			src, err := locateRun(ctx, cfg, logger, fromID, fromDir, fromPrefix)
			if err != nil {
				return fmt.Errorf("source run: %w", err)
			}
			dst, err := resolveRun(cmd, cfg, logger)
			if err != nil {
				return fmt.Errorf("destination run: %w", err)
			}
			if core >= src.Files.NCores || toCore >= dst.Files.NCores {
				return fmt.Errorf("core out of range: source has %d cores, destination %d", src.Files.NCores, dst.Files.NCores)
			}

			weights, err := reader.New(src.Files, logger).SharedMem(core)
			if err != nil {
				return err
			}
			current, err := reader.New(dst.Files, logger).WgtTable(toCore)
			switch {
			case err == nil:
				if len(current) != len(weights) && !force {
					return fmt.Errorf("weight table length mismatch: source has %d words, destination %d (use --force)", len(weights), len(current))
				}
			case errors.Is(err, os.ErrNotExist):
			default:
				return err
			}

			path := dst.Files.WgtTable(toCore)
			if err := pathutil.ValidatePath(path, []string{dst.Files.Dir}); err != nil {
				return err
			}
			if err := replaceWgtTable(path, weights); err != nil {
				return err
			}
			logger.Debug("transferred weights", "from", pathutil.RedactPath(src.Files.SharedMem(core)), "to", pathutil.RedactPath(path), "words", len(weights))

			rl := logging.NewRunLogger(dst.Files.Dir, cfg.Logging.Level)
			rl.Event("weight_transfer", "src_dir", src.Files.Dir, "src_prefix", src.Files.Prefix, "core", toCore, "words", len(weights))
			rl.Close()

			var transferID string
			if src.ID != "" && dst.ID != "" {
				cat, err := openCatalog(ctx, cfg)
				if err != nil {
					return err
				}
				if cat != nil {
					defer cat.Close()
					t, err := cat.RecordTransfer(ctx, catalog.Transfer{SrcRun: src.ID, DstRun: dst.ID, Core: toCore, Words: len(weights)})
					if err != nil {
						return err
					}
					if _, err := cat.RecordFiles(ctx, dst.ID, catalog.RoleInput, []string{path}); err != nil {
						return err
					}
					transferID = t.ID
				}
			}

			if jsonOut {
				return printJSON(cmd, map[string]any{
					"transfer_id": transferID,
					"from":        src.Files.SharedMem(core),
					"to":          path,
					"words":       len(weights),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %d weights from %s to %s\n",
				len(weights), filepath.Base(src.Files.SharedMem(core)), path)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("from-dir", "", "Source run directory")
	cmd.Flags().String("from-prefix", "", "Source run prefix")
	cmd.Flags().String("from-run", "", "Source catalog run ID")
	cmd.Flags().Int("core", 0, "Source core")
	cmd.Flags().Int("to-core", -1, "Destination core (default: same as --core)")
	cmd.Flags().Bool("force", false, "Allow a weight table of a different length")
	return cmd
}

// replaceWgtTable writes table next to path and renames it into place.
func replaceWgtTable(path string, table []int32) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating weight table: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := codec.EncodeWgtTable(bw, table); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing weight table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing weight table: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing weight table: %w", err)
	}
	return nil
}
