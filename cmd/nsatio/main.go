package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nvandessel/nsatio/internal/catalog"
	"github.com/nvandessel/nsatio/internal/config"
	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/logging"
	"github.com/nvandessel/nsatio/internal/pathutil"
	"github.com/nvandessel/nsatio/internal/reader"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nsatio",
		Short: "NSAT simulator file set writer and reader",
		Long: `nsatio writes the binary configuration files the NSAT simulator
consumes, runs the simulator over them and reads its result files back.

A run is a directory of files sharing one prefix. Commands that operate on
an existing run take --dir and --prefix, or --run with a catalog ID.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: error, warn, info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newWriteCmd(),
		newInspectCmd(),
		newReadCmd(),
		newExportCmd(),
		newRunCmd(),
		newTransferCmd(),
		newRunsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(cmd, map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "nsatio version %s\n", version)
			return nil
		},
	}
}

// loadConfig loads and validates the configuration, applying --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays parseable.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openCatalog returns nil when the catalog is disabled.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	if !cfg.Catalog.Enabled {
		return nil, nil
	}
	if _, err := pathutil.EnsureDir(filepath.Dir(cfg.Catalog.Path), nil); err != nil {
		return nil, err
	}
	cat, err := catalog.Open(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return cat, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// addRunFlags registers the flags that locate an existing run.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", "", "Run directory")
	cmd.Flags().String("prefix", "", "File name prefix of the run")
	cmd.Flags().String("run", "", "Catalog run ID (instead of --dir/--prefix)")
}

// runRef is a located run.
type runRef struct {
	ID    string
	Files fileset.FileSet
}

// resolveRun locates the run named by --run or --dir/--prefix and sizes its
// file set from the params file. A run given by directory picks up its
// catalog ID when the catalog knows it.
func resolveRun(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*runRef, error) {
	id, _ := cmd.Flags().GetString("run")
	dir, _ := cmd.Flags().GetString("dir")
	prefix, _ := cmd.Flags().GetString("prefix")
	if id == "" && dir == "" {
		return nil, fmt.Errorf("either --dir or --run is required")
	}
	return locateRun(cmd.Context(), cfg, logger, id, dir, prefix)
}

func locateRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, id, dir, prefix string) (*runRef, error) {
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		defer cat.Close()
	}

	if id != "" {
		if cat == nil {
			return nil, fmt.Errorf("--run needs the catalog, which is disabled")
		}
		run, err := cat.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		dir, prefix = run.Dir, run.Prefix
	} else {
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("failed to resolve directory: %w", err)
		}
		if cat != nil {
			run, err := cat.FindRun(ctx, dir, prefix)
			switch {
			case err == nil:
				id = run.ID
			case !errors.Is(err, catalog.ErrNotFound):
				logger.Warn("catalog lookup failed", "error", err)
			}
		}
	}

	files, err := openFileSet(dir, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &runRef{ID: id, Files: files}, nil
}

// checkPrefix rejects prefixes that would place files outside dir.
func checkPrefix(dir, prefix string) error {
	if err := pathutil.ValidatePath(fileset.New(dir, prefix, 0).Params(), []string{dir}); err != nil {
		return fmt.Errorf("invalid prefix %q: %w", prefix, err)
	}
	return nil
}

// openFileSet reads the core count of an existing run from its params file.
func openFileSet(dir, prefix string, logger *slog.Logger) (fileset.FileSet, error) {
	if err := checkPrefix(dir, prefix); err != nil {
		return fileset.FileSet{}, err
	}
	probe := fileset.New(dir, prefix, 0)
	params, err := reader.New(probe, logger).Params()
	if err != nil {
		return fileset.FileSet{}, err
	}
	return fileset.New(dir, prefix, int(params.NCores)), nil
}

// coreRange returns [core] when --core is set, otherwise every core.
func coreRange(cmd *cobra.Command, nCores int) ([]int, error) {
	core, _ := cmd.Flags().GetInt("core")
	if core >= 0 {
		if core >= nCores {
			return nil, fmt.Errorf("core %d out of range [0, %d)", core, nCores)
		}
		return []int{core}, nil
	}
	cores := make([]int, nCores)
	for i := range cores {
		cores[i] = i
	}
	return cores, nil
}
