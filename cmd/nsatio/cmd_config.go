package main

import (
	"fmt"

	"github.com/nvandessel/nsatio/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show nsatio configuration",
		Long: `View the effective configuration.

Configuration is stored in ~/.nsatio/config.yaml and can be overridden with
NSATIO_* environment variables.

Examples:
  nsatio config list
  nsatio config list --json`,
	}

	cmd.AddCommand(newConfigListCmd())
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, cfg)
			}

			path, _ := config.DefaultPath()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration (%s):\n", path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Simulator:")
			fmt.Fprintf(out, "  simulator.path:       %s\n", cfg.Simulator.Path)
			fmt.Fprintf(out, "  simulator.args:       %s\n", fmt.Sprint(cfg.Simulator.Args))
			fmt.Fprintf(out, "  simulator.timeout:    %v\n", cfg.Simulator.Timeout)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Writer:")
			fmt.Fprintf(out, "  writer.runs_dir:      %s\n", cfg.Writer.RunsDir)
			fmt.Fprintf(out, "  writer.channel_shift: %d\n", cfg.Writer.ChannelShift)
			fmt.Fprintf(out, "  writer.single_stream: %v\n", cfg.Writer.SingleStream)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Catalog:")
			fmt.Fprintf(out, "  catalog.enabled:      %v\n", cfg.Catalog.Enabled)
			fmt.Fprintf(out, "  catalog.path:         %s\n", valueOrDefault(cfg.Catalog.Path, "(not set)"))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Archive:")
			fmt.Fprintf(out, "  archive.dir:          %s\n", cfg.Archive.Dir)
			fmt.Fprintf(out, "  archive.max_count:    %d\n", cfg.Archive.MaxCount)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Logging:")
			fmt.Fprintf(out, "  logging.level:        %s\n", valueOrDefault(cfg.Logging.Level, "info"))
			return nil
		},
	}
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
