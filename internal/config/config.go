// Package config provides unified configuration loading for nsatio.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all nsatio configuration settings.
type Config struct {
	// Simulator configures the external simulator binary.
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`

	// Writer holds defaults for writing run file sets.
	Writer WriterConfig `json:"writer" yaml:"writer"`

	// Catalog configures the SQLite run catalog.
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Archive configures run archives.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Logging contains settings for operational logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulatorConfig locates and bounds the simulator process.
type SimulatorConfig struct {
	// Path is the simulator executable. Supports ${VAR} syntax.
	Path string `json:"path" yaml:"path"`

	// Args are passed before the manifest path.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Timeout bounds one run. Zero means no limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// WriterConfig holds writer defaults.
type WriterConfig struct {
	// RunsDir is where file sets are written when no directory is given.
	RunsDir string `json:"runs_dir" yaml:"runs_dir"`

	// ChannelShift is the bit position of the channel in single-stream
	// event addresses.
	ChannelShift uint `json:"channel_shift" yaml:"channel_shift"`

	// SingleStream selects the combined event stream file.
	SingleStream bool `json:"single_stream" yaml:"single_stream"`
}

// CatalogConfig configures the run catalog.
type CatalogConfig struct {
	// Enabled records written and simulated runs in the catalog.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file. Supports ${VAR} syntax.
	Path string `json:"path" yaml:"path"`
}

// ArchiveConfig configures where run archives are kept and how many.
type ArchiveConfig struct {
	// Dir receives archives when no output path is given. Supports ${VAR} syntax.
	Dir string `json:"dir" yaml:"dir"`

	// MaxCount is the default number of archives prune keeps. Zero keeps all.
	MaxCount int `json:"max_count" yaml:"max_count"`
}

// LoggingConfig configures nsatio's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default), "debug"
	// or "trace". The run trace is only written at debug and trace.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".nsatio")
	return &Config{
		Simulator: SimulatorConfig{
			Path:    "nsat",
			Timeout: 30 * time.Minute,
		},
		Writer: WriterConfig{
			RunsDir:      filepath.Join(base, "runs"),
			ChannelShift: 16,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    filepath.Join(base, "catalog.db"),
		},
		Archive: ArchiveConfig{
			Dir:      filepath.Join(base, "archives"),
			MaxCount: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.nsatio/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nsatio", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.nsatio/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Simulator.Path = expandEnvVars(config.Simulator.Path)
	config.Writer.RunsDir = expandEnvVars(config.Writer.RunsDir)
	config.Catalog.Path = expandEnvVars(config.Catalog.Path)
	config.Archive.Dir = expandEnvVars(config.Archive.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Simulator.Timeout < 0 {
		return fmt.Errorf("simulator timeout must be non-negative, got %v", c.Simulator.Timeout)
	}

	if c.Writer.ChannelShift == 0 || c.Writer.ChannelShift > 63 {
		return fmt.Errorf("channel_shift must be between 1 and 63, got %d", c.Writer.ChannelShift)
	}

	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required when the catalog is enabled")
	}

	if c.Archive.MaxCount < 0 {
		return fmt.Errorf("archive max_count must be non-negative, got %d", c.Archive.MaxCount)
	}

	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("NSATIO_SIMULATOR"); v != "" {
		config.Simulator.Path = v
	}

	if v := os.Getenv("NSATIO_SIM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Simulator.Timeout = d
		}
	}

	if v := os.Getenv("NSATIO_RUNS_DIR"); v != "" {
		config.Writer.RunsDir = v
	}

	if v := os.Getenv("NSATIO_CHANNEL_SHIFT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			config.Writer.ChannelShift = uint(n)
		}
	}

	if v := os.Getenv("NSATIO_CATALOG"); v != "" {
		switch v {
		case "off", "false", "0":
			config.Catalog.Enabled = false
		default:
			config.Catalog.Enabled = true
			config.Catalog.Path = v
		}
	}

	if v := os.Getenv("NSATIO_ARCHIVE_DIR"); v != "" {
		config.Archive.Dir = v
	}

	if v := os.Getenv("NSATIO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
