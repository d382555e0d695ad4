// Package simulator runs the external NSAT simulator against a written file
// set. The simulator is opaque: a run either exits zero or fails with
// ErrSimulatorFailed.
package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/logging"
)

// ErrSimulatorFailed matches every run that did not exit cleanly.
var ErrSimulatorFailed = errors.New("simulator failed")

// stderrTail bounds how much stderr is kept in errors.
const stderrTail = 2048

// Config locates the simulator binary.
type Config struct {
	// Path is an executable name or path, resolved with exec.LookPath.
	Path string
	// Args are passed before the manifest path.
	Args []string
	// Timeout bounds one run. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// RunError describes a failed run. It matches ErrSimulatorFailed with
// errors.Is.
type RunError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("simulator failed: %v", e.Err)
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *RunError) Unwrap() []error { return []error{ErrSimulatorFailed, e.Err} }

// Result is a successful run.
type Result struct {
	Manifest string        `json:"manifest"`
	Duration time.Duration `json:"duration"`
	Stdout   string        `json:"stdout,omitempty"`
	// Outputs lists the result files present after the run.
	Outputs []string `json:"outputs"`
}

// Runner executes the simulator.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a runner for cfg.
func New(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Available reports whether the simulator binary can be found.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.cfg.Path)
	return err == nil
}

// Run writes the file set manifest and runs the simulator with the
// manifest path as its last argument, from the file set directory. The
// process is killed when ctx is done or the timeout expires.
func (r *Runner) Run(ctx context.Context, files fileset.FileSet) (*Result, error) {
	bin, err := exec.LookPath(r.cfg.Path)
	if err != nil {
		return nil, &RunError{ExitCode: -1, Err: err}
	}
	manifest, err := files.WriteManifest()
	if err != nil {
		return nil, err
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.cfg.Args...), manifest)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = files.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("starting simulator", "bin", bin, "manifest", manifest)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		runErr := &RunError{ExitCode: -1, Stderr: tail(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			runErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, runErr
	}

	res := &Result{
		Manifest: manifest,
		Duration: time.Since(start),
		Stdout:   strings.TrimSpace(stdout.String()),
	}
	for _, path := range files.Results() {
		if _, err := os.Stat(path); err == nil {
			res.Outputs = append(res.Outputs, path)
		}
	}
	r.logger.Debug("simulator finished", "duration", res.Duration, "outputs", len(res.Outputs))
	return res, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
