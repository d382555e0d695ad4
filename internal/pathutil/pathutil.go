// Package pathutil holds path helpers shared by the writer, the catalog and
// the CLI: output directory creation, containment checks and redaction.
package pathutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for log lines and
// error messages. "/home/user/runs/mlp/_params.dat" becomes ".../mlp/_params.dat".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// PathError records a rejected or unusable output path. Path is already
// redacted so the error can be logged as is.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Sentinel causes carried by PathError.
var (
	ErrEmptyPath     = errors.New("path is empty")
	ErrNoAllowedDirs = errors.New("no allowed directories configured")
	ErrNullByte      = errors.New("path contains null byte")
	ErrOutside       = errors.New("path is outside allowed directories")
	ErrNotDir        = errors.New("not a directory")
)

// EnsureDir creates dir when it does not exist. A missing directory is not an
// error: it is created and a warning is logged. It reports whether the
// directory was created.
func EnsureDir(dir string, logger *slog.Logger) (bool, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return false, nil
	case err == nil:
		return false, &PathError{Op: "output dir", Path: RedactPath(dir), Err: ErrNotDir}
	case !os.IsNotExist(err):
		return false, &PathError{Op: "stat output dir", Path: RedactPath(dir), Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, &PathError{Op: "create output dir", Path: RedactPath(dir), Err: err}
	}
	if logger != nil {
		logger.Warn("output directory did not exist, created it", "dir", dir)
	}
	return true, nil
}

// ValidatePath reports whether path lies inside one of allowedDirs once
// symlinks are resolved. The file itself need not exist. Failures are
// *PathError values wrapping one of the Err* sentinels.
func ValidatePath(path string, allowedDirs []string) error {
	fail := func(p string, cause error) error {
		return &PathError{Op: "validate", Path: p, Err: cause}
	}
	switch {
	case path == "":
		return fail("", ErrEmptyPath)
	case len(allowedDirs) == 0:
		return fail(RedactPath(path), ErrNoAllowedDirs)
	case strings.ContainsRune(path, '\x00'):
		return fail("", ErrNullByte)
	}

	target, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fail(RedactPath(path), err)
	}
	parent, err := resolveExistingParent(filepath.Dir(target))
	if err != nil {
		return fail(RedactPath(target), err)
	}
	target = filepath.Join(parent, filepath.Base(target))

	for _, dir := range allowedDirs {
		root, err := filepath.Abs(filepath.Clean(dir))
		if err != nil {
			continue
		}
		if root, err = resolveExistingParent(root); err != nil {
			continue
		}
		if isSubpath(target, root) {
			return nil
		}
	}
	return fail(RedactPath(target), ErrOutside)
}

// resolveExistingParent resolves symlinks on the deepest existing ancestor of
// dir and re-appends the missing tail.
func resolveExistingParent(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExistingParent(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// isSubpath checks whether path is equal to or below base.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// DefaultRunsDir returns ~/.nsatio/runs, the default root for run file sets.
func DefaultRunsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".nsatio", "runs"), nil
}
