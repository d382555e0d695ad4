// Package logging holds the two log outputs of nsatio: a leveled slog.Logger
// on stderr, and a per-run JSONL trace (<run dir>/nsatio_run.jsonl) that the
// write, run, transfer and archive commands append stage events to.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug. Decoders log every record at this level.
const LevelTrace = slog.LevelDebug - 4

// RunLogFile is the name of the JSONL trace inside a run directory.
const RunLogFile = "nsatio_run.jsonl"

// ParseLevel maps a level name to a slog.Level. Matching ignores case and
// unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger on w filtered at level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// RunLogger appends stage events to a run directory's JSONL trace.
// Methods are safe for concurrent use and are no-ops on a nil receiver, so
// callers never need to check whether tracing is enabled.
type RunLogger struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	now func() time.Time
}

// NewRunLogger opens dir/nsatio_run.jsonl for append, creating dir if needed.
// Tracing only happens at debug or trace level; at any other level, or when
// the file cannot be opened, it returns nil.
func NewRunLogger(dir, level string) *RunLogger {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, RunLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	return &RunLogger{f: f, enc: json.NewEncoder(f), now: time.Now}
}

// Event writes one line {"time": ..., "event": name, k1: v1, ...}. Arguments
// after name are alternating keys and values in the style of slog; a key that
// is not a string is formatted with %v and a trailing key gets a nil value.
func (rl *RunLogger) Event(name string, kv ...any) {
	if rl == nil {
		return
	}
	entry := make(map[string]any, len(kv)/2+2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		entry[key] = val
	}
	entry["event"] = name

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.f == nil {
		return
	}
	entry["time"] = rl.now().UTC().Format(time.RFC3339Nano)
	_ = rl.enc.Encode(entry)
}

// Close closes the trace file. Later events are dropped.
func (rl *RunLogger) Close() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.f != nil {
		rl.f.Close()
		rl.f = nil
	}
}
