// Package catalog records written and simulated runs in a SQLite database:
// where each file set lives, a content hash of every file, the simulator
// outcome and weight transfers between runs.
package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Run states.
const (
	StatusWritten = "written"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// File roles.
const (
	RoleInput  = "input"
	RoleResult = "result"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one catalog entry.
type Run struct {
	ID         string        `json:"id"`
	Dir        string        `json:"dir"`
	Prefix     string        `json:"prefix"`
	NCores     int           `json:"n_cores"`
	SimTicks   uint64        `json:"sim_ticks"`
	Status     string        `json:"status"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// File is one recorded file of a run.
type File struct {
	Role   string `json:"role"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Transfer records a final weight table copied from one run's results
// into another run's inputs.
type Transfer struct {
	ID        string    `json:"id"`
	SrcRun    string    `json:"src_run"`
	DstRun    string    `json:"dst_run"`
	Core      int       `json:"core"`
	Words     int       `json:"words"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog is a SQLite-backed run catalog.
type Catalog struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the catalog at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// CreateRun inserts r with a new ID and StatusWritten unless r.Status is
// set. It returns the stored run.
func (c *Catalog) CreateRun(ctx context.Context, r Run) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.ID = uuid.NewString()
	if r.Status == "" {
		r.Status = StatusWritten
	}
	r.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, dir, prefix, n_cores, sim_ticks, status, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Dir, r.Prefix, r.NCores, int64(r.SimTicks), r.Status, r.Note,
		r.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return &r, nil
}

// FinishRun sets the final status and duration of a run.
func (c *Catalog) FinishRun(ctx context.Context, id, status string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, duration_ms = ? WHERE id = ?`,
		status, time.Now().UTC().Format(timeLayout), d.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetRun returns the run with the given ID.
func (c *Catalog) GetRun(ctx context.Context, id string) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := c.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// FindRun returns the newest run written to dir with prefix.
func (c *Catalog) FindRun(ctx context.Context, dir, prefix string) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := c.db.QueryRowContext(ctx,
		selectRuns+` WHERE dir = ? AND prefix = ? ORDER BY created_at DESC, id LIMIT 1`, dir, prefix)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, dir, prefix)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := selectRuns + ` ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const selectRuns = `SELECT id, dir, prefix, n_cores, sim_ticks, status, note, created_at, finished_at, duration_ms FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		simTicks   int64
		createdAt  string
		finishedAt sql.NullString
		durationMS sql.NullInt64
	)
	err := s.Scan(&r.ID, &r.Dir, &r.Prefix, &r.NCores, &simTicks, &r.Status, &r.Note,
		&createdAt, &finishedAt, &durationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.SimTicks = uint64(simTicks)
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		r.CreatedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(timeLayout, finishedAt.String); err == nil {
			r.FinishedAt = &t
		}
	}
	if durationMS.Valid {
		r.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return &r, nil
}

// RecordFiles hashes every existing path and stores it under role. Paths
// that do not exist are skipped. Re-recording a path replaces its entry.
func (c *Catalog) RecordFiles(ctx context.Context, runID, role string, paths []string) ([]File, error) {
	var files []File
	for _, p := range paths {
		f, err := hashFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		f.Role = role
		files = append(files, *f)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range files {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO files (run_id, role, path, bytes, sha256) VALUES (?, ?, ?, ?, ?)`,
			runID, f.Role, f.Path, f.Bytes, f.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to record file: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit files: %w", err)
	}
	return files, nil
}

// Files returns the recorded files of a run ordered by role and path.
func (c *Catalog) Files(ctx context.Context, runID string) ([]File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT role, path, bytes, sha256 FROM files WHERE run_id = ? ORDER BY role, path`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Role, &f.Path, &f.Bytes, &f.SHA256); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Verify rehashes the recorded files of a run and returns the paths whose
// content changed or that disappeared.
func (c *Catalog) Verify(ctx context.Context, runID string) ([]string, error) {
	files, err := c.Files(ctx, runID)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, f := range files {
		cur, err := hashFile(f.Path)
		if err != nil || cur.SHA256 != f.SHA256 {
			changed = append(changed, f.Path)
		}
	}
	return changed, nil
}

// RecordTransfer stores a weight transfer and returns it with its ID.
func (c *Catalog) RecordTransfer(ctx context.Context, t Transfer) (*Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO transfers (id, src_run, dst_run, core, words, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SrcRun, t.DstRun, t.Core, t.Words, t.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}
	return &t, nil
}

// Transfers returns the transfers into or out of a run, oldest first.
func (c *Catalog) Transfers(ctx context.Context, runID string) ([]Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, src_run, dst_run, core, words, created_at FROM transfers
		 WHERE src_run = ? OR dst_run = ? ORDER BY created_at, id`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var created string
		if err := rows.Scan(&t.ID, &t.SrcRun, &t.DstRun, &t.Core, &t.Words, &created); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func hashFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return &File{Path: path, Bytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Archive records an archive file written from a cataloged run.
type Archive struct {
	Path      string    `json:"path"`
	RunID     string    `json:"run_id"`
	Checksum  string    `json:"checksum"`
	FileCount int       `json:"file_count"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordArchive stores a. Writing the same path again replaces the entry.
func (c *Catalog) RecordArchive(ctx context.Context, a Archive) (*Archive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archives (path, run_id, checksum, file_count, bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Path, a.RunID, a.Checksum, a.FileCount, a.Bytes, a.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to record archive: %w", err)
	}
	return &a, nil
}

// Archives returns the archives taken of a run, oldest first.
func (c *Catalog) Archives(ctx context.Context, runID string) ([]Archive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT path, run_id, checksum, file_count, bytes, created_at FROM archives
		 WHERE run_id = ? ORDER BY created_at, path`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archives: %w", err)
	}
	defer rows.Close()

	var out []Archive
	for rows.Next() {
		var a Archive
		var created string
		if err := rows.Scan(&a.Path, &a.RunID, &a.Checksum, &a.FileCount, &a.Bytes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			a.CreatedAt = ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ForgetArchives drops the entries for deleted archive files. Unknown paths
// are ignored. It returns how many entries were removed.
func (c *Catalog) ForgetArchives(ctx context.Context, paths []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, p := range paths {
		res, err := c.db.ExecContext(ctx, `DELETE FROM archives WHERE path = ?`, p)
		if err != nil {
			return int(n), fmt.Errorf("failed to forget archive: %w", err)
		}
		if k, err := res.RowsAffected(); err == nil {
			n += k
		}
	}
	return int(n), nil
}
