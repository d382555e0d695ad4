package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrations[i] takes a catalog from version i to version i+1.
var migrations = []string{
	`
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    dir TEXT NOT NULL,
    prefix TEXT NOT NULL,
    n_cores INTEGER NOT NULL,
    sim_ticks INTEGER NOT NULL,
    status TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    finished_at TEXT,
    duration_ms INTEGER
);
CREATE INDEX idx_runs_created ON runs(created_at);

CREATE TABLE files (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    path TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    sha256 TEXT NOT NULL,
    PRIMARY KEY (run_id, path)
);

CREATE TABLE transfers (
    id TEXT PRIMARY KEY,
    src_run TEXT NOT NULL REFERENCES runs(id),
    dst_run TEXT NOT NULL REFERENCES runs(id),
    core INTEGER NOT NULL,
    words INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
`,
	`
CREATE TABLE archives (
    path TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    checksum TEXT NOT NULL,
    file_count INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX idx_archives_run ON archives(run_id);
`,
}

// SchemaVersion is the version a freshly opened catalog ends up at.
var SchemaVersion = len(migrations)

// InitSchema brings db up to SchemaVersion, applying each missing migration
// in its own transaction. A catalog written by a newer nsatio is refused.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("catalog schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

func migrate(ctx context.Context, db *sql.DB, to int, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migration to v%d failed: %w", to, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		to, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", to, err)
	}
	return tx.Commit()
}
