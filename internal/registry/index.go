package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Index is a queryable SQLite mirror of the registry log. It holds nothing
// the log does not, and Rebuild restores it from the log at any time.
type Index struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenIndex opens (creating if needed) the SQLite index at path.
func OpenIndex(path string) (*Index, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, dbPath: path}
	if err := idx.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registry_entries (
		seq INTEGER PRIMARY KEY,
		iter_id TEXT NOT NULL,
		timestamp_utc TEXT,
		status TEXT NOT NULL,
		stage TEXT,
		error TEXT,
		artifacts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_registry_iter ON registry_entries(iter_id);
	CREATE INDEX IF NOT EXISTS idx_registry_status ON registry_entries(status);
	`
	if _, err := x.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create registry_entries table: %w", err)
	}
	return nil
}

func (x *Index) Path() string { return x.dbPath }

// Insert mirrors one entry. seq is its zero-based position in the log.
func (x *Index) Insert(ctx context.Context, seq int, e Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return insertEntry(ctx, x.db, seq, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, seq int, e Entry) error {
	artifacts, err := json.Marshal(e.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	var ts sql.NullString
	if e.TimestampUTC != nil {
		ts = sql.NullString{String: *e.TimestampUTC, Valid: true}
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO registry_entries (seq, iter_id, timestamp_utc, status, stage, error, artifacts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seq, e.IterID, ts, string(e.Status), nullable(e.Stage), nullable(e.Error), string(artifacts))
	if err != nil {
		return fmt.Errorf("failed to insert registry entry: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status Status
	IterID string
	Limit  int
}

// List returns mirrored entries, newest first.
func (x *Index) List(ctx context.Context, f Filter) ([]Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	query := `SELECT iter_id, timestamp_utc, status, stage, error, artifacts FROM registry_entries WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.IterID != "" {
		query += ` AND iter_id = ?`
		args = append(args, f.IterID)
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			ts, stage, errTx sql.NullString
			status, arts     string
		)
		if err := rows.Scan(&e.IterID, &ts, &status, &stage, &errTx, &arts); err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		e.Status = Status(status)
		if ts.Valid {
			v := ts.String
			e.TimestampUTC = &v
		}
		e.Stage = stage.String
		e.Error = errTx.String
		if err := json.Unmarshal([]byte(arts), &e.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode artifacts: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of mirrored entries.
func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registry_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count registry entries: %w", err)
	}
	return n, nil
}

// Rebuild replaces the mirror's contents with entries in one transaction.
func (x *Index) Rebuild(ctx context.Context, entries []Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_entries`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear registry_entries: %w", err)
	}
	for i, e := range entries {
		if err := insertEntry(ctx, tx, i, e); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return nil
}

func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}
