package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists run records in a SQLite database file using the pure
// Go modernc.org/sqlite driver (no cgo).
//
// The database runs in WAL mode with a single connection, which serializes
// writers and lets concurrent runs save safely.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./runs.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	exec, err := graph.NewExecutor(g, graph.WithStore(st))
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open, required for :memory:
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			state TEXT NOT NULL,
			trace TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_started ON workflow_runs(started_at)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_started: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// SaveRun implements Store.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := validateRun(run); err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (run_id, status, error, steps, started_at, finished_at, state, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			steps = excluded.steps,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			state = excluded.state,
			trace = excluded.trace
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Status, run.Error, run.Steps,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		string(jsonOrNull(run.State)), string(jsonOrNull(run.Trace)),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (Run, error) {
	if s.isClosed() {
		return Run{}, ErrClosed
	}
	return loadRun(ctx, s.db, id)
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return listRuns(ctx, s.db, opts)
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return deleteRun(ctx, s.db, id)
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Further calls return ErrClosed; closing twice
// is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
