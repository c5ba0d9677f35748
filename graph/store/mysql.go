package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists run records in MySQL or Aurora MySQL.
//
// DSN format follows github.com/go-sql-driver/mysql, for example
//
//	user:password@tcp(localhost:3306)/stepgraph
//
// Pass credentials through the environment rather than hardcoding them.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to dsn, verifies the connection and ensures the
// schema exists.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Prevent stale connections
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			error TEXT NOT NULL,
			steps INT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			state JSON NOT NULL,
			trace JSON NOT NULL,
			INDEX idx_runs_started (started_at),
			INDEX idx_runs_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	return nil
}

func (m *MySQLStore) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// SaveRun implements Store.
func (m *MySQLStore) SaveRun(ctx context.Context, run Run) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := validateRun(run); err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (run_id, status, error, steps, started_at, finished_at, state, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			error = VALUES(error),
			steps = VALUES(steps),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at),
			state = VALUES(state),
			trace = VALUES(trace)
	`
	_, err := m.db.ExecContext(ctx, query,
		run.ID, run.Status, run.Error, run.Steps,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		jsonOrNull(run.State), jsonOrNull(run.Trace),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (m *MySQLStore) LoadRun(ctx context.Context, id string) (Run, error) {
	if m.isClosed() {
		return Run{}, ErrClosed
	}
	return loadRun(ctx, m.db, id)
}

// ListRuns implements Store.
func (m *MySQLStore) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return listRuns(ctx, m.db, opts)
}

// DeleteRun implements Store.
func (m *MySQLStore) DeleteRun(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrClosed
	}
	return deleteRun(ctx, m.db, id)
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.db.PingContext(ctx)
}

// Close closes the connection pool. Closing twice is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
