package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Queries shared by the SQL stores. Timestamps are stored as Unix
// nanoseconds so ordering and round-trips behave the same on every driver.
const (
	selectRunColumns = `SELECT run_id, status, error, steps, started_at, finished_at, state, trace FROM workflow_runs`
	deleteRunQuery   = `DELETE FROM workflow_runs WHERE run_id = ?`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run             Run
		started, finish int64
		state, trace    []byte
	)
	if err := row.Scan(&run.ID, &run.Status, &run.Error, &run.Steps, &started, &finish, &state, &trace); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finish).UTC()
	run.State = state
	run.Trace = trace
	return run, nil
}

func loadRun(ctx context.Context, db *sql.DB, id string) (Run, error) {
	run, err := scanRun(db.QueryRowContext(ctx, selectRunColumns+` WHERE run_id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

func listRuns(ctx context.Context, db *sql.DB, opts ListOptions) ([]Run, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(selectRunColumns)
	if opts.Status != "" {
		query.WriteString(` WHERE status = ?`)
		args = append(args, opts.Status)
	}
	query.WriteString(` ORDER BY started_at DESC, run_id ASC`)
	if opts.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func deleteRun(ctx context.Context, db *sql.DB, id string) error {
	res, err := db.ExecContext(ctx, deleteRunQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
