// Package store persists finished workflow runs for later inspection.
//
// A Store is a consumer of run results: the executor hands it the final state
// and trace of each run once the run has settled. Stores never feed state
// back into a run.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Run is the persisted record of one finished run.
type Run struct {
	// ID is the run identifier assigned by the executor.
	ID string

	// Status is the final run status: "completed", "failed" or "aborted".
	Status string

	// Error is the message of the error that ended the run, empty on success.
	Error string

	// Steps is the number of node visits the run made.
	Steps int

	StartedAt  time.Time
	FinishedAt time.Time

	// State is the final state encoded as a JSON object.
	State json.RawMessage

	// Trace is the execution trace encoded as JSON.
	Trace json.RawMessage
}

// ListOptions filters ListRuns.
type ListOptions struct {
	// Status restricts results to runs with this status. Empty matches all.
	Status string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Store persists run records.
//
// Implementations must be safe for concurrent use: concurrent runs sharing
// one Executor save through the same Store.
type Store interface {
	// SaveRun inserts or replaces the record with run.ID.
	SaveRun(ctx context.Context, run Run) error

	// LoadRun returns the record for id, or ErrNotFound.
	LoadRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns records newest first (by StartedAt).
	ListRuns(ctx context.Context, opts ListOptions) ([]Run, error)

	// DeleteRun removes the record for id, or returns ErrNotFound.
	DeleteRun(ctx context.Context, id string) error
}

func validateRun(run Run) error {
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}
	return nil
}

// jsonOrNull keeps empty payloads storable in NOT NULL JSON columns.
func jsonOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
