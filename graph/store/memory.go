package store

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
)

// MemStore is an in-memory Store. Records live for the lifetime of the
// process; it suits tests and single-process tools that only need history
// while running.
type MemStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string]Run)}
}

// SaveRun implements Store.
func (m *MemStore) SaveRun(_ context.Context, run Run) error {
	if err := validateRun(run); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = copyRun(run)
	return nil
}

// LoadRun implements Store.
func (m *MemStore) LoadRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(_ context.Context, opts ListOptions) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		out = append(out, copyRun(run))
	}
	slices.SortFunc(out, func(a, b Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteRun implements Store.
func (m *MemStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	return nil
}

func copyRun(run Run) Run {
	run.State = bytes.Clone(run.State)
	run.Trace = bytes.Clone(run.Trace)
	return run
}
