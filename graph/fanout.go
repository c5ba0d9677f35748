package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// runFanOut executes every branch of n against the same snapshot and merges
// their updates in branch declaration order.
//
// Each branch sends exactly one trace entry to sink as soon as it finishes,
// so entries arrive in completion order. The first failing branch cancels its
// siblings; in that case no branch update is returned and the error is the
// failing branch's *StepError.
func (e *Executor) runFanOut(ctx context.Context, n *node, group string, snap Snapshot, sink chan<- TraceEntry) attempt {
	g, gctx := errgroup.WithContext(ctx)
	if e.opts.FanOutConcurrency > 0 {
		g.SetLimit(e.opts.FanOutConcurrency)
	}

	updates := make([]Update, len(n.branches))
	for i, b := range n.branches {
		g.Go(func() error {
			entry := TraceEntry{Node: n.name, Branch: b.Name, Group: group, Start: time.Now()}

			if err := gctx.Err(); err != nil {
				entry.Outcome = OutcomeAborted
				entry.Err = fmt.Errorf("branch not started: %w", context.Cause(gctx))
				sink <- entry
				return err
			}

			e.opts.Metrics.UpdateInflightBranches(1)
			bctx := contextWithLogger(gctx, Logger(ctx).With("branch", b.Name))
			update, attempts, err := e.executeWithRetry(bctx, n.name, b.Step, n.policy, snap)
			e.opts.Metrics.UpdateInflightBranches(-1)

			entry.Duration = time.Since(entry.Start)
			entry.Attempts = attempts
			if err == nil {
				err = checkWrites(b, update)
			}

			switch {
			case err == nil:
				entry.Outcome = OutcomeSuccess
				entry.Update = update
				updates[i] = update
			case gctx.Err() != nil && ctx.Err() == nil && !errors.Is(err, ErrUndeclaredWrite):
				// Cancelled because a sibling failed first.
				entry.Outcome = OutcomeAborted
				entry.Err = err
			default:
				err = &StepError{Node: n.name, Branch: b.Name, Attempts: attempts, Err: err}
				entry.Outcome = OutcomeFailure
				entry.Err = err
			}
			sink <- entry
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return attempt{err: err}
	}

	merged, err := mergeUpdates(snap.state.schema, updates)
	if err != nil {
		return attempt{err: err}
	}
	return attempt{update: merged}
}

// checkWrites rejects an update touching a field outside the branch's
// declared write set.
func checkWrites(b Branch, u Update) error {
	for _, field := range u.Fields() {
		if !slices.Contains(b.Writes, field) {
			return fmt.Errorf("%w: branch %q wrote %q", ErrUndeclaredWrite, b.Name, field)
		}
	}
	return nil
}

// mergeUpdates folds branch updates into a single Update using each field's
// reducer, in the order given. Lists concatenate, counters sum, maps merge
// with later branches winning on shared keys. Validate guarantees at most
// one branch writes any scalar field.
func mergeUpdates(schema *Schema, updates []Update) (Update, error) {
	merged := Update{}
	for _, u := range updates {
		for _, name := range u.Fields() {
			f, ok := schema.Field(name)
			if !ok {
				return nil, &FieldError{Field: name, Err: ErrUnknownField}
			}
			v, err := reduce(f, merged[name], u[name])
			if err != nil {
				return nil, err
			}
			merged[name] = v
		}
	}
	return merged, nil
}
