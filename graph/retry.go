package graph

import (
	"context"
	"time"
)

// runStep executes a single-step node visit, retrying according to the node's
// RetryPolicy. The returned attempt carries the trace entry describing the
// visit; its error, if any, is a *StepError.
func (e *Executor) runStep(ctx context.Context, n *node, snap Snapshot) attempt {
	start := time.Now()
	update, attempts, err := e.executeWithRetry(ctx, n.name, n.step, n.policy, snap)

	entry := TraceEntry{
		Node:     n.name,
		Start:    start,
		Duration: time.Since(start),
		Outcome:  OutcomeSuccess,
		Attempts: attempts,
	}
	if err != nil {
		err = &StepError{Node: n.name, Attempts: attempts, Err: err}
		entry.Outcome = OutcomeFailure
		entry.Err = err
		return attempt{entry: entry, err: err}
	}
	return attempt{entry: entry, update: update}
}

// executeWithRetry runs step until it succeeds, its error is not retryable,
// the policy's attempts are used up, or ctx is done. It returns the raw Step
// error; wrapping is left to the caller, which knows the branch.
func (e *Executor) executeWithRetry(ctx context.Context, nodeID string, step Step, policy NodePolicy, snap Snapshot) (Update, int, error) {
	timeout := getStepTimeout(policy, e.opts.DefaultStepTimeout)
	rp := policy.RetryPolicy

	for attempt := 1; ; attempt++ {
		update, err := executeStepWithTimeout(ctx, step, nodeID, snap, timeout)
		if err == nil {
			return update, attempt, nil
		}
		if ctx.Err() != nil || !rp.shouldRetry(attempt, err) {
			return nil, attempt, err
		}

		e.opts.Metrics.IncrementRetries(nodeID)
		Logger(ctx).Debug("retrying step", "attempt", attempt, "error", err)

		delay := computeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, nil)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, err
		}
	}
}
