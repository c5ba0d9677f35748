package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// getStepTimeout determines the timeout for one attempt based on precedence:
// 1. NodePolicy.Timeout (per-node override)
// 2. defaultTimeout (executor-wide default)
// 3. 0 (no timeout)
func getStepTimeout(policy NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeStepWithTimeout runs one attempt of step, enforcing timeout when it
// is non-zero. A deadline hit by the attempt's own timeout is reported as
// ErrStepTimeout; a panic inside the Step is converted to an error so a
// misbehaving Step cannot take the whole process down.
func executeStepWithTimeout(ctx context.Context, step Step, nodeID string, snap Snapshot, timeout time.Duration) (update Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			update = nil
			if e, ok := r.(error); ok {
				err = fmt.Errorf("step %s panicked: %w", nodeID, e)
				return
			}
			err = fmt.Errorf("step %s panicked: %v", nodeID, r)
		}
	}()

	if timeout == 0 {
		return step.Execute(ctx, snap)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	update, err = step.Execute(timeoutCtx, snap)

	// Only the attempt's own deadline counts as a timeout; a deadline on the
	// parent context is the caller's cancellation.
	if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: node %s exceeded %v", ErrStepTimeout, nodeID, timeout)
	}
	return update, err
}
