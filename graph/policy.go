package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures how a single visit to a node executes its Step.
//
// If not specified, defaults from the executor's Options are used.
type NodePolicy struct {
	// Timeout is the maximum execution time of one attempt.
	// If zero, Options.DefaultStepTimeout is used.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, no retries are attempted.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines automatic retry configuration for transient Step failures.
//
// Retries happen inside one visit: they do not consume the node's visit
// budget, and only the final outcome reaches the node's error policy.
// Exponential backoff with jitter is used between attempts.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including the
	// initial attempt). Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is computed as: min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth another attempt.
	// If nil, all errors are considered non-retryable.
	// Common patterns:
	// - Network errors: temporary, connection refused, timeout.
	// - HTTP 429, 503, 504.
	Retryable func(error) bool
}

// Validate checks if the RetryPolicy configuration is valid.
// Returns ErrInvalidRetryPolicy if any constraint is violated:
//   - MaxAttempts must be >= 1
//   - If both MaxDelay and BaseDelay are > 0, then MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// shouldRetry reports whether attempt (1-based) may be followed by another.
func (rp *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if rp == nil || attempt >= rp.MaxAttempts || rp.Retryable == nil {
		return false
	}
	return rp.Retryable(err)
}

// computeBackoff calculates the delay before a retry using exponential
// backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). A nil rng falls back to the
// global source.
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1-2s
//   - attempt 1: 2-3s
//   - attempt 3: 8-9s
//   - attempt 10: 30-31s (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return exponentialDelay + jitter
}
