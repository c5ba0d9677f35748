package graph

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"single attempt", RetryPolicy{MaxAttempts: 1}, false},
		{"with delays", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}, false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0}, true},
		{"max below base", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Millisecond}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("err = %v, want ErrInvalidRetryPolicy", err)
			}
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	transient := errors.New("transient")
	onlyTransient := func(err error) bool { return errors.Is(err, transient) }

	var nilPolicy *RetryPolicy
	if nilPolicy.shouldRetry(1, transient) {
		t.Error("nil policy must not retry")
	}

	rp := &RetryPolicy{MaxAttempts: 3, Retryable: onlyTransient}
	if !rp.shouldRetry(1, transient) || !rp.shouldRetry(2, transient) {
		t.Error("attempts 1 and 2 should retry")
	}
	if rp.shouldRetry(3, transient) {
		t.Error("last attempt must not retry")
	}
	if rp.shouldRetry(1, errors.New("permanent")) {
		t.Error("non-retryable error retried")
	}

	noClassifier := &RetryPolicy{MaxAttempts: 5}
	if noClassifier.shouldRetry(1, transient) {
		t.Error("nil Retryable should treat errors as permanent")
	}
}

func TestComputeBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := 10 * time.Millisecond
	maxDelay := 50 * time.Millisecond

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 10 * time.Millisecond, 20 * time.Millisecond},
		{1, 20 * time.Millisecond, 30 * time.Millisecond},
		{2, 40 * time.Millisecond, 50 * time.Millisecond},
		{3, 50 * time.Millisecond, 60 * time.Millisecond},
		{100, 50 * time.Millisecond, 60 * time.Millisecond},
	}
	for _, tt := range tests {
		got := computeBackoff(tt.attempt, base, maxDelay, rng)
		if got < tt.min || got >= tt.max {
			t.Errorf("computeBackoff(%d) = %v, want in [%v, %v)", tt.attempt, got, tt.min, tt.max)
		}
	}

	if d := computeBackoff(3, 0, maxDelay, rng); d != 0 {
		t.Errorf("zero base should not wait, got %v", d)
	}
}

func TestGetStepTimeout(t *testing.T) {
	if d := getStepTimeout(NodePolicy{Timeout: time.Second}, time.Minute); d != time.Second {
		t.Errorf("node timeout should win, got %v", d)
	}
	if d := getStepTimeout(NodePolicy{}, time.Minute); d != time.Minute {
		t.Errorf("default timeout expected, got %v", d)
	}
	if d := getStepTimeout(NodePolicy{}, 0); d != 0 {
		t.Errorf("no timeout expected, got %v", d)
	}
}

func TestExecuteStepWithTimeout(t *testing.T) {
	snap := State{}.Snapshot()

	t.Run("times out", func(t *testing.T) {
		slow := StepFunc(func(ctx context.Context, _ Snapshot) (Update, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		_, err := executeStepWithTimeout(context.Background(), slow, "slow", snap, 10*time.Millisecond)
		if !errors.Is(err, ErrStepTimeout) {
			t.Fatalf("err = %v, want ErrStepTimeout", err)
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		step := StepFunc(func(ctx context.Context, _ Snapshot) (Update, error) {
			return nil, ctx.Err()
		})
		_, err := executeStepWithTimeout(ctx, step, "n", snap, time.Second)
		if errors.Is(err, ErrStepTimeout) || !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("recovers panic", func(t *testing.T) {
		boom := StepFunc(func(context.Context, Snapshot) (Update, error) {
			panic("boom")
		})
		update, err := executeStepWithTimeout(context.Background(), boom, "boom", snap, 0)
		if err == nil || !strings.Contains(err.Error(), "panicked: boom") {
			t.Fatalf("err = %v", err)
		}
		if update != nil {
			t.Errorf("update = %v, want nil", update)
		}
	})

	t.Run("passes update through", func(t *testing.T) {
		ok := StepFunc(func(context.Context, Snapshot) (Update, error) {
			return Update{}.Set("x", 1), nil
		})
		update, err := executeStepWithTimeout(context.Background(), ok, "ok", snap, time.Second)
		if err != nil || update["x"] != 1 {
			t.Fatalf("update = %v, err = %v", update, err)
		}
	})
}
