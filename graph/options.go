package graph

import (
	"log/slog"
	"time"

	"github.com/dshills/stepgraph/graph/emit"
	"github.com/dshills/stepgraph/graph/store"
)

// Options configures an Executor. Use the With* functions with NewExecutor.
type Options struct {
	// DefaultStepTimeout bounds every Step attempt that has no WithTimeout of
	// its own. Zero means no timeout.
	DefaultStepTimeout time.Duration

	// FanOutConcurrency limits how many branches of a fan-out node run at once.
	// Zero means all branches run concurrently; 1 runs them sequentially in
	// declaration order.
	FanOutConcurrency int

	// Logger receives executor logs. Defaults to a discarding logger.
	Logger *slog.Logger

	// Emitter receives lifecycle events. Defaults to emit.NullEmitter.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics when non-nil.
	Metrics *Metrics

	// Store receives a record of every finished run when non-nil.
	Store store.Store
}

// Option is a functional option for configuring the Executor.
type Option func(*Options) error

// WithDefaultStepTimeout sets the timeout for Steps without their own.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return &EngineError{Message: "default step timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		o.DefaultStepTimeout = d
		return nil
	}
}

// WithFanOutConcurrency limits parallel fan-out branches; see Options.
func WithFanOutConcurrency(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return &EngineError{Message: "fan-out concurrency cannot be negative", Code: "INVALID_OPTION"}
		}
		o.FanOutConcurrency = n
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) error {
		o.Logger = l
		return nil
	}
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *Options) error {
		o.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewMetrics(registry, "stepgraph")
//	exec, err := graph.NewExecutor(g, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *Metrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}

// WithStore records every finished run (final state and trace) in s.
func WithStore(s store.Store) Option {
	return func(o *Options) error {
		o.Store = s
		return nil
	}
}
