package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/stepgraph/graph"
	"github.com/dshills/stepgraph/graph/emit"
	"github.com/dshills/stepgraph/graph/model"
	"github.com/dshills/stepgraph/graph/model/anthropic"
	"github.com/dshills/stepgraph/graph/model/google"
	"github.com/dshills/stepgraph/graph/model/openai"
	"github.com/dshills/stepgraph/graph/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level %q must be debug, info, warn or error", level)
}

// NewLogger builds a slog.Logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Runtime holds the collaborators built from a Config. Close releases them.
type Runtime struct {
	Logger         *slog.Logger
	Registry       *prometheus.Registry
	Metrics        *graph.Metrics
	TracerProvider *sdktrace.TracerProvider
	Store          store.Store
}

// Build constructs the runtime described by c. Logs go to stderr. Span
// processors are attached to the tracer provider when tracing is enabled;
// the caller supplies exporters.
func (c *Config) Build(ctx context.Context, processors ...sdktrace.SpanProcessor) (*Runtime, error) {
	logger, err := c.Logging.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Logger: logger}

	if c.Metrics.Enabled {
		rt.Registry = prometheus.NewRegistry()
		rt.Metrics = graph.NewMetrics(rt.Registry, c.Metrics.Namespace)
	}

	if c.Tracing.Enabled {
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", c.Tracing.ServiceName))),
		}
		for _, p := range processors {
			opts = append(opts, sdktrace.WithSpanProcessor(p))
		}
		rt.TracerProvider = sdktrace.NewTracerProvider(opts...)
	}

	rt.Store, err = c.Store.Open(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Options returns executor options wiring every collaborator in rt.
func (c *Config) Options(rt *Runtime) []graph.Option {
	opts := []graph.Option{
		graph.WithDefaultStepTimeout(c.Executor.StepTimeout),
		graph.WithFanOutConcurrency(c.Executor.FanOutConcurrency),
		graph.WithLogger(rt.Logger),
	}
	emitters := []emit.Emitter{emit.NewLogEmitter(rt.Logger)}
	if rt.TracerProvider != nil {
		emitters = append(emitters, emit.NewOTelEmitter(rt.TracerProvider.Tracer("stepgraph")))
	}
	opts = append(opts, graph.WithEmitter(emit.NewMultiEmitter(emitters...)))
	if rt.Metrics != nil {
		opts = append(opts, graph.WithMetrics(rt.Metrics))
	}
	if rt.Store != nil {
		opts = append(opts, graph.WithStore(rt.Store))
	}
	return opts
}

// Close flushes spans and closes the store.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.TracerProvider != nil {
		errs = append(errs, rt.TracerProvider.Shutdown(ctx))
	}
	if c, ok := rt.Store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Open returns the configured run store, or nil when none is configured.
func (s StoreConfig) Open(ctx context.Context) (store.Store, error) {
	switch s.Driver {
	case "":
		return nil, nil
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		st, err := store.NewSQLiteStore(s.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := store.NewMySQLStore(ctx, s.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", s.Driver)
}

// ChatModel builds the provider's chat model. Google models hold a client
// and implement io.Closer.
func (p ProviderConfig) ChatModel(ctx context.Context) (model.ChatModel, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: no API key (set api_key or %s)", p.Name, apiKeyEnv(p.Name))
	}
	switch p.Name {
	case "openai":
		return openai.NewChatModel(p.APIKey, p.Model), nil
	case "anthropic":
		return anthropic.NewChatModel(p.APIKey, p.Model), nil
	case "google":
		return google.NewChatModel(ctx, p.APIKey, p.Model)
	}
	return nil, fmt.Errorf("unknown provider %q", p.Name)
}

// EnabledModels builds a chat model for every enabled provider, keyed by
// provider name.
func (c *Config) EnabledModels(ctx context.Context) (map[string]model.ChatModel, error) {
	out := make(map[string]model.ChatModel)
	for _, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		m, err := p.ChatModel(ctx)
		if err != nil {
			return nil, err
		}
		out[p.Name] = m
	}
	return out, nil
}
