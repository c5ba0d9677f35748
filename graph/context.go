package graph

import (
	"context"
	"log/slog"
)

type runIDKey struct{}

type loggerKey struct{}

// ContextWithRunID makes the next run started with ctx use id instead of a
// generated one.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run ID carried by ctx. Steps receive a context
// carrying the ID of the run executing them.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// Logger returns the logger the executor attached to a Step's context,
// already annotated with run_id and node. Outside a run it returns a logger
// that discards everything.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return discardLogger
}

func contextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

var discardLogger = slog.New(slog.DiscardHandler)
