package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter writes events as structured log records through slog.
//
// Failure events (those carrying an "error" meta key) are logged at WARN,
// run_start and run_end at INFO, everything else at DEBUG. Meta keys become
// record attributes in sorted order.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	exec, err := graph.NewExecutor(g, graph.WithEmitter(emit.NewLogEmitter(logger)))
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch {
	case event.Err() != "":
		level = slog.LevelWarn
	case event.Msg == "run_start" || event.Msg == "run_end":
		level = slog.LevelInfo
	}

	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
	)
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
