package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans.
//
// Each event becomes one span named after Event.Msg with attributes:
//   - stepgraph.run_id, stepgraph.step, stepgraph.node_id
//   - stepgraph.branch, stepgraph.group for fan-out entries
//   - stepgraph.duration_ms, stepgraph.outcome, stepgraph.attempt
//   - any other Meta key under its own name
//
// Events carrying Meta["error"] get status codes.Error and a recorded error.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	defer tp.Shutdown(ctx)
//	emitter := emit.NewOTelEmitter(tp.Tracer("stepgraph"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records several events as sibling spans under ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("stepgraph.run_id", event.RunID),
		attribute.Int("stepgraph.step", event.Step),
		attribute.String("stepgraph.node_id", event.NodeID),
	)
	for key, value := range event.Meta {
		if key == "error" {
			continue
		}
		span.SetAttributes(metaAttribute(key, value))
	}

	if msg := event.Err(); msg != "" {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// metaAttribute maps a Meta entry to a span attribute. Keys the executor
// emits are namespaced; unknown keys keep their name.
func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch key {
	case "branch", "group", "duration_ms", "outcome", "attempt", "to", "status", "visit", "seq":
		key = "stepgraph." + key
	}

	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
