package tool

import (
	"context"
	"fmt"

	"github.com/dshills/stepgraph/graph"
)

// StepConfig wires a tool step to its state fields.
type StepConfig struct {
	// CallsField is the list field holding requested calls as
	// {"name": string, "input": map}, the shape model.ChatStep writes.
	CallsField string

	// ResultsField is a list-append field receiving one entry per call:
	// {"name", "output"} on success or {"name", "error"} on failure.
	ResultsField string

	// CursorField is an optional counter recording how many calls have been
	// handled, so a step revisited in a loop only runs new calls.
	CursorField string

	// FailFast makes the step fail on the first tool error instead of
	// recording it in ResultsField. Unknown tools always fail.
	FailFast bool
}

// Step returns a graph.Step executing pending tool calls in order.
func Step(tools *Registry, cfg StepConfig) graph.Step {
	return graph.StepFunc(func(ctx context.Context, s graph.Snapshot) (graph.Update, error) {
		calls, err := s.List(cfg.CallsField)
		if err != nil {
			return nil, err
		}
		var cursor int64
		if cfg.CursorField != "" {
			if cursor, err = s.Int(cfg.CursorField); err != nil {
				return nil, err
			}
		}
		if cursor >= int64(len(calls)) {
			return nil, nil
		}

		u := graph.Update{}
		for i, raw := range calls[cursor:] {
			name, input, err := decodeCall(raw)
			if err != nil {
				return nil, fmt.Errorf("call %d: %w", int(cursor)+i, err)
			}
			t, ok := tools.Get(name)
			if !ok {
				return nil, fmt.Errorf("call %d: unknown tool %q", int(cursor)+i, name)
			}

			graph.Logger(ctx).Debug("calling tool", "tool", name)
			output, err := t.Call(ctx, input)
			switch {
			case err != nil && (cfg.FailFast || ctx.Err() != nil):
				return nil, fmt.Errorf("tool %s: %w", name, err)
			case err != nil:
				u.Append(cfg.ResultsField, map[string]any{"name": name, "error": err.Error()})
			default:
				u.Append(cfg.ResultsField, map[string]any{"name": name, "output": output})
			}
		}
		if cfg.CursorField != "" {
			u.Add(cfg.CursorField, int64(len(calls))-cursor)
		}
		return u, nil
	})
}

func decodeCall(raw any) (string, map[string]interface{}, error) {
	call, ok := raw.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("expected map, got %T", raw)
	}
	name, _ := call["name"].(string)
	if name == "" {
		return "", nil, fmt.Errorf("missing tool name")
	}
	input, _ := call["input"].(map[string]interface{})
	return name, input, nil
}
