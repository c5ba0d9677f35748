package model

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dshills/stepgraph/graph"
)

// ChatStepConfig describes how a ChatStep talks to its model and where the
// reply lands in the state.
type ChatStepConfig struct {
	// System is an optional system prompt.
	System string

	// Prompt renders the user message from the current state.
	Prompt func(s graph.Snapshot) (string, error)

	// Tools are offered to the model on every call.
	Tools []ToolSpec

	// OutputField receives the reply text. A list-append field gets the text
	// appended; any other kind is overwritten. Optional.
	OutputField string

	// JSONFields maps keys of a JSON-object reply to state fields. When set,
	// the reply must be a JSON object (repaired if malformed) and missing keys
	// are skipped. Keys are written in sorted order.
	JSONFields map[string]string

	// ToolCallsField is a list-append field receiving each tool call as
	// {"name": ..., "input": ...}. Optional.
	ToolCallsField string

	// UsageField is a counter incremented by the tokens the call consumed.
	// Optional.
	UsageField string
}

// ChatStep adapts a ChatModel into a graph.Step.
//
//	judge := model.ChatStep(claude, model.ChatStepConfig{
//	    System: "You are a strict reviewer. Reply with JSON {\"approved\": bool, \"feedback\": string}.",
//	    Prompt: func(s graph.Snapshot) (string, error) { return s.String("draft") },
//	    JSONFields: map[string]string{"approved": "approved", "feedback": "notes"},
//	})
func ChatStep(m ChatModel, cfg ChatStepConfig) graph.Step {
	return &chatStep{model: m, cfg: cfg}
}

type chatStep struct {
	model ChatModel
	cfg   ChatStepConfig
}

func (c *chatStep) Execute(ctx context.Context, s graph.Snapshot) (graph.Update, error) {
	if c.cfg.Prompt == nil {
		return nil, errors.New("chat step has no prompt")
	}
	prompt, err := c.cfg.Prompt(s)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	messages := make([]Message, 0, 2)
	if c.cfg.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: c.cfg.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	out, err := c.model.Chat(ctx, messages, c.cfg.Tools)
	if err != nil {
		return nil, err
	}
	graph.Logger(ctx).Debug("chat reply received",
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"tool_calls", len(out.ToolCalls))

	u := graph.Update{}
	if c.cfg.OutputField != "" {
		write(u, s, c.cfg.OutputField, out.Text)
	}
	if len(c.cfg.JSONFields) > 0 {
		obj, err := ParseJSONObject(out.Text)
		if err != nil {
			return nil, err
		}
		for _, key := range slices.Sorted(maps.Keys(c.cfg.JSONFields)) {
			if v, ok := obj[key]; ok {
				write(u, s, c.cfg.JSONFields[key], v)
			}
		}
	}
	if c.cfg.ToolCallsField != "" {
		for _, call := range out.ToolCalls {
			u.Append(c.cfg.ToolCallsField, map[string]any{"name": call.Name, "input": call.Input})
		}
	}
	if c.cfg.UsageField != "" && out.InputTokens+out.OutputTokens > 0 {
		u.Add(c.cfg.UsageField, int64(out.InputTokens+out.OutputTokens))
	}
	return u, nil
}

// write stores v in field using the operation matching the field's kind.
// Undeclared fields are written as-is so that Apply reports them.
func write(u graph.Update, s graph.Snapshot, field string, v any) {
	kind, _ := s.Kind(field)
	switch kind {
	case graph.ListAppend:
		u.Append(field, v)
	case graph.Counter:
		if n, ok := v.(float64); ok {
			u.Add(field, int64(n))
			return
		}
		u.Set(field, v)
	case graph.MapMerge:
		if m, ok := v.(map[string]any); ok {
			u.Merge(field, m)
			return
		}
		u.Set(field, v)
	default:
		u.Set(field, v)
	}
}
