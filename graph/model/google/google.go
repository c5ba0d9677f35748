// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/stepgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-2.5-flash"

// request is one Gemini call in SDK terms. The final user turn travels in
// parts; earlier turns in history.
type request struct {
	system  *genai.Content
	history []*genai.Content
	parts   []genai.Part
	tools   []*genai.Tool
}

type generator interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// ChatModel implements model.ChatModel for Gemini. It owns an SDK client and
// must be closed.
type ChatModel struct {
	client *genai.Client
	gen    generator
}

// NewChatModel dials the Gemini API.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &ChatModel{client: client, gen: &sdkGenerator{client: client, modelName: modelName}}, nil
}

// Close releases the SDK client.
func (m *ChatModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Chat implements model.ChatModel. A reply blocked by Gemini's safety
// filters fails with *SafetyFilterError.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	req, err := buildRequest(messages)
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	resp, err := m.gen.generate(ctx, req)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return model.ChatOut{}, safetyError(blocked)
		}
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp), nil
}

type sdkGenerator struct {
	client    *genai.Client
	modelName string
}

func (g *sdkGenerator) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	gm := g.client.GenerativeModel(g.modelName)
	gm.SystemInstruction = req.system
	gm.Tools = req.tools
	cs := gm.StartChat()
	cs.History = req.history
	return cs.SendMessage(ctx, req.parts...)
}

func buildRequest(messages []model.Message) (request, error) {
	var req request
	var system []string
	var turns []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return request{}, errors.New("google: conversation must end with a user message")
	}
	if len(system) > 0 {
		req.system = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	last := turns[len(turns)-1]
	req.history = turns[:len(turns)-1]
	req.parts = last.Parts
	return req, nil
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema maps a JSON Schema object onto genai.Schema, following
// properties and items recursively.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}
	if t, ok := schema["type"].(string); ok {
		out.Type = convertType(t)
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = convertSchema(prop)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = convertSchema(items)
	}
	switch required := schema["required"].(type) {
	case []string:
		out.Required = required
	case []interface{}:
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func convertType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	var out model.ChatOut
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text = append(text, string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	out.Text = strings.Join(text, "")
	return out
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters.
type SafetyFilterError struct {
	Reason   string
	Category string
}

func (e *SafetyFilterError) Error() string {
	if e.Category == "" {
		return "google: content blocked: " + e.Reason
	}
	return fmt.Sprintf("google: content blocked: %s (%s)", e.Reason, e.Category)
}

func safetyError(b *genai.BlockedError) *SafetyFilterError {
	out := &SafetyFilterError{Reason: "SAFETY"}
	var ratings []*genai.SafetyRating
	switch {
	case b.PromptFeedback != nil:
		out.Reason = b.PromptFeedback.BlockReason.String()
		ratings = b.PromptFeedback.SafetyRatings
	case b.Candidate != nil:
		out.Reason = b.Candidate.FinishReason.String()
		ratings = b.Candidate.SafetyRatings
	}
	for _, r := range ratings {
		if r != nil && r.Blocked {
			out.Category = r.Category.String()
			break
		}
	}
	return out
}
