// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/stepgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens caps the reply length when none is configured.
const DefaultMaxTokens = 4096

type messenger interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ChatModel implements model.ChatModel for Claude. System messages are
// lifted into the request's system parameter.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    messenger
}

// NewChatModel creates a ChatModel backed by the official SDK client.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{modelName: modelName, maxTokens: DefaultMaxTokens, client: &client.Messages}
}

// WithMaxTokens sets the reply token limit.
func (m *ChatModel) WithMaxTokens(n int64) *ChatModel {
	m.maxTokens = n
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, conversation := splitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic: at least one user or assistant message is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  conversation,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertResponse(msg)
}

// splitSystem joins system messages into one prompt and converts the rest.
func splitSystem(messages []model.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: tool.Schema["properties"]},
		}
		if tool.Description != "" {
			param.Description = anthropic.String(tool.Description)
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &param}
	}
	return out
}

func convertResponse(msg *anthropic.Message) (model.ChatOut, error) {
	if msg == nil {
		return model.ChatOut{}, errors.New("anthropic: empty response")
	}
	out := model.ChatOut{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: tool %s input: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}

// Retryable reports whether err is a rate limit, overload or server error.
func Retryable(err error) bool {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}
