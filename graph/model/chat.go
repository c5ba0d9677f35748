// Package model defines the chat-model collaborator used by LLM-backed
// workflow steps, plus adapters for OpenAI, Anthropic and Google Gemini.
//
// Models are injected into steps when the graph is built (see ChatStep); the
// executor never holds a model client itself.
package model

import "context"

// ChatModel is a conversational language model.
//
// Implementations must be safe for concurrent use: one model is commonly
// shared by parallel fan-out branches and concurrent runs. Chat should honour
// ctx cancellation.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may ask to call. Schema is a JSON
// Schema object describing the tool input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the model's reply: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall

	// InputTokens and OutputTokens report usage when the provider returns it.
	InputTokens  int
	OutputTokens int
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
