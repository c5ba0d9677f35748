package model

import (
	"context"
	"slices"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests and offline examples.
//
// When Reply is set it decides every answer from the conversation. Otherwise
// Responses are played back in order and the last one repeats; Err, when set,
// fails every call. Safe for concurrent use, so one mock can serve parallel
// fan-out branches.
type MockChatModel struct {
	Reply     func(messages []Message) (ChatOut, error)
	Responses []ChatOut
	Err       error

	mu    sync.Mutex
	calls [][]Message
	next  int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, _ []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)

	switch {
	case m.Reply != nil:
		return m.Reply(messages)
	case m.Err != nil:
		return ChatOut{}, m.Err
	case len(m.Responses) == 0:
		return ChatOut{}, nil
	}
	out := m.Responses[min(m.next, len(m.Responses)-1)]
	if m.next < len(m.Responses) {
		m.next++
	}
	return out, nil
}

// CallCount returns the number of Chat calls so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Conversations returns the messages of every call so far, oldest first.
func (m *MockChatModel) Conversations() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// LastPrompt returns the content of the final message of the most recent
// call, or "" before the first call.
func (m *MockChatModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 || len(m.calls[len(m.calls)-1]) == 0 {
		return ""
	}
	last := m.calls[len(m.calls)-1]
	return last[len(last)-1].Content
}

// Reset forgets recorded calls and replays Responses from the start.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}
