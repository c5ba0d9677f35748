package tool

import (
	"context"
	"maps"
	"sync"

	"github.com/dshills/stepgraph/graph/model"
)

// MockTool is a scripted Tool for tests and offline examples.
//
// Handler, when set, computes every result from the input. Otherwise
// Responses are played back in order with the last one repeating, and Err
// fails every call. Description and Parameters make the mock a Describer so
// it can be offered to a model. Safe for concurrent use.
type MockTool struct {
	ToolName    string
	Description string
	Parameters  map[string]interface{}

	Handler   func(input map[string]interface{}) (map[string]interface{}, error)
	Responses []map[string]interface{}
	Err       error

	mu     sync.Mutex
	inputs []map[string]interface{}
	next   int
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Spec implements Describer.
func (m *MockTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: m.ToolName, Description: m.Description, Schema: m.Parameters}
}

// Call implements Tool. Failed calls are recorded too.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, maps.Clone(input))

	switch {
	case m.Handler != nil:
		return m.Handler(input)
	case m.Err != nil:
		return nil, m.Err
	case len(m.Responses) == 0:
		return map[string]interface{}{}, nil
	}
	out := m.Responses[min(m.next, len(m.Responses)-1)]
	if m.next < len(m.Responses) {
		m.next++
	}
	return out, nil
}

// Inputs returns the input of every call so far, oldest first.
func (m *MockTool) Inputs() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.inputs))
	for i, in := range m.inputs {
		out[i] = maps.Clone(in)
	}
	return out
}

// CallCount returns the number of calls so far.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Reset forgets recorded calls and replays Responses from the start.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = nil
	m.next = 0
}
