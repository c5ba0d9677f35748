// Package tool defines callable tools and a workflow step that executes the
// tool calls a chat model requested.
package tool

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/stepgraph/graph/model"
)

// Tool is an action a model can ask a workflow to perform.
//
// Call should honour ctx and return structured output. Input may be nil for
// parameterless tools.
type Tool interface {
	Name() string
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that can advertise themselves to a model.
type Describer interface {
	Spec() model.ToolSpec
}

// Registry looks tools up by name. The zero value is not usable; call
// NewRegistry. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique and non-empty.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Specs returns the specs of every tool implementing Describer, sorted by
// name, ready to pass to model.ChatStepConfig.Tools.
func (r *Registry) Specs() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		if d, ok := t.(Describer); ok {
			specs = append(specs, d.Spec())
		}
	}
	return specs
}
