package graph

import (
	"fmt"
	"sync"
)

// Graph is a workflow definition: named nodes, one resolver per node, an
// entry point and terminal markers.
//
// A Graph is built once, then handed to NewExecutor, which validates it and
// seals it against further changes. A sealed Graph is read-only and may be
// shared by any number of concurrent runs.
//
// Example:
//
//	g := graph.NewGraph(schema)
//	_ = g.AddNode("draft", draftStep)
//	_ = g.AddNode("judge", judgeStep, graph.WithVisitBudget(3))
//	_ = g.AddNode("revise", reviseStep, graph.WithVisitBudget(3))
//	_ = g.AddEdge("draft", graph.Always("judge"))
//	_ = g.AddEdge("judge", graph.Choose(route, graph.End, "revise"))
//	_ = g.AddEdge("revise", graph.Always("judge"))
//	_ = g.SetEntry("draft")
//	exec, err := graph.NewExecutor(g)
type Graph struct {
	mu sync.RWMutex

	schema *Schema

	nodes map[string]*node
	order []string // insertion order, for stable validation output

	edges map[string]Resolver

	entry       string
	entryRouter Resolver

	terminals map[string]bool

	sealed   bool
	warnings []string
}

// NewGraph creates an empty graph over schema. The End marker is always a
// declared terminal.
func NewGraph(schema *Schema) *Graph {
	return &Graph{
		schema:    schema,
		nodes:     make(map[string]*node),
		edges:     make(map[string]Resolver),
		terminals: map[string]bool{End: true},
	}
}

// Schema returns the state schema the graph was defined over.
func (g *Graph) Schema() *Schema { return g.schema }

// NewState is shorthand for g.Schema().NewState(initial).
func (g *Graph) NewState(initial map[string]any) (State, error) {
	return g.schema.NewState(initial)
}

// AddNode registers a single-step node.
func (g *Graph) AddNode(name string, step Step, opts ...NodeOption) error {
	if step == nil {
		return &EngineError{Message: fmt.Sprintf("node %q has nil step", name), Code: "NIL_STEP"}
	}
	return g.add(&node{name: name, step: step}, opts)
}

// AddFanOut registers a node whose branches run against the same incoming
// state and whose updates are merged with the fields' reducers before the
// node's resolver runs.
func (g *Graph) AddFanOut(name string, branches []Branch, opts ...NodeOption) error {
	if len(branches) == 0 {
		return &EngineError{Message: fmt.Sprintf("fan-out node %q has no branches", name), Code: "EMPTY_FANOUT"}
	}
	seen := make(map[string]bool, len(branches))
	for _, b := range branches {
		if b.Name == "" {
			return &EngineError{Message: fmt.Sprintf("fan-out node %q has a branch with empty name", name), Code: "INVALID_BRANCH"}
		}
		if seen[b.Name] {
			return &EngineError{Message: fmt.Sprintf("fan-out node %q has duplicate branch %q", name, b.Name), Code: "DUPLICATE_BRANCH"}
		}
		if b.Step == nil {
			return &EngineError{Message: fmt.Sprintf("branch %q of %q has nil step", b.Name, name), Code: "NIL_STEP"}
		}
		seen[b.Name] = true
	}
	return g.add(&node{name: name, branches: append([]Branch(nil), branches...)}, opts)
}

func (g *Graph) add(n *node, opts []NodeOption) error {
	if n.name == "" {
		return &EngineError{Message: "node name cannot be empty", Code: "INVALID_NODE_NAME"}
	}
	if n.name == End {
		return &EngineError{Message: fmt.Sprintf("%q is reserved", End), Code: "INVALID_NODE_NAME"}
	}
	for _, opt := range opts {
		opt(n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return ErrGraphSealed
	}
	if _, exists := g.nodes[n.name]; exists {
		return &EngineError{Message: fmt.Sprintf("node %q already exists", n.name), Code: "DUPLICATE_NODE"}
	}
	g.nodes[n.name] = n
	g.order = append(g.order, n.name)
	return nil
}

// AddEdge sets the resolver that picks name's successor. Successor names are
// checked by Validate, so nodes may be added in any order.
func (g *Graph) AddEdge(name string, r Resolver) error {
	if r == nil {
		return &EngineError{Message: fmt.Sprintf("node %q has nil resolver", name), Code: "NIL_RESOLVER"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return ErrGraphSealed
	}
	if _, ok := g.nodes[name]; !ok {
		return &EngineError{Message: fmt.Sprintf("node %q does not exist", name), Code: "NODE_NOT_FOUND"}
	}
	if _, dup := g.edges[name]; dup {
		return &EngineError{Message: fmt.Sprintf("node %q already has a resolver", name), Code: "DUPLICATE_EDGE"}
	}
	g.edges[name] = r
	return nil
}

// SetEntry sets the node every run starts at. It clears any entry router.
func (g *Graph) SetEntry(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return ErrGraphSealed
	}
	if _, ok := g.nodes[name]; !ok {
		return &EngineError{Message: fmt.Sprintf("entry node %q does not exist", name), Code: "NODE_NOT_FOUND"}
	}
	g.entry = name
	g.entryRouter = nil
	return nil
}

// SetEntryRouter picks the first node from the initial state instead of a
// fixed entry. It clears any fixed entry.
func (g *Graph) SetEntryRouter(r Resolver) error {
	if r == nil {
		return &EngineError{Message: "entry router cannot be nil", Code: "NIL_RESOLVER"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return ErrGraphSealed
	}
	g.entry = ""
	g.entryRouter = r
	return nil
}

// MarkTerminal declares name as terminal. If name is a node, the run
// completes right after that node executes successfully. Otherwise name becomes
// a terminal marker that resolvers may route to.
func (g *Graph) MarkTerminal(name string) error {
	if name == "" {
		return &EngineError{Message: "terminal name cannot be empty", Code: "INVALID_NODE_NAME"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return ErrGraphSealed
	}
	g.terminals[name] = true
	return nil
}

// Warnings returns the non-fatal findings of the last Validate call, such as
// nodes unreachable from the entry.
func (g *Graph) Warnings() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.warnings...)
}

// seal validates the graph and freezes it. Sealing an already sealed graph
// is a no-op.
func (g *Graph) seal() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return nil
	}
	if err := g.validateLocked(); err != nil {
		return err
	}
	g.sealed = true
	return nil
}

// isTerminalMarker reports whether name ends the run when routed to.
// Terminal nodes are not markers: they run first, then end the run.
func (g *Graph) isTerminalMarker(name string) bool {
	_, isNode := g.nodes[name]
	return !isNode && g.terminals[name]
}
