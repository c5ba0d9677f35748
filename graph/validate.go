package graph

import (
	"fmt"
	"slices"
)

// Validate checks that the graph can run:
//   - an entry node (or entry router) is set and names existing nodes
//   - every successor and RouteTo handler names a node or terminal marker
//   - every non-terminal node has a resolver
//   - a terminal is reachable from the entry
//   - every node on a cycle declares a visit budget greater than 1
//   - fan-out branches write only declared fields and never share a Scalar field
//
// All problems are reported together in a *DefinitionError wrapping
// ErrDefinitionInvalid. Nodes unreachable from the entry are not errors; they
// are available from Warnings after the call.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	known := func(name string) bool {
		_, isNode := g.nodes[name]
		return isNode || g.terminals[name]
	}

	if g.schema == nil {
		addf("graph has no schema")
	}

	// Entry.
	var roots []string
	switch {
	case g.entryRouter != nil:
		succ := g.entryRouter.Successors()
		if len(succ) == 0 {
			addf("entry router declares no successors")
		}
		for _, s := range succ {
			if !known(s) {
				addf("entry router references unknown node %q", s)
				continue
			}
			roots = append(roots, s)
		}
	case g.entry != "":
		if _, ok := g.nodes[g.entry]; !ok {
			addf("entry node %q does not exist", g.entry)
		} else {
			roots = append(roots, g.entry)
		}
	default:
		addf("no entry node set")
	}

	// Per-node checks.
	for _, name := range g.order {
		n := g.nodes[name]
		r, hasEdge := g.edges[name]
		terminal := g.terminals[name]

		switch {
		case terminal && hasEdge:
			addf("terminal node %q must not have a resolver", name)
		case !terminal && !hasEdge:
			addf("node %q has no resolver and is not terminal", name)
		case hasEdge:
			succ := r.Successors()
			if len(succ) == 0 {
				addf("resolver of %q declares no successors", name)
			}
			for _, s := range succ {
				if !known(s) {
					addf("node %q routes to unknown node %q", name, s)
				}
			}
		}

		if n.budget < 0 {
			addf("node %q has negative visit budget %d", name, n.budget)
		}
		if h := n.onError.Handler(); h != "" && !known(h) {
			addf("node %q routes errors to unknown node %q", name, h)
		}
		if n.errorField != "" {
			g.checkErrorField(n, addf)
		}
		if rp := n.policy.RetryPolicy; rp != nil {
			if err := rp.Validate(); err != nil {
				addf("node %q: %v", name, err)
			}
		}
		if n.isFanOut() {
			g.checkBranches(n, addf)
		}
	}

	// Reachability, terminal presence and cycle budgets need a well-formed
	// adjacency list; skip them when the basics are already broken.
	if len(problems) > 0 {
		return &DefinitionError{Problems: problems}
	}

	reachable, terminalReached := g.reach(roots)
	if !terminalReached {
		addf("no terminal is reachable from the entry")
	}

	for _, scc := range g.cycles() {
		for _, name := range scc {
			if g.nodes[name].budget <= 1 {
				addf("node %q is on a cycle %v and needs an explicit visit budget > 1", name, scc)
			}
		}
	}

	g.warnings = g.warnings[:0]
	for _, name := range g.order {
		if !reachable[name] {
			g.warnings = append(g.warnings, fmt.Sprintf("node %q is unreachable from the entry", name))
		}
	}

	if len(problems) > 0 {
		return &DefinitionError{Problems: problems}
	}
	return nil
}

func (g *Graph) checkErrorField(n *node, addf func(string, ...any)) {
	f, ok := g.schemaField(n.errorField)
	switch {
	case !ok:
		addf("node %q error field %q is not declared", n.name, n.errorField)
	case f.Kind != Scalar && f.Kind != ListAppend:
		addf("node %q error field %q must be scalar or list-append, not %s", n.name, n.errorField, f.Kind)
	}
}

func (g *Graph) checkBranches(n *node, addf func(string, ...any)) {
	scalarWriter := make(map[string]string)
	for _, b := range n.branches {
		for _, field := range b.Writes {
			f, ok := g.schemaField(field)
			if !ok {
				addf("branch %q of %q writes undeclared field %q", b.Name, n.name, field)
				continue
			}
			if f.Kind != Scalar {
				continue
			}
			if other, taken := scalarWriter[field]; taken && other != b.Name {
				addf("branches %q and %q of %q both write scalar field %q", other, b.Name, n.name, field)
				continue
			}
			scalarWriter[field] = b.Name
		}
	}
}

func (g *Graph) schemaField(name string) (Field, bool) {
	if g.schema == nil {
		return Field{}, false
	}
	return g.schema.Field(name)
}

// successors lists the nodes and markers reachable in one hop from name,
// including its error handler.
func (g *Graph) successors(name string) []string {
	var out []string
	if r, ok := g.edges[name]; ok {
		out = append(out, r.Successors()...)
	}
	if h := g.nodes[name].onError.Handler(); h != "" {
		out = append(out, h)
	}
	return out
}

// reach walks the graph from roots and reports the nodes visited and whether
// any terminal (marker or terminal node) was reached.
func (g *Graph) reach(roots []string) (map[string]bool, bool) {
	seen := make(map[string]bool)
	terminal := false
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if g.terminals[name] {
			terminal = true
		}
		if _, isNode := g.nodes[name]; !isNode || seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, g.successors(name)...)
	}
	return seen, terminal
}

// cycles returns the strongly connected components that contain a cycle:
// components with more than one node, or a single node that routes to itself.
// Uses Tarjan's algorithm over nodes in insertion order.
func (g *Graph) cycles() [][]string {
	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string
	next := 0

	var connect func(v string)
	connect = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.successors(v) {
			if _, isNode := g.nodes[w]; !isNode {
				continue
			}
			if _, visited := index[w]; !visited {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 || slices.Contains(g.successors(v), v) {
			slices.Reverse(scc)
			out = append(out, scc)
		}
	}

	for _, name := range g.order {
		if _, visited := index[name]; !visited {
			connect(name)
		}
	}
	return out
}
