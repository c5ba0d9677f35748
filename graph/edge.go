package graph

import (
	"maps"
	"slices"
)

// End is the built-in terminal marker. Routing to End completes the run with
// the current state as final.
const End = "__end__"

// Resolver selects a node's successor from the state produced by its Step.
//
// Route must be deterministic: the same Snapshot always yields the same
// name, and that name must be one of Successors. Reading a field that is not
// declared, or reading it with the wrong accessor, fails the run with that
// *FieldError. Returning anything else fails
// the run with ErrInvalidRouting. Successors is fixed when the resolver is
// built and is what Validate checks against the graph.
type Resolver interface {
	Route(s Snapshot) string
	Successors() []string
}

// route evaluates r against state. A read of an undeclared or mistyped field
// inside Route fails routing even when the resolver discarded the error.
func route(r Resolver, state State) (string, error) {
	snap := Snapshot{state: state, faults: &faultLog{}}
	next := r.Route(snap)
	return next, snap.faults.first()
}

// Always returns a resolver for a single unconditional edge.
func Always(next string) Resolver {
	return fixed(next)
}

type fixed string

func (f fixed) Route(Snapshot) string { return string(f) }
func (f fixed) Successors() []string { return []string{string(f)} }

// Choose returns a resolver that routes with fn among the enumerated
// successors.
//
//	g.AddEdge("judge", graph.Choose(func(s graph.Snapshot) string {
//	    if ok, _ := s.Bool("approved"); ok {
//	        return graph.End
//	    }
//	    return "revise"
//	}, graph.End, "revise"))
func Choose(fn func(s Snapshot) string, successors ...string) Resolver {
	return &chooser{fn: fn, successors: slices.Clone(successors)}
}

type chooser struct {
	fn         func(Snapshot) string
	successors []string
}

func (c *chooser) Route(s Snapshot) string { return c.fn(s) }
func (c *chooser) Successors() []string { return slices.Clone(c.successors) }

// PathMap returns a resolver where fn yields a route key and routes binds each
// key to a node, mirroring a conditional edge with an explicit mapping. A key
// missing from routes resolves to "" and fails the run with ErrInvalidRouting.
func PathMap(fn func(s Snapshot) string, routes map[string]string) Resolver {
	return &pathMap{fn: fn, routes: maps.Clone(routes)}
}

type pathMap struct {
	fn     func(Snapshot) string
	routes map[string]string
}

func (p *pathMap) Route(s Snapshot) string {
	key := p.fn(s)
	return p.routes[key]
}

func (p *pathMap) Successors() []string {
	seen := make(map[string]bool, len(p.routes))
	var out []string
	for _, key := range slices.Sorted(maps.Keys(p.routes)) {
		to := p.routes[key]
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	return out
}

// Predicate is a pure function over a Snapshot used by When cases.
//
// Common patterns:
// - Threshold: score above a cut-off.
// - Presence: a result field is non-empty.
// - Boolean flag: an "approved" field is true.
type Predicate func(s Snapshot) bool

// Case pairs a predicate with the successor taken when it holds.
type Case struct {
	When Predicate
	To   string
}

// When returns a resolver that takes the first case whose predicate holds.
// A case with a nil predicate always matches, so it serves as the default.
// If no case matches the resolver returns "", which fails the run with
// ErrInvalidRouting; end the list with Otherwise to avoid that.
func When(cases ...Case) Resolver {
	return &predicates{cases: slices.Clone(cases)}
}

// Otherwise is a catch-all Case for When.
func Otherwise(next string) Case { return Case{To: next} }

type predicates struct {
	cases []Case
}

func (p *predicates) Route(s Snapshot) string {
	for _, c := range p.cases {
		if c.When == nil || c.When(s) {
			return c.To
		}
	}
	return ""
}

func (p *predicates) Successors() []string {
	var out []string
	for _, c := range p.cases {
		if !slices.Contains(out, c.To) {
			out = append(out, c.To)
		}
	}
	return out
}
