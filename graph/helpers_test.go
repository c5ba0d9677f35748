package graph_test

import (
	"context"
	"testing"

	"github.com/dshills/stepgraph/graph"
)

// reviewSchema is the state record used across executor tests.
func reviewSchema() *graph.Schema {
	return graph.MustSchema(
		graph.Field{Name: "log", Kind: graph.ListAppend},
		graph.Field{Name: "rounds", Kind: graph.Counter},
		graph.Field{Name: "approved", Kind: graph.Scalar, Zero: false},
		graph.Field{Name: "draft", Kind: graph.Scalar, Zero: ""},
		graph.Field{Name: "lastError", Kind: graph.Scalar},
		graph.Field{Name: "scores", Kind: graph.MapMerge},
	)
}

// logStep appends name to the "log" field.
func logStep(name string) graph.Step {
	return graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		return graph.Update{}.Append("log", name), nil
	})
}

func mustAdd(t *testing.T, g *graph.Graph, name string, step graph.Step, opts ...graph.NodeOption) {
	t.Helper()
	if err := g.AddNode(name, step, opts...); err != nil {
		t.Fatalf("AddNode(%s): %v", name, err)
	}
}

func mustEdge(t *testing.T, g *graph.Graph, name string, r graph.Resolver) {
	t.Helper()
	if err := g.AddEdge(name, r); err != nil {
		t.Fatalf("AddEdge(%s): %v", name, err)
	}
}

func mustEntry(t *testing.T, g *graph.Graph, name string) {
	t.Helper()
	if err := g.SetEntry(name); err != nil {
		t.Fatalf("SetEntry(%s): %v", name, err)
	}
}

func mustExecutor(t *testing.T, g *graph.Graph, opts ...graph.Option) *graph.Executor {
	t.Helper()
	exec, err := graph.NewExecutor(g, opts...)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return exec
}

func logOf(t *testing.T, st graph.State) []string {
	t.Helper()
	items, err := st.Snapshot().List("log")
	if err != nil {
		t.Fatalf("List(log): %v", err)
	}
	out := make([]string, len(items))
	for i, v := range items {
		out[i], _ = v.(string)
	}
	return out
}
