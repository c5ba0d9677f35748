package graph

import "context"

// Step is the unit of work executed at a graph node.
//
// Execute reads the state through a Snapshot and returns only the fields it
// wants to change. A Step never sees the Graph and never writes state
// directly; when it returns a non-nil error its Update is discarded.
//
// The same Step value may be executed by concurrent runs and by parallel
// fan-out branches, so implementations must be safe for concurrent use.
// Collaborators such as model clients are injected when the Step is built:
//
//	summarize := graph.StepFunc(func(ctx context.Context, s graph.Snapshot) (graph.Update, error) {
//	    doc, err := s.String("document")
//	    if err != nil {
//	        return nil, err
//	    }
//	    summary, err := client.Summarize(ctx, doc)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return graph.Update{}.Set("summary", summary), nil
//	})
type Step interface {
	Execute(ctx context.Context, s Snapshot) (Update, error)
}

// StepFunc adapts an ordinary function to the Step interface.
type StepFunc func(ctx context.Context, s Snapshot) (Update, error)

// Execute calls f(ctx, s).
func (f StepFunc) Execute(ctx context.Context, s Snapshot) (Update, error) {
	return f(ctx, s)
}

// Branch is one member of a fan-out node.
//
// Writes lists every field the branch may write. Validate uses it to reject
// two branches writing the same Scalar field, and the executor fails the run
// if a branch writes a field it did not declare.
type Branch struct {
	Name   string
	Step   Step
	Writes []string
}
