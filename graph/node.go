package graph

import "time"

// node is the executor's view of one graph node. Exactly one of step and
// branches is set.
type node struct {
	name     string
	step     Step
	branches []Branch

	budget     int // 0 means 1
	onError    ErrorPolicy
	errorField string
	policy     NodePolicy
}

func (n *node) isFanOut() bool { return len(n.branches) > 0 }

func (n *node) visitBudget() int {
	if n.budget == 0 {
		return 1
	}
	return n.budget
}

// ErrorPolicy decides what happens after a node's Step fails.
//
// The zero value is Propagate.
type ErrorPolicy struct {
	handler string
}

// Propagate fails the run with the Step's error.
func Propagate() ErrorPolicy { return ErrorPolicy{} }

// RouteTo continues the run at handler without applying the failed Step's
// update. Combine with WithErrorField to let the handler inspect the failure.
func RouteTo(handler string) ErrorPolicy { return ErrorPolicy{handler: handler} }

// Handler returns the recovery node, or "" for Propagate.
func (p ErrorPolicy) Handler() string { return p.handler }

func (p ErrorPolicy) String() string {
	if p.handler == "" {
		return "Propagate"
	}
	return "RouteTo(" + p.handler + ")"
}

// NodeOption configures a node at AddNode or AddFanOut time.
type NodeOption func(*node)

// WithVisitBudget sets how many times the node may be entered in one run.
// Nodes that sit on a cycle must declare a budget greater than 1.
func WithVisitBudget(n int) NodeOption {
	return func(nd *node) { nd.budget = n }
}

// WithErrorPolicy sets the node's failure handling. The default is Propagate.
func WithErrorPolicy(p ErrorPolicy) NodeOption {
	return func(nd *node) { nd.onError = p }
}

// WithErrorField names the field that receives the failure message before a
// RouteTo handler runs. Scalar fields are set to the message; ListAppend fields
// get it appended.
func WithErrorField(field string) NodeOption {
	return func(nd *node) { nd.errorField = field }
}

// WithTimeout bounds a single attempt of the node's Step. It overrides the
// executor's default step timeout.
func WithTimeout(d time.Duration) NodeOption {
	return func(nd *node) { nd.policy.Timeout = d }
}

// WithRetry retries a failing Step within one visit according to rp.
func WithRetry(rp RetryPolicy) NodeOption {
	return func(nd *node) { nd.policy.RetryPolicy = &rp }
}
