// Package graph provides the workflow graph executor for stepgraph.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField indicates that a Step, reducer, or initial state referenced a
// field that is not declared in the graph's Schema.
var ErrUnknownField = errors.New("unknown state field")

// ErrTypeMismatch indicates that a value does not fit the declared kind of its
// field (for example a string written to a counter).
var ErrTypeMismatch = errors.New("value does not match field kind")

// ErrInvalidRouting indicates that a Resolver returned a successor outside its
// declared successor set.
var ErrInvalidRouting = errors.New("resolver returned undeclared successor")

// ErrCycleBudgetExceeded indicates that a node would be entered more times
// than its visit budget allows.
var ErrCycleBudgetExceeded = errors.New("node visit budget exceeded")

// ErrStepFailed indicates that a Step returned a non-nil error.
var ErrStepFailed = errors.New("step failed")

// ErrStepTimeout indicates that a Step did not return within its timeout.
var ErrStepTimeout = errors.New("step timed out")

// ErrAborted indicates that the caller cancelled the run.
var ErrAborted = errors.New("run aborted")

// ErrDefinitionInvalid is returned by Validate when the graph definition is
// not runnable.
var ErrDefinitionInvalid = errors.New("graph definition invalid")

// ErrUndeclaredWrite indicates that a fan-out branch wrote a field missing
// from its declared write set.
var ErrUndeclaredWrite = errors.New("fan-out branch wrote undeclared field")

// ErrGraphSealed is returned by construction methods once an Executor has been
// built from the graph.
var ErrGraphSealed = errors.New("graph is sealed")

// ErrSchemaMismatch indicates that a State was built from a different Schema
// than the one the graph was defined with.
var ErrSchemaMismatch = errors.New("state schema does not match graph schema")

// ErrInvalidRetryPolicy indicates a RetryPolicy with impossible settings.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError reports misuse of the graph construction API.
//
// Code is a short machine-readable identifier such as "DUPLICATE_NODE" or
// "NIL_STEP"; Message carries the human-readable detail.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// FieldError describes a schema violation on a single field.
type FieldError struct {
	Field string
	Kind  FieldKind
	Msg   string
	Err   error // ErrUnknownField or ErrTypeMismatch
}

func (e *FieldError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("field %q: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// RoutingError is returned when a Resolver picks a successor it did not declare.
type RoutingError struct {
	Node    string
	Got     string
	Allowed []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %q routed to %q, allowed %v", e.Node, e.Got, e.Allowed)
}

func (e *RoutingError) Unwrap() error { return ErrInvalidRouting }

// BudgetError is returned when a node is about to exceed its visit budget.
type BudgetError struct {
	Node   string
	Budget int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("node %q exceeded visit budget of %d", e.Node, e.Budget)
}

func (e *BudgetError) Unwrap() error { return ErrCycleBudgetExceeded }

// StepError wraps the error returned by a Step together with the node that
// produced it. It matches both ErrStepFailed and the original cause.
type StepError struct {
	Node     string
	Branch   string // fan-out branch name, empty for single-step nodes
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	where := e.Node
	if e.Branch != "" {
		where = e.Node + "/" + e.Branch
	}
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", where, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() []error { return []error{ErrStepFailed, e.Err} }

// AbortError is returned when the run's context is cancelled.
type AbortError struct {
	Node  string // node in flight when the run was cancelled, if any
	Cause error
}

func (e *AbortError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("run aborted at node %q: %v", e.Node, e.Cause)
	}
	return fmt.Sprintf("run aborted: %v", e.Cause)
}

func (e *AbortError) Unwrap() []error { return []error{ErrAborted, e.Cause} }

// DefinitionError collects every problem found by Validate.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDefinitionInvalid, strings.Join(e.Problems, "; "))
}

func (e *DefinitionError) Unwrap() error { return ErrDefinitionInvalid }
