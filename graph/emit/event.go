// Package emit provides lifecycle event emission for graph execution.
package emit

// Event is one lifecycle notification from a workflow run.
//
// The executor emits these messages:
//   - "run_start" and "run_end" (Step 0 and the final step, NodeID empty)
//   - "node_start" when a node is entered
//   - "node_end" for each successful trace entry, "node_error" for failed or
//     aborted ones
//   - "routed" when a successor (or error handler) has been chosen
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the number of node visits made so far in the run (1-indexed).
	// Zero for run_start.
	Step int

	// NodeID identifies the node. Empty for run-level events.
	NodeID string

	// Msg names the event, one of the messages listed above.
	Msg string

	// Meta carries event-specific data. Common keys:
	//   - "duration_ms": step duration in milliseconds
	//   - "outcome": "success", "failure" or "aborted"
	//   - "error": error message; its presence marks the event as a failure
	//   - "branch", "group": fan-out branch name and group ID
	//   - "attempt": attempts made when a retry policy was used
	//   - "to": successor chosen by a "routed" event
	//   - "status": final run status on run_end
	Meta map[string]interface{}
}

// Err returns the "error" meta value, or "" when the event is not a failure.
func (e Event) Err() string {
	s, _ := e.Meta["error"].(string)
	return s
}
