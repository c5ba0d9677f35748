package graph

import (
	"encoding/json"
	"maps"
	"time"
)

// RunStatus is the lifecycle state of one run.
type RunStatus int

const (
	// Ready means the run has been validated but no node has executed.
	Ready RunStatus = iota
	// Running means nodes are executing.
	Running
	// Completed means a terminal was reached.
	Completed
	// Failed means the run stopped on an error.
	Failed
	// Aborted means the caller cancelled the run.
	Aborted
)

func (s RunStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the result of one trace entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAborted Outcome = "aborted"
)

// TraceEntry records one executed step.
//
// Entries of a fan-out node share a Group ("<node>#<visit>") and name their
// Branch; they are appended in completion order. Update holds the applied
// partial update for successful entries and is nil otherwise.
type TraceEntry struct {
	Seq      int
	Node     string
	Branch   string
	Group    string
	Start    time.Time
	Duration time.Duration
	Outcome  Outcome
	Attempts int
	Err      error
	Update   Update
}

// Trace is the ordered record of a run. Entries are append-only while the
// run is executing; the returned Trace is owned by the caller.
type Trace struct {
	RunID      string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []TraceEntry

	visits map[string]int
}

func newTrace(runID string) *Trace {
	return &Trace{
		RunID:  runID,
		Status: Ready,
		visits: make(map[string]int),
	}
}

func (t *Trace) append(e TraceEntry) TraceEntry {
	e.Seq = len(t.Entries) + 1
	t.Entries = append(t.Entries, e)
	return e
}

// Nodes returns the node name of each entry in order.
func (t *Trace) Nodes() []string {
	out := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Node
	}
	return out
}

// VisitCount returns how many times node was entered during the run.
func (t *Trace) VisitCount(node string) int {
	return t.visits[node]
}

// Visits returns the visit count of every entered node.
func (t *Trace) Visits() map[string]int {
	return maps.Clone(t.visits)
}

// Record is the export form of a TraceEntry.
type Record struct {
	Node         string    `json:"node"`
	Branch       string    `json:"branch,omitempty"`
	Group        string    `json:"group,omitempty"`
	Start        time.Time `json:"start"`
	DurationMs   int64     `json:"durationMs"`
	Outcome      Outcome   `json:"outcome"`
	Attempts     int       `json:"attempts,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Record converts the entry to its export form.
func (e TraceEntry) Record() Record {
	r := Record{
		Node:       e.Node,
		Branch:     e.Branch,
		Group:      e.Group,
		Start:      e.Start,
		DurationMs: e.Duration.Milliseconds(),
		Outcome:    e.Outcome,
		Attempts:   e.Attempts,
	}
	if e.Err != nil {
		r.ErrorMessage = e.Err.Error()
	}
	return r
}

// Records returns every entry in export form.
func (t *Trace) Records() []Record {
	out := make([]Record, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Record()
	}
	return out
}

// MarshalJSON encodes the trace with its records.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RunID      string         `json:"runId"`
		Status     string         `json:"status"`
		StartedAt  time.Time      `json:"startedAt"`
		FinishedAt time.Time      `json:"finishedAt"`
		Visits     map[string]int `json:"visits"`
		Entries    []Record       `json:"entries"`
	}{
		RunID:      t.RunID,
		Status:     t.Status.String(),
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		Visits:     t.visits,
		Entries:    t.Records(),
	})
}
