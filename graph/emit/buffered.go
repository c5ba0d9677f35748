package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by run ID, so callers
// can inspect a run's history after (or while) it executes. It is safe for
// concurrent use.
//
// Memory grows with the number of events; call Clear once a run's history is
// no longer needed.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emission order
}

// HistoryFilter narrows GetHistoryWithFilter results. Zero fields match all.
type HistoryFilter struct {
	NodeID  string // exact node match
	Msg     string // exact message match
	Branch  string // fan-out branch name from Meta["branch"]
	Failed  bool   // only events carrying an error
	MinStep *int   // inclusive lower step bound
	MaxStep *int   // inclusive upper step bound
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event recorded for runID, never nil.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events for runID matching filter, never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events[runID]))
	for _, ev := range b.events[runID] {
		if filter.matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Runs returns the IDs of every run with recorded events.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	return ids
}

// Clear drops the history of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}

func (f HistoryFilter) matches(ev Event) bool {
	switch {
	case f.NodeID != "" && ev.NodeID != f.NodeID:
		return false
	case f.Msg != "" && ev.Msg != f.Msg:
		return false
	case f.Failed && ev.Err() == "":
		return false
	case f.MinStep != nil && ev.Step < *f.MinStep:
		return false
	case f.MaxStep != nil && ev.Step > *f.MaxStep:
		return false
	}
	if f.Branch != "" {
		branch, _ := ev.Meta["branch"].(string)
		return branch == f.Branch
	}
	return true
}
