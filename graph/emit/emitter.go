package emit

// Emitter receives lifecycle events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: Emit runs on the run's goroutine
//   - Thread-safe: concurrent runs may share one emitter
//   - Resilient: failures are handled internally, never panicking
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter forwards every event to each of its emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit implements Emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
