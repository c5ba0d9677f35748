package graph

import (
	"encoding/json"

	"github.com/dshills/stepgraph/graph/store"
)

// storeRecord builds the persisted form of a finished run. Encoding errors
// degrade to a null payload; the run result itself is never affected.
func (r *run) storeRecord(final State, err error) store.Run {
	rec := store.Run{
		ID:         r.id,
		Status:     r.trace.Status.String(),
		Steps:      r.step,
		StartedAt:  r.trace.StartedAt,
		FinishedAt: r.trace.FinishedAt,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if data, merr := json.Marshal(final); merr == nil {
		rec.State = data
	} else {
		r.logger.Warn("failed to encode final state", "error", merr)
	}
	if data, merr := json.Marshal(r.trace); merr == nil {
		rec.Trace = data
	} else {
		r.logger.Warn("failed to encode trace", "error", merr)
	}
	return rec
}
