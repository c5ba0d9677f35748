package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stepgraph/graph/emit"
)

// Executor runs a sealed Graph.
//
// The Executor holds no per-run state: every Run owns its State lineage,
// visit counts and Trace, so one Executor may serve concurrent runs.
type Executor struct {
	graph *Graph
	opts  Options

	// successor sets per node, resolved once at construction.
	allowed map[string]map[string]bool
}

// NewExecutor validates g, seals it, and returns an Executor for it.
//
// Validation problems are returned as a *DefinitionError. Warnings (such as
// unreachable nodes) are logged at WARN and stay available from g.Warnings.
func NewExecutor(g *Graph, opts ...Option) (*Executor, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph cannot be nil", Code: "NIL_GRAPH"}
	}

	var o Options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.Logger == nil {
		o.Logger = discardLogger
	}
	if o.Emitter == nil {
		o.Emitter = emit.NewNullEmitter()
	}

	if err := g.seal(); err != nil {
		return nil, err
	}
	for _, w := range g.Warnings() {
		o.Logger.Warn("graph definition warning", "warning", w)
	}

	allowed := make(map[string]map[string]bool, len(g.edges)+1)
	for name, r := range g.edges {
		allowed[name] = toSet(r.Successors())
	}

	return &Executor{graph: g, opts: o, allowed: allowed}, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Graph returns the sealed graph the executor runs.
func (e *Executor) Graph() *Graph { return e.graph }

// Run executes the graph from its entry until a terminal is reached, a
// failure stops it, or ctx is cancelled.
//
// It always returns the latest applied State and the Trace so far, even when
// err is non-nil. A zero State starts from the schema's zero values.
//
// Cancellation abandons the Step in flight: its context is cancelled, its
// eventual result is discarded, and the run returns an *AbortError.
func (e *Executor) Run(ctx context.Context, initial State) (State, *Trace, error) {
	return e.RunStreaming(ctx, initial, nil)
}

// RunStreaming is Run with a callback invoked once per trace entry, in trace
// order, on the calling goroutine. It replaces polling for progress.
func (e *Executor) RunStreaming(ctx context.Context, initial State, onStep func(TraceEntry)) (State, *Trace, error) {
	runID, ok := RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}

	r := &run{
		exec:   e,
		graph:  e.graph,
		id:     runID,
		trace:  newTrace(runID),
		onStep: onStep,
		logger: e.opts.Logger.With("run_id", runID),
	}
	r.trace.StartedAt = time.Now()

	state, err := e.initialState(initial)
	if err != nil {
		r.trace.Status = Failed
		r.trace.FinishedAt = time.Now()
		return initial, r.trace, err
	}

	r.trace.Status = Running
	r.emit(0, "", "run_start", nil)
	r.logger.Info("run started")

	final, err := r.loop(ctx, state)
	r.finish(ctx, final, err)
	return final, r.trace, err
}

func (e *Executor) initialState(initial State) (State, error) {
	schema := e.graph.schema
	switch initial.schema {
	case nil:
		return schema.NewState(nil)
	case schema:
		return initial, nil
	default:
		return State{}, ErrSchemaMismatch
	}
}

// run is the mutable bookkeeping of one execution. It is confined to the
// goroutine that called RunStreaming.
type run struct {
	exec   *Executor
	graph  *Graph
	id     string
	trace  *Trace
	step   int
	onStep func(TraceEntry)
	logger *slog.Logger
}

// loop drives the Running state. It returns the state to report and the
// error that ended the run, nil on completion.
func (r *run) loop(ctx context.Context, state State) (State, error) {
	current, err := r.entry(state)
	if err != nil {
		return state, err
	}

	for {
		if r.graph.isTerminalMarker(current) {
			return state, nil
		}
		if err := ctx.Err(); err != nil {
			return state, &AbortError{Cause: err}
		}

		n := r.graph.nodes[current]
		if r.trace.visits[current] >= n.visitBudget() {
			r.exec.opts.Metrics.IncrementBudgetExhausted(current)
			r.logger.Error("visit budget exhausted", "node", current, "budget", n.visitBudget())
			return state, &BudgetError{Node: current, Budget: n.visitBudget()}
		}
		r.trace.visits[current]++
		r.step++
		r.emit(r.step, current, "node_start", map[string]interface{}{"visit": r.trace.visits[current]})

		res := r.execute(ctx, n, state.Snapshot())

		if res.aborted {
			return state, &AbortError{Node: current, Cause: context.Cause(ctx)}
		}

		if res.err != nil {
			if !routable(res.err) {
				r.logger.Error("step failed", "node", current, "error", res.err)
				return state, res.err
			}
			handler := n.onError.Handler()
			if handler == "" {
				r.logger.Error("step failed", "node", current, "error", res.err)
				return state, res.err
			}
			state, err = r.recordFailure(state, n, res.err)
			if err != nil {
				return state, err
			}
			r.logger.Warn("step failed, routing to handler", "node", current, "handler", handler, "error", res.err)
			r.emit(r.step, current, "routed", map[string]interface{}{"to": handler, "reason": "error"})
			current = handler
			continue
		}

		state = res.state

		if r.graph.terminals[current] {
			return state, nil
		}

		next, err := route(r.graph.edges[current], state)
		if err != nil {
			r.logger.Error("resolver read failed", "node", current, "error", err)
			return state, fmt.Errorf("route from %q: %w", current, err)
		}
		if !r.exec.allowed[current][next] {
			allowed := r.graph.edges[current].Successors()
			r.logger.Error("invalid routing", "node", current, "next", next)
			return state, &RoutingError{Node: current, Got: next, Allowed: allowed}
		}
		r.logger.Debug("routed", "node", current, "next", next)
		r.emit(r.step, current, "routed", map[string]interface{}{"to": next})
		current = next
	}
}

// entry resolves the first node, consulting the entry router when one is set.
func (r *run) entry(state State) (string, error) {
	g := r.graph
	if g.entryRouter == nil {
		return g.entry, nil
	}
	first, err := route(g.entryRouter, state)
	if err != nil {
		return "", fmt.Errorf("route entry: %w", err)
	}
	for _, s := range g.entryRouter.Successors() {
		if s == first {
			return first, nil
		}
	}
	return "", &RoutingError{Node: "<entry>", Got: first, Allowed: g.entryRouter.Successors()}
}

// routable reports whether err may be handled by a node's error policy.
// Schema violations and undeclared fan-out writes are programmer errors and
// always fail the run.
func routable(err error) bool {
	return errors.Is(err, ErrStepFailed) &&
		!errors.Is(err, ErrUnknownField) &&
		!errors.Is(err, ErrTypeMismatch) &&
		!errors.Is(err, ErrUndeclaredWrite)
}

// recordFailure writes the failure message into the node's error field, if
// it has one, without applying anything from the failed Step.
func (r *run) recordFailure(state State, n *node, failure error) (State, error) {
	if n.errorField == "" {
		return state, nil
	}
	f, _ := r.graph.schema.Field(n.errorField)
	var v any = failure.Error()
	if f.Kind == ListAppend {
		v = []any{failure.Error()}
	}
	return state.Apply(Update{n.errorField: v})
}

// nodeResult is what executing one node visit produced.
type nodeResult struct {
	state   State // state after the update was applied
	err     error
	aborted bool
}

// attempt is the outcome of a single-step node visit, produced off the run
// goroutine.
type attempt struct {
	entry  TraceEntry
	update Update
	err    error
}

// execute runs one visit of n against snap. The Step runs on its own
// goroutine so that cancellation can abandon it; fan-out branch entries are
// streamed back through sink and recorded here as they complete.
func (r *run) execute(ctx context.Context, n *node, snap Snapshot) nodeResult {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stepCtx = ContextWithRunID(stepCtx, r.id)
	stepCtx = contextWithLogger(stepCtx, r.logger.With("node", n.name))

	start := time.Now()
	group := ""
	sink := make(chan TraceEntry, len(n.branches))
	done := make(chan attempt, 1)

	if n.isFanOut() {
		group = fmt.Sprintf("%s#%d", n.name, r.trace.visits[n.name])
		go func() { done <- r.exec.runFanOut(stepCtx, n, group, snap, sink) }()
	} else {
		go func() { done <- r.exec.runStep(stepCtx, n, snap) }()
	}

	for {
		select {
		case e := <-sink:
			r.record(e)
		case a := <-done:
			r.drain(sink)
			return r.settle(ctx, n, group, start, a, snap)
		case <-ctx.Done():
			r.drain(sink)
			r.record(TraceEntry{
				Node:     n.name,
				Group:    group,
				Start:    start,
				Duration: time.Since(start),
				Outcome:  OutcomeAborted,
				Err:      context.Cause(ctx),
			})
			return nodeResult{aborted: true}
		}
	}
}

func (r *run) drain(sink chan TraceEntry) {
	for {
		select {
		case e := <-sink:
			r.record(e)
		default:
			return
		}
	}
}

// settle turns a finished attempt into a nodeResult, applying its update.
func (r *run) settle(ctx context.Context, n *node, group string, start time.Time, a attempt, snap Snapshot) nodeResult {
	// A Step that gave up because the run was cancelled is an abort, not a
	// failure to route.
	if a.err != nil && ctx.Err() != nil {
		r.record(TraceEntry{
			Node:     n.name,
			Group:    group,
			Start:    start,
			Duration: time.Since(start),
			Outcome:  OutcomeAborted,
			Err:      context.Cause(ctx),
		})
		return nodeResult{aborted: true}
	}

	if a.err != nil {
		if !n.isFanOut() {
			r.record(a.entry)
		} else if !errors.Is(a.err, ErrStepFailed) {
			// Merge-time failure: branches succeeded but their updates did not.
			r.record(TraceEntry{Node: n.name, Group: group, Start: start, Duration: time.Since(start), Outcome: OutcomeFailure, Err: a.err})
		}
		return nodeResult{err: a.err}
	}

	next, err := snap.state.Apply(a.update)
	if err != nil {
		if n.isFanOut() {
			r.record(TraceEntry{Node: n.name, Group: group, Start: start, Duration: time.Since(start), Outcome: OutcomeFailure, Err: err})
		} else {
			a.entry.Outcome = OutcomeFailure
			a.entry.Err = err
			r.record(a.entry)
		}
		return nodeResult{err: err}
	}

	if !n.isFanOut() {
		a.entry.Update = a.update
		r.record(a.entry)
	}
	return nodeResult{state: next}
}

// record appends e to the trace and publishes it to the metrics, the emitter
// and the streaming callback.
func (r *run) record(e TraceEntry) {
	e = r.trace.append(e)
	r.exec.opts.Metrics.RecordStep(e.Node, e.Outcome, e.Duration)

	meta := map[string]interface{}{
		"duration_ms": e.Duration.Milliseconds(),
		"outcome":     string(e.Outcome),
		"seq":         e.Seq,
	}
	if e.Attempts > 1 {
		meta["attempt"] = e.Attempts
	}
	if e.Branch != "" {
		meta["branch"] = e.Branch
		meta["group"] = e.Group
	}
	msg := "node_end"
	if e.Err != nil {
		meta["error"] = e.Err.Error()
		msg = "node_error"
	}
	r.emit(r.step, e.Node, msg, meta)

	if r.onStep != nil {
		r.onStep(e)
	}
}

func (r *run) emit(step int, nodeID, msg string, meta map[string]interface{}) {
	r.exec.opts.Emitter.Emit(emit.Event{
		RunID:  r.id,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

// finish settles the run status and reports it to logs, metrics, the
// emitter and the store.
func (r *run) finish(ctx context.Context, final State, err error) {
	switch {
	case err == nil:
		r.trace.Status = Completed
	case errors.Is(err, ErrAborted):
		r.trace.Status = Aborted
	default:
		r.trace.Status = Failed
	}
	r.trace.FinishedAt = time.Now()
	r.exec.opts.Metrics.RecordRun(r.trace.Status)

	meta := map[string]interface{}{
		"status": r.trace.Status.String(),
		"steps":  r.step,
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	r.emit(r.step, "", "run_end", meta)

	switch r.trace.Status {
	case Completed:
		r.logger.Info("run completed", "steps", r.step, "duration", r.trace.FinishedAt.Sub(r.trace.StartedAt))
	case Aborted:
		r.logger.Warn("run aborted", "steps", r.step, "error", err)
	default:
		r.logger.Error("run failed", "steps", r.step, "error", err)
	}

	if r.exec.opts.Store != nil {
		// Aborted runs are saved too, so the run context may be cancelled.
		if serr := r.exec.opts.Store.SaveRun(context.WithoutCancel(ctx), r.storeRecord(final, err)); serr != nil {
			r.logger.Error("failed to save run", "error", serr)
		}
	}
}
