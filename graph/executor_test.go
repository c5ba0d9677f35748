package graph_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dshills/stepgraph/graph"
	"github.com/dshills/stepgraph/graph/emit"
	"github.com/dshills/stepgraph/graph/store"
)

func TestRun_Linear(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "plan", logStep("plan"))
	mustAdd(t, g, "write", logStep("write"))
	mustEdge(t, g, "plan", graph.Always("write"))
	mustEdge(t, g, "write", graph.Always(graph.End))
	mustEntry(t, g, "plan")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := logOf(t, final); !slices.Equal(got, []string{"plan", "write"}) {
		t.Errorf("log = %v", got)
	}
	if trace.Status != graph.Completed {
		t.Errorf("Status = %v, want completed", trace.Status)
	}
	if got := trace.Nodes(); !slices.Equal(got, []string{"plan", "write"}) {
		t.Errorf("trace nodes = %v", got)
	}
	for i, e := range trace.Entries {
		if e.Seq != i+1 || e.Outcome != graph.OutcomeSuccess || e.Attempts != 1 {
			t.Errorf("entry %d = %+v", i, e)
		}
		if e.Update == nil {
			t.Errorf("entry %d has no applied update", i)
		}
	}
	if trace.FinishedAt.Before(trace.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

// reviewLoop builds write -> review -> judge -> revise -> write, where judge
// approves once rounds reaches approveAt (0 never approves).
func reviewLoop(t *testing.T, approveAt int64, budget int) *graph.Graph {
	t.Helper()
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "write", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		return graph.Update{}.Append("log", "write").Add("rounds", 1), nil
	}), graph.WithVisitBudget(budget))
	mustAdd(t, g, "review", logStep("review"), graph.WithVisitBudget(budget))
	mustAdd(t, g, "judge", graph.StepFunc(func(_ context.Context, s graph.Snapshot) (graph.Update, error) {
		rounds, err := s.Int("rounds")
		if err != nil {
			return nil, err
		}
		return graph.Update{}.Append("log", "judge").Set("approved", approveAt > 0 && rounds >= approveAt), nil
	}), graph.WithVisitBudget(budget))
	mustAdd(t, g, "revise", logStep("revise"), graph.WithVisitBudget(budget))

	mustEdge(t, g, "write", graph.Always("review"))
	mustEdge(t, g, "review", graph.Always("judge"))
	mustEdge(t, g, "judge", graph.When(
		graph.Case{When: func(s graph.Snapshot) bool { ok, _ := s.Bool("approved"); return ok }, To: graph.End},
		graph.Otherwise("revise"),
	))
	mustEdge(t, g, "revise", graph.Always("write"))
	mustEntry(t, g, "write")
	return g
}

func TestRun_LoopBudgetExhausted(t *testing.T) {
	final, trace, err := mustExecutor(t, reviewLoop(t, 0, 3)).Run(context.Background(), graph.State{})

	if !errors.Is(err, graph.ErrCycleBudgetExceeded) {
		t.Fatalf("err = %v, want ErrCycleBudgetExceeded", err)
	}
	var be *graph.BudgetError
	if !errors.As(err, &be) || be.Node != "write" || be.Budget != 3 {
		t.Errorf("BudgetError = %+v", be)
	}
	if trace.Status != graph.Failed {
		t.Errorf("Status = %v", trace.Status)
	}
	if got := trace.VisitCount("write"); got != 3 {
		t.Errorf("write visits = %d, want 3", got)
	}
	if got := len(logOf(t, final)); got != 12 {
		t.Errorf("log length = %d, want 12 (three full rounds)", got)
	}
	if rounds, _ := final.Snapshot().Int("rounds"); rounds != 3 {
		t.Errorf("rounds = %d, want 3", rounds)
	}
}

func TestRun_LoopApproved(t *testing.T) {
	final, trace, err := mustExecutor(t, reviewLoop(t, 2, 3)).Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"write", "review", "judge", "revise", "write", "review", "judge"}
	if got := logOf(t, final); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
	if trace.VisitCount("write") != 2 || trace.VisitCount("revise") != 1 {
		t.Errorf("visits = %v", trace.Visits())
	}
}

func TestRun_Deterministic(t *testing.T) {
	exec := mustExecutor(t, reviewLoop(t, 3, 4))

	var first []string
	for i := 0; i < 5; i++ {
		final, trace, err := exec.Run(context.Background(), graph.State{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		got := append(logOf(t, final), trace.Nodes()...)
		if i == 0 {
			first = got
			continue
		}
		if !slices.Equal(got, first) {
			t.Fatalf("run %d diverged:\n got %v\nwant %v", i, got, first)
		}
	}
}

func TestRun_InvalidRouting(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "judge", logStep("judge"))
	mustAdd(t, g, "publish", logStep("publish"))
	mustEdge(t, g, "judge", graph.Choose(func(graph.Snapshot) string { return "archive" }, "publish", graph.End))
	mustEdge(t, g, "publish", graph.Always(graph.End))
	mustEntry(t, g, "judge")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})

	var re *graph.RoutingError
	if !errors.As(err, &re) || !errors.Is(err, graph.ErrInvalidRouting) {
		t.Fatalf("err = %v, want *RoutingError", err)
	}
	if re.Node != "judge" || re.Got != "archive" {
		t.Errorf("RoutingError = %+v", re)
	}
	// The judge's own update was applied before its resolver ran.
	if got := logOf(t, final); !slices.Equal(got, []string{"judge"}) {
		t.Errorf("log = %v", got)
	}
	if trace.Status != graph.Failed {
		t.Errorf("Status = %v", trace.Status)
	}
}

func TestRun_UnknownFieldNotRouted(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "bad", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		return graph.Update{"log": []any{"bad"}, "ghost": 1}, nil
	}), graph.WithErrorPolicy(graph.RouteTo("fix")))
	mustAdd(t, g, "fix", logStep("fix"))
	mustEdge(t, g, "bad", graph.Always(graph.End))
	mustEdge(t, g, "fix", graph.Always(graph.End))
	mustEntry(t, g, "bad")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if !errors.Is(err, graph.ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}
	if got := logOf(t, final); len(got) != 0 {
		t.Errorf("partial update applied: %v", got)
	}
	if trace.VisitCount("fix") != 0 {
		t.Error("schema violations must not reach the error handler")
	}
	if last := trace.Entries[len(trace.Entries)-1]; last.Outcome != graph.OutcomeFailure {
		t.Errorf("last entry = %+v", last)
	}
}

func TestRun_StepFailurePropagates(t *testing.T) {
	boom := errors.New("provider unavailable")
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "plan", logStep("plan"))
	mustAdd(t, g, "call", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		return graph.Update{}.Append("log", "never"), boom
	}))
	mustEdge(t, g, "plan", graph.Always("call"))
	mustEdge(t, g, "call", graph.Always(graph.End))
	mustEntry(t, g, "plan")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})

	if !errors.Is(err, graph.ErrStepFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want StepFailed wrapping cause", err)
	}
	var se *graph.StepError
	if !errors.As(err, &se) || se.Node != "call" {
		t.Errorf("StepError = %+v", se)
	}
	if got := logOf(t, final); !slices.Equal(got, []string{"plan"}) {
		t.Errorf("log = %v, want only plan", got)
	}
	last := trace.Entries[len(trace.Entries)-1]
	if last.Node != "call" || last.Outcome != graph.OutcomeFailure || last.Err == nil {
		t.Errorf("last entry = %+v", last)
	}
}

func TestRun_ErrorRoutedToHandler(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "call", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		return nil, errors.New("rate limited")
	}), graph.WithErrorPolicy(graph.RouteTo("fallback")), graph.WithErrorField("lastError"))
	mustAdd(t, g, "fallback", graph.StepFunc(func(_ context.Context, s graph.Snapshot) (graph.Update, error) {
		msg, err := s.String("lastError")
		if err != nil {
			return nil, err
		}
		return graph.Update{}.Append("log", "fallback:"+msg), nil
	}))
	mustEdge(t, g, "call", graph.Always(graph.End))
	mustEdge(t, g, "fallback", graph.Always(graph.End))
	mustEntry(t, g, "call")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	log := logOf(t, final)
	if len(log) != 1 || log[0] == "fallback:" {
		t.Errorf("handler did not see the error message: %v", log)
	}
	if got := trace.Nodes(); !slices.Equal(got, []string{"call", "fallback"}) {
		t.Errorf("trace nodes = %v", got)
	}
	if trace.Entries[0].Outcome != graph.OutcomeFailure || trace.Status != graph.Completed {
		t.Errorf("entries = %+v, status %v", trace.Entries, trace.Status)
	}
}

func TestRun_Cancellation(t *testing.T) {
	started := make(chan struct{})
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "plan", logStep("plan"), graph.WithVisitBudget(2))
	mustAdd(t, g, "slow", graph.StepFunc(func(ctx context.Context, _ graph.Snapshot) (graph.Update, error) {
		close(started)
		<-ctx.Done()
		return graph.Update{}.Append("log", "late"), ctx.Err()
	}), graph.WithErrorPolicy(graph.RouteTo("plan")), graph.WithVisitBudget(2))
	mustEdge(t, g, "plan", graph.Always("slow"))
	mustEdge(t, g, "slow", graph.Always(graph.End))
	mustEntry(t, g, "plan")
	exec := mustExecutor(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	final, trace, err := exec.Run(ctx, graph.State{})

	if !errors.Is(err, graph.ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrAborted wrapping context.Canceled", err)
	}
	var ae *graph.AbortError
	if !errors.As(err, &ae) || ae.Node != "slow" {
		t.Errorf("AbortError = %+v", ae)
	}
	if trace.Status != graph.Aborted {
		t.Errorf("Status = %v, want aborted", trace.Status)
	}
	if got := logOf(t, final); !slices.Equal(got, []string{"plan"}) {
		t.Errorf("log = %v, in-flight update must be discarded", got)
	}
	last := trace.Entries[len(trace.Entries)-1]
	if last.Node != "slow" || last.Outcome != graph.OutcomeAborted {
		t.Errorf("last entry = %+v", last)
	}
	if trace.VisitCount("plan") != 1 {
		t.Error("cancellation must not be routed to the error handler")
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "plan", logStep("plan"))
	mustEdge(t, g, "plan", graph.Always(graph.End))
	mustEntry(t, g, "plan")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, trace, err := mustExecutor(t, g).Run(ctx, graph.State{})
	if !errors.Is(err, graph.ErrAborted) {
		t.Fatalf("err = %v", err)
	}
	if len(trace.Entries) != 0 || trace.Status != graph.Aborted {
		t.Errorf("trace = %+v", trace)
	}
}

func TestRun_AbandonsStepIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "stuck", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
		close(started)
		<-release
		return graph.Update{}.Append("log", "stuck"), nil
	}))
	mustEdge(t, g, "stuck", graph.Always(graph.End))
	mustEntry(t, g, "stuck")
	exec := mustExecutor(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, _, err := exec.Run(ctx, graph.State{})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, graph.ErrAborted) {
			t.Errorf("err = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_TerminalNode(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "draft", logStep("draft"))
	mustAdd(t, g, "publish", logStep("publish"))
	mustEdge(t, g, "draft", graph.Always("publish"))
	if err := g.MarkTerminal("publish"); err != nil {
		t.Fatal(err)
	}
	mustEntry(t, g, "draft")

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := logOf(t, final); !slices.Equal(got, []string{"draft", "publish"}) {
		t.Errorf("log = %v", got)
	}
	if trace.Status != graph.Completed {
		t.Errorf("Status = %v", trace.Status)
	}
}

func TestRun_CustomTerminalMarker(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "triage", logStep("triage"))
	if err := g.MarkTerminal("escalated"); err != nil {
		t.Fatal(err)
	}
	mustEdge(t, g, "triage", graph.Always("escalated"))
	mustEntry(t, g, "triage")

	_, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if err != nil || trace.Status != graph.Completed {
		t.Fatalf("err = %v, status %v", err, trace.Status)
	}
}

func TestRun_EntryRouter(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "write", logStep("write"))
	mustAdd(t, g, "review", logStep("review"))
	mustEdge(t, g, "write", graph.Always("review"))
	mustEdge(t, g, "review", graph.Always(graph.End))
	if err := g.SetEntryRouter(graph.PathMap(func(s graph.Snapshot) string {
		if d, _ := s.String("draft"); d != "" {
			return "has_draft"
		}
		return "empty"
	}, map[string]string{"has_draft": "review", "empty": "write"})); err != nil {
		t.Fatal(err)
	}
	exec := mustExecutor(t, g)

	st, err := g.NewState(map[string]any{"draft": "v1"})
	if err != nil {
		t.Fatal(err)
	}
	final, _, err := exec.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := logOf(t, final); !slices.Equal(got, []string{"review"}) {
		t.Errorf("log = %v, want entry at review", got)
	}

	final, _, err = exec.Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := logOf(t, final); !slices.Equal(got, []string{"write", "review"}) {
		t.Errorf("log = %v", got)
	}
}

func TestRun_SchemaMismatch(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "a", logStep("a"))
	mustEdge(t, g, "a", graph.Always(graph.End))
	mustEntry(t, g, "a")

	other, _ := reviewSchema().NewState(nil)
	_, trace, err := mustExecutor(t, g).Run(context.Background(), other)
	if !errors.Is(err, graph.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if trace.Status != graph.Failed {
		t.Errorf("Status = %v", trace.Status)
	}
}

func TestRunStreaming(t *testing.T) {
	exec := mustExecutor(t, reviewLoop(t, 2, 3))

	var streamed []graph.TraceEntry
	_, trace, err := exec.RunStreaming(context.Background(), graph.State{}, func(e graph.TraceEntry) {
		streamed = append(streamed, e)
	})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if len(streamed) != len(trace.Entries) {
		t.Fatalf("streamed %d entries, trace has %d", len(streamed), len(trace.Entries))
	}
	for i := range streamed {
		if streamed[i].Seq != trace.Entries[i].Seq || streamed[i].Node != trace.Entries[i].Node {
			t.Errorf("entry %d: streamed %+v, trace %+v", i, streamed[i], trace.Entries[i])
		}
	}
}

func TestRun_RunIDFromContext(t *testing.T) {
	var seen string
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "a", graph.StepFunc(func(ctx context.Context, _ graph.Snapshot) (graph.Update, error) {
		seen, _ = graph.RunIDFromContext(ctx)
		graph.Logger(ctx).Info("inside step")
		return nil, nil
	}))
	mustEdge(t, g, "a", graph.Always(graph.End))
	mustEntry(t, g, "a")
	exec := mustExecutor(t, g)

	ctx := graph.ContextWithRunID(context.Background(), "run-42")
	_, trace, err := exec.Run(ctx, graph.State{})
	if err != nil {
		t.Fatal(err)
	}
	if trace.RunID != "run-42" || seen != "run-42" {
		t.Errorf("trace run %q, step saw %q", trace.RunID, seen)
	}

	_, trace, _ = exec.Run(context.Background(), graph.State{})
	if trace.RunID == "" || trace.RunID == "run-42" {
		t.Errorf("generated run ID = %q", trace.RunID)
	}
}

func TestRun_EmitsEvents(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	exec := mustExecutor(t, reviewLoop(t, 1, 2), graph.WithEmitter(buf))

	_, trace, err := exec.Run(context.Background(), graph.State{})
	if err != nil {
		t.Fatal(err)
	}

	events := buf.GetHistory(trace.RunID)
	if len(events) == 0 || events[0].Msg != "run_start" || events[len(events)-1].Msg != "run_end" {
		t.Fatalf("events = %+v", events)
	}
	if got := len(buf.GetHistoryWithFilter(trace.RunID, emit.HistoryFilter{Msg: "node_end"})); got != len(trace.Entries) {
		t.Errorf("node_end events = %d, want %d", got, len(trace.Entries))
	}
	routed := buf.GetHistoryWithFilter(trace.RunID, emit.HistoryFilter{NodeID: "judge", Msg: "routed"})
	if len(routed) != 1 || routed[0].Meta["to"] != graph.End {
		t.Errorf("judge routed events = %+v", routed)
	}
	if end := events[len(events)-1]; end.Meta["status"] != "completed" {
		t.Errorf("run_end meta = %v", end.Meta)
	}
}

func TestRun_SavesToStore(t *testing.T) {
	st := store.NewMemStore()
	exec := mustExecutor(t, reviewLoop(t, 0, 2), graph.WithStore(st))

	_, trace, err := exec.Run(context.Background(), graph.State{})
	if err == nil {
		t.Fatal("expected budget error")
	}

	rec, err := st.LoadRun(context.Background(), trace.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if rec.Status != "failed" || rec.Error == "" || rec.Steps != len(trace.Entries) {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.State) == 0 || len(rec.Trace) == 0 {
		t.Error("state and trace payloads missing")
	}
}

func TestExecutor_ConcurrentRuns(t *testing.T) {
	exec := mustExecutor(t, reviewLoop(t, 2, 3))

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _, err := exec.Run(context.Background(), graph.State{})
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Errorf("run: %v", err)
		}
	}
}

func TestRun_ResolverFieldErrors(t *testing.T) {
	tests := []struct {
		name string
		read func(s graph.Snapshot) bool
		want error
	}{
		{
			name: "misspelled field",
			read: func(s graph.Snapshot) bool { ok, _ := s.Bool("aproved"); return ok },
			want: graph.ErrUnknownField,
		},
		{
			name: "wrong accessor",
			read: func(s graph.Snapshot) bool { n, _ := s.Int("draft"); return n > 0 },
			want: graph.ErrTypeMismatch,
		},
		{
			name: "get undeclared",
			read: func(s graph.Snapshot) bool { v, _ := s.Get("ghost"); return v != nil },
			want: graph.ErrUnknownField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.NewGraph(reviewSchema())
			mustAdd(t, g, "judge", graph.StepFunc(func(context.Context, graph.Snapshot) (graph.Update, error) {
				return graph.Update{}.Append("log", "judge").Set("draft", "v1"), nil
			}))
			mustAdd(t, g, "revise", logStep("revise"))
			mustEdge(t, g, "judge", graph.When(
				graph.Case{When: tt.read, To: graph.End},
				graph.Otherwise("revise"),
			))
			mustEdge(t, g, "revise", graph.Always(graph.End))
			mustEntry(t, g, "judge")

			final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var fe *graph.FieldError
			if !errors.As(err, &fe) {
				t.Errorf("err %T does not carry a *FieldError", err)
			}
			if trace.Status != graph.Failed {
				t.Errorf("status = %v, want failed", trace.Status)
			}
			if got := logOf(t, final); !slices.Equal(got, []string{"judge"}) {
				t.Errorf("log = %v, run must stop before routing", got)
			}
		})
	}

	t.Run("probing with Has is allowed", func(t *testing.T) {
		g := graph.NewGraph(reviewSchema())
		mustAdd(t, g, "judge", logStep("judge"))
		mustEdge(t, g, "judge", graph.Choose(func(s graph.Snapshot) string {
			if s.Has("ghost") {
				return "missing"
			}
			return graph.End
		}, graph.End))
		mustEntry(t, g, "judge")
		if _, _, err := mustExecutor(t, g).Run(context.Background(), graph.State{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	})
}

func TestRun_EntryRouterFieldError(t *testing.T) {
	g := graph.NewGraph(reviewSchema())
	mustAdd(t, g, "write", logStep("write"))
	mustEdge(t, g, "write", graph.Always(graph.End))
	if err := g.SetEntryRouter(graph.Choose(func(s graph.Snapshot) string {
		d, _ := s.String("drafts")
		if d != "" {
			return graph.End
		}
		return "write"
	}, "write", graph.End)); err != nil {
		t.Fatal(err)
	}

	final, trace, err := mustExecutor(t, g).Run(context.Background(), graph.State{})
	if !errors.Is(err, graph.ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}
	if len(trace.Entries) != 0 || len(logOf(t, final)) != 0 {
		t.Errorf("no node should run: entries %d", len(trace.Entries))
	}
}

func TestRun_StepCannotMutateState(t *testing.T) {
	schema := graph.MustSchema(
		graph.Field{Name: "ids", Kind: graph.Scalar},
		graph.Field{Name: "tags", Kind: graph.Scalar},
	)
	g := graph.NewGraph(schema)
	tamper := func(_ context.Context, s graph.Snapshot) (graph.Update, error) {
		v, _ := s.Get("ids")
		v.([]int)[0] = 999
		m, _ := s.Get("tags")
		m.(map[string]string)["env"] = "dev"
		return nil, nil
	}
	mustAdd(t, g, "tamper", graph.StepFunc(tamper))
	if err := g.AddFanOut("fan", []graph.Branch{
		{Name: "a", Step: graph.StepFunc(tamper)},
		{Name: "b", Step: graph.StepFunc(tamper)},
	}); err != nil {
		t.Fatal(err)
	}
	mustEdge(t, g, "tamper", graph.Always("fan"))
	mustEdge(t, g, "fan", graph.Always(graph.End))
	mustEntry(t, g, "tamper")

	initial, err := g.NewState(map[string]any{"ids": []int{1, 2, 3}, "tags": map[string]string{"env": "prod"}})
	if err != nil {
		t.Fatal(err)
	}
	final, _, err := mustExecutor(t, g).Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for name, st := range map[string]graph.State{"initial": initial, "final": final} {
		ids, _ := st.Get("ids")
		tags, _ := st.Get("tags")
		if ids.([]int)[0] != 1 || tags.(map[string]string)["env"] != "prod" {
			t.Errorf("%s state mutated by a step: ids=%v tags=%v", name, ids, tags)
		}
	}
}
