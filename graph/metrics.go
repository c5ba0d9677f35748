package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for graph execution.
//
// Metrics exposed (all under the configured namespace):
//
// 1. steps_total (counter): Executed steps. Labels: node, outcome.
//
// 2. step_latency_ms (histogram): Step duration in milliseconds, including
// retries. Labels: node, outcome. Buckets 1ms to 10s.
//
// 3. runs_total (counter): Finished runs. Labels: status.
//
// 4. budget_exhausted_total (counter): Runs stopped because a node hit its
// visit budget. Labels: node.
//
// 5. retries_total (counter): Step retry attempts. Labels: node.
//
// 6. inflight_branches (gauge): Fan-out branches currently executing.
//
// Labels never include the run ID.
// All methods are safe on a nil *Metrics, so callers need no nil checks.
type Metrics struct {
	steps           *prometheus.CounterVec
	stepLatency     *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	budgetExhausted *prometheus.CounterVec
	retries         *prometheus.CounterVec
	inflight        prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers all executor metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer; an empty namespace uses
// "stepgraph". Registering twice on the same registry panics, as with promauto.
func NewMetrics(registry prometheus.Registerer, namespace string) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "stepgraph"
	}

	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed workflow steps by node and outcome",
		}, []string{"node", "outcome"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds, retries included",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "outcome"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished workflow runs by final status",
		}, []string{"status"}),
		budgetExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_exhausted_total",
			Help:      "Runs stopped because a node exceeded its visit budget",
		}, []string{"node"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Step retry attempts",
		}, []string{"node"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_branches",
			Help:      "Fan-out branches currently executing",
		}),
	}
}

func (m *Metrics) on() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// RecordStep records one trace entry's outcome and duration.
func (m *Metrics) RecordStep(node string, outcome Outcome, d time.Duration) {
	if !m.on() {
		return
	}
	m.steps.WithLabelValues(node, string(outcome)).Inc()
	m.stepLatency.WithLabelValues(node, string(outcome)).Observe(float64(d.Milliseconds()))
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(status RunStatus) {
	if !m.on() {
		return
	}
	m.runs.WithLabelValues(status.String()).Inc()
}

// IncrementBudgetExhausted counts a run stopped by node's visit budget.
func (m *Metrics) IncrementBudgetExhausted(node string) {
	if !m.on() {
		return
	}
	m.budgetExhausted.WithLabelValues(node).Inc()
}

// IncrementRetries counts one retry of node's Step.
func (m *Metrics) IncrementRetries(node string) {
	if !m.on() {
		return
	}
	m.retries.WithLabelValues(node).Inc()
}

// UpdateInflightBranches adjusts the in-flight branch gauge by delta.
func (m *Metrics) UpdateInflightBranches(delta int) {
	if !m.on() {
		return
	}
	m.inflight.Add(float64(delta))
}

// Disable stops recording without unregistering the collectors.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Reset clears every labelled series and zeroes the gauge. Useful between tests.
func (m *Metrics) Reset() {
	m.steps.Reset()
	m.stepLatency.Reset()
	m.runs.Reset()
	m.budgetExhausted.Reset()
	m.retries.Reset()
	m.inflight.Set(0)
}
