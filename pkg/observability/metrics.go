package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	sandboxRuns       *prometheus.CounterVec
	sandboxDuration   *prometheus.HistogramVec
	reconcileOps      *prometheus.CounterVec
	reconcileWarnings prometheus.Counter
	patchTransitions  *prometheus.CounterVec
	locksHeld         prometheus.Gauge
	agentTurns        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
// that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sandboxRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_sandbox_runs_total",
				Help: "Sandbox program runs by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		sandboxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "easel_sandbox_duration_seconds",
				Help:    "Wall-clock duration of sandbox program runs",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		reconcileOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_reconcile_operations_total",
				Help: "Entity writes committed by the reconciler",
			},
			[]string{"entity", "op"},
		),
		reconcileWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easel_reconcile_warnings_total",
			Help: "Entities skipped by the lenient reconciliation policy",
		}),
		patchTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_patch_transitions_total",
				Help: "Patch state transitions by target state",
			},
			[]string{"state"},
		),
		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easel_canvas_locks_held",
			Help: "Canvases currently locked by an agent session",
		}),
		agentTurns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_agent_turns_total",
				Help: "Agent turns by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.sandboxRuns,
		m.sandboxDuration,
		m.reconcileOps,
		m.reconcileWarnings,
		m.patchTransitions,
		m.locksHeld,
		m.agentTurns,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SandboxRun records one program run.
func (m *Metrics) SandboxRun(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sandboxRuns.WithLabelValues(backend, outcome).Inc()
	m.sandboxDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Reconciled records the writes of one committed change set.
func (m *Metrics) Reconciled(entity, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconcileOps.WithLabelValues(entity, op).Add(float64(n))
}

// ReconcileWarnings records skipped entities.
func (m *Metrics) ReconcileWarnings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconcileWarnings.Add(float64(n))
}

// PatchTransition records a patch entering state.
func (m *Metrics) PatchTransition(state string) {
	if m == nil {
		return
	}
	m.patchTransitions.WithLabelValues(state).Inc()
}

// LockAcquired and LockReleased track the number of held canvas locks.
func (m *Metrics) LockAcquired() {
	if m == nil {
		return
	}
	m.locksHeld.Inc()
}

func (m *Metrics) LockReleased() {
	if m == nil {
		return
	}
	m.locksHeld.Dec()
}

// AgentTurn records the outcome of one agent turn.
func (m *Metrics) AgentTurn(outcome string) {
	if m == nil {
		return
	}
	m.agentTurns.WithLabelValues(outcome).Inc()
}
