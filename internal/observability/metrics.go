package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// monitoring engine.
type Metrics struct {
	IncidentsStarted prometheus.Counter
	IncidentOutcomes *prometheus.CounterVec // labels: outcome={dispatched,suppressed,aborted,dispatch_failed}
	EngineRunning    prometheus.Gauge
	CycleDuration    prometheus.Histogram

	ApprovalRequests    prometheus.Counter
	ApprovalResolutions *prometheus.CounterVec // labels: resolution={approved,rejected,expired}

	DispatchAttempts  prometheus.Histogram
	CapabilityRetries *prometheus.CounterVec // labels: capability={observation-source,classifier,notifier}

	AuditFailures prometheus.Counter
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.IncidentsStarted,
		m.IncidentOutcomes,
		m.EngineRunning,
		m.CycleDuration,
		m.ApprovalRequests,
		m.ApprovalResolutions,
		m.DispatchAttempts,
		m.CapabilityRetries,
		m.AuditFailures,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IncidentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "incidents_started_total",
			Help:      "Total incidents opened across all locations and cycles.",
		}),
		IncidentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "incident_outcomes_total",
			Help:      "Terminal incident outcomes by kind.",
		}, []string{"outcome"}),
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stormsentry",
			Name:      "engine_running",
			Help:      "1 when the polling engine is active, 0 when shut down.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stormsentry",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete polling cycle across all locations.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ApprovalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "approval_requests_total",
			Help:      "Total human approval requests created.",
		}),
		ApprovalResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "approval_resolutions_total",
			Help:      "Approval request resolutions by kind.",
		}, []string{"resolution"}),
		DispatchAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stormsentry",
			Name:      "dispatch_attempts",
			Help:      "Notifier send attempts per dispatched incident.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		CapabilityRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "capability_retries_total",
			Help:      "Retry attempts against external capabilities.",
		}, []string{"capability"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stormsentry",
			Name:      "audit_failures_total",
			Help:      "Audit sink append failures (degraded logging).",
		}),
	}
}
