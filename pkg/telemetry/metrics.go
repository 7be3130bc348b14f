package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Namespace is the metrics namespace prefix.
	Namespace string
}

// Metrics collects Prometheus metrics over stack runs. A nil or disabled
// Metrics is a no-op, so callers record unconditionally.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	resourceOutcomes *prometheus.CounterVec
	verifyAttempts   prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "deployql"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of stack runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of stack runs completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of stack runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		resourceOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_outcomes_total",
				Help:      "Resource reconciliation outcomes",
			},
			[]string{"outcome"},
		),
		verifyAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "verification_attempts",
				Help:      "State verification attempts used per resource",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.resourceOutcomes,
		m.verifyAttempts,
	)
	return m
}

// enabled reports whether this collector records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RunStarted records the start of a stack run.
func (m *Metrics) RunStarted(mode string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RunCompleted records the end of a stack run.
func (m *Metrics) RunCompleted(mode string, succeeded bool, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	status := "success"
	if !succeeded {
		status = "failure"
	}
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ResourceReconciled records a per-resource outcome and the verification
// attempts it took.
func (m *Metrics) ResourceReconciled(outcome string, attempts int) {
	if !m.enabled() {
		return
	}
	m.resourceOutcomes.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.verifyAttempts.Observe(float64(attempts))
	}
}

// Handler returns an HTTP handler serving the collected metrics.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather collects the current metric families, mainly for tests.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if !m.enabled() {
		return nil, nil
	}
	return m.registry.Gather()
}
