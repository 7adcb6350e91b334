package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/parity/pkg/engine"
)

// Metrics provides Prometheus metrics for the parity runner. A Metrics
// created with collection disabled accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec

	// Step metrics
	stepCalls    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// Comparison metrics
	differences *prometheus.CounterVec

	// Store and session metrics
	persistenceErrors *prometheus.CounterVec
	evictions         *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Scheduler metrics
	activeTasks prometheus.Gauge
	queuedTasks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions started",
			},
			[]string{"category"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of executions that reached a terminal status",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_calls_total",
				Help:      "Total number of step calls",
			},
			[]string{"step", "environment", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step calls in seconds",
				Buckets:   buckets,
			},
			[]string{"step", "environment"},
		),

		differences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "differences_total",
				Help:      "Total number of differences found between environments",
			},
			[]string{"step", "severity"},
		),

		persistenceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_errors_total",
				Help:      "Total number of failed progress or registry writes",
			},
			[]string{"operation"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Total number of evicted sessions and executions",
			},
			[]string{"kind"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of gate policy violations",
			},
			[]string{"policy", "severity"},
		),

		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Current number of running session tasks",
			},
		),
		queuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_tasks",
				Help:      "Current number of queued session tasks",
			},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.stepCalls,
		m.stepDuration,
		m.differences,
		m.persistenceErrors,
		m.evictions,
		m.policyViolations,
		m.activeTasks,
		m.queuedTasks,
	)

	return m, nil
}

// Execution Metrics

// RecordExecutionStarted implements engine.MetricsRecorder.
func (m *Metrics) RecordExecutionStarted(category string) {
	if m.executionsStarted == nil {
		return
	}
	m.executionsStarted.WithLabelValues(category).Inc()
}

// RecordExecutionCompleted implements engine.MetricsRecorder.
func (m *Metrics) RecordExecutionCompleted(status string, duration time.Duration) {
	if m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Step Metrics

// RecordStepCall implements engine.MetricsRecorder.
func (m *Metrics) RecordStepCall(step, environment, outcome string, duration time.Duration) {
	if m.stepCalls == nil {
		return
	}
	m.stepCalls.WithLabelValues(step, environment, outcome).Inc()
	m.stepDuration.WithLabelValues(step, environment).Observe(duration.Seconds())
}

// RecordDifferences implements engine.MetricsRecorder.
func (m *Metrics) RecordDifferences(step string, critical, warning, info int) {
	if m.differences == nil {
		return
	}
	for severity, n := range map[string]int{"critical": critical, "warning": warning, "info": info} {
		if n > 0 {
			m.differences.WithLabelValues(step, severity).Add(float64(n))
		}
	}
}

// Store Metrics

// RecordPersistenceError implements engine.MetricsRecorder.
func (m *Metrics) RecordPersistenceError(operation string) {
	if m.persistenceErrors == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(operation).Inc()
}

// RecordEviction counts an evicted session or execution.
func (m *Metrics) RecordEviction(kind string) {
	if m.evictions == nil {
		return
	}
	m.evictions.WithLabelValues(kind).Inc()
}

// RecordPolicyViolation counts a gate policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Scheduler Metrics

// SetActiveTasks implements engine.MetricsRecorder.
func (m *Metrics) SetActiveTasks(n int) {
	if m.activeTasks == nil {
		return
	}
	m.activeTasks.Set(float64(n))
}

// SetQueuedTasks implements engine.MetricsRecorder.
func (m *Metrics) SetQueuedTasks(n int) {
	if m.queuedTasks == nil {
		return
	}
	m.queuedTasks.Set(float64(n))
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

var _ engine.MetricsRecorder = (*Metrics)(nil)
