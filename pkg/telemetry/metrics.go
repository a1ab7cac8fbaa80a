package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for setup runs.
// A nil *Metrics and a disabled one are both valid no-op collectors.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpRetries  *prometheus.CounterVec

	// Credential negotiation metrics
	authProbes *prometheus.CounterVec

	// Polling metrics
	pollAttempts *prometheus.CounterVec

	errorsByKind *prometheus.CounterVec

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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of setup runs started",
			},
			[]string{"dry_run"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of setup runs finished, by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of setup runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of step executions, by level and resulting status",
			},
			[]string{"level", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step executions in seconds",
				Buckets:   buckets,
			},
			[]string{"level"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP attempts, by method and status code",
			},
			[]string{"method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		httpRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_retries_total",
				Help:      "Total number of HTTP retries, by triggering status code",
			},
			[]string{"code"},
		),

		authProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_probes_total",
				Help:      "Total number of credential probes, by format and verdict",
			},
			[]string{"format", "verdict"},
		),

		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Total number of readiness checks, by operation and result",
			},
			[]string{"operation", "result"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.httpRequests,
		m.httpDuration,
		m.httpRetries,
		m.authProbes,
		m.pollAttempts,
		m.errorsByKind,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(dryRun bool) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(strconv.FormatBool(dryRun)).Inc()
}

// RecordRunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStepExecution records one step execution.
func (m *Metrics) RecordStepExecution(level, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepsExecuted.WithLabelValues(level, status).Inc()
	m.stepDuration.WithLabelValues(level).Observe(duration.Seconds())
}

// RecordHTTPRequest records one HTTP attempt. A status of zero means the
// request never got a response.
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRetry records a retry triggered by status.
func (m *Metrics) RecordHTTPRetry(status int) {
	if !m.enabled() {
		return
	}
	m.httpRetries.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordAuthProbe records a credential probe verdict for a format.
func (m *Metrics) RecordAuthProbe(format string, confirmed bool) {
	if !m.enabled() {
		return
	}
	verdict := "rejected"
	if confirmed {
		verdict = "confirmed"
	}
	m.authProbes.WithLabelValues(format, verdict).Inc()
}

// RecordPollAttempt records one readiness check.
func (m *Metrics) RecordPollAttempt(operation string, ready bool) {
	if !m.enabled() {
		return
	}
	result := "pending"
	if ready {
		result = "ready"
	}
	m.pollAttempts.WithLabelValues(operation, result).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if !m.enabled() || kind == "" {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the current metrics to path in the Prometheus text
// format, for collection by a node exporter textfile collector.
// It is a no-op when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile(path string) error {
	if !m.enabled() {
		return nil
	}
	if path == "" {
		path = m.config.TextfilePath
	}
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
