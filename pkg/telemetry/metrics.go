package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the workflow engine.
type Metrics struct {
	config MetricsConfig

	// Completion metrics
	tasksCompleted *prometheus.CounterVec
	tasksSkipped   *prometheus.CounterVec
	tasksExpired   *prometheus.CounterVec

	// Contention metrics
	completionConflicts *prometheus.CounterVec
	saveRetries         prometheus.Counter

	// Dispatch metrics
	dispatchErrors *prometheus.CounterVec

	// Engine metrics
	completeDuration *prometheus.HistogramVec
	resolveDuration  prometheus.Histogram
	instanceResets   prometheus.Counter
	activeInstances  prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "pledgeflow"
	}
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total tasks completed, by role and kind.",
	}, []string{"role", "kind"})

	m.tasksSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_skipped_total",
		Help:      "Total tasks completed by skip during branch rewriting.",
	}, []string{"role"})

	m.tasksExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_expired_total",
		Help:      "Total tasks lapsed via the explicit expire transition.",
	}, []string{"kind"})

	m.completionConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completion_conflicts_total",
		Help:      "Completion attempts rejected as conflicts, by reason.",
	}, []string{"reason"})

	m.saveRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "save_retries_total",
		Help:      "Store save attempts retried after a stale-version conflict.",
	})

	m.dispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_errors_total",
		Help:      "External dispatch failures, by bridge.",
	}, []string{"bridge"})

	m.completeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "complete_task_duration_seconds",
		Help:      "Duration of CompleteTask including persistence.",
		Buckets:   buckets,
	}, []string{"kind"})

	m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Duration of a full dependency resolve pass.",
		Buckets:   buckets,
	})

	m.instanceResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_resets_total",
		Help:      "Total instance resets.",
	})

	m.activeInstances = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_instances",
		Help:      "Number of known workflow instances.",
	})

	m.errorsByClass = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_by_class_total",
		Help:      "Errors returned to callers, by classification.",
	}, []string{"class"})

	collectors := []prometheus.Collector{
		m.tasksCompleted, m.tasksSkipped, m.tasksExpired,
		m.completionConflicts, m.saveRetries, m.dispatchErrors,
		m.completeDuration, m.resolveDuration,
		m.instanceResets, m.activeInstances, m.errorsByClass,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// enabled reports whether this instance records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordTaskCompleted records a successful task completion.
func (m *Metrics) RecordTaskCompleted(role, kind string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.tasksCompleted.WithLabelValues(role, kind).Inc()
	m.completeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTaskSkipped records a completion-by-skip.
func (m *Metrics) RecordTaskSkipped(role string) {
	if !m.enabled() {
		return
	}
	m.tasksSkipped.WithLabelValues(role).Inc()
}

// RecordTaskExpired records an expire transition.
func (m *Metrics) RecordTaskExpired(kind string) {
	if !m.enabled() {
		return
	}
	m.tasksExpired.WithLabelValues(kind).Inc()
}

// RecordConflict records a rejected completion attempt.
func (m *Metrics) RecordConflict(reason string) {
	if !m.enabled() {
		return
	}
	m.completionConflicts.WithLabelValues(reason).Inc()
}

// RecordSaveRetry records a stale-version save retry.
func (m *Metrics) RecordSaveRetry() {
	if !m.enabled() {
		return
	}
	m.saveRetries.Inc()
}

// RecordDispatchError records a failed external dispatch.
func (m *Metrics) RecordDispatchError(bridge string) {
	if !m.enabled() {
		return
	}
	m.dispatchErrors.WithLabelValues(bridge).Inc()
}

// RecordResolve records the duration of a resolve pass.
func (m *Metrics) RecordResolve(duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.resolveDuration.Observe(duration.Seconds())
}

// RecordInstanceReset records an instance reset.
func (m *Metrics) RecordInstanceReset() {
	if !m.enabled() {
		return
	}
	m.instanceResets.Inc()
}

// SetActiveInstances sets the known-instance gauge.
func (m *Metrics) SetActiveInstances(n int) {
	if !m.enabled() {
		return
	}
	m.activeInstances.Set(float64(n))
}

// RecordError records an error returned to a caller.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics serving is best-effort; the engine keeps running.
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Timer measures elapsed time for metric observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
