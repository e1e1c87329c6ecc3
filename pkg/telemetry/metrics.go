package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the daemon.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansStarted   *prometheus.CounterVec
	plansCompleted *prometheus.CounterVec
	planDuration   *prometheus.HistogramVec

	// Action metrics
	actionsDispatched *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	actionRetries     *prometheus.CounterVec
	rollbacksExecuted *prometheus.CounterVec

	// Security metrics
	rateLimitRejections *prometheus.CounterVec
	scanBlocks          *prometheus.CounterVec
	permissionDenials   *prometheus.CounterVec

	// Resource manager metrics
	resourceWaitDuration *prometheus.HistogramVec
	resourceInUse        *prometheus.GaugeVec

	// Event bus metrics
	eventsDropped *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Trigger metrics
	triggerFires     *prometheus.CounterVec
	conflictRejects  *prometheus.CounterVec

	// System metrics
	activePlans  prometheus.Gauge
	queuedWaves  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		plansStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "plans_started_total", Help: "Total number of plans started"},
			[]string{"execution_mode"},
		),
		plansCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "plans_completed_total", Help: "Total number of plans completed"},
			[]string{"status"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "plan_duration_seconds", Help: "Duration of plan execution in seconds", Buckets: buckets},
			[]string{"status"},
		),

		actionsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "actions_dispatched_total", Help: "Total number of actions dispatched"},
			[]string{"module", "action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "action_duration_seconds", Help: "Duration of action dispatch in seconds", Buckets: buckets},
			[]string{"module", "action"},
		),
		actionRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "action_retries_total", Help: "Total number of action retry attempts"},
			[]string{"module", "action"},
		),
		rollbacksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rollbacks_executed_total", Help: "Total number of rollback actions dispatched"},
			[]string{"module", "action"},
		),

		rateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejections_total", Help: "Total number of actions rejected by the rate limiter"},
			[]string{"module", "action"},
		),
		scanBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "scan_blocks_total", Help: "Total number of actions blocked by the scanner pipeline"},
			[]string{"scanner", "verdict"},
		),
		permissionDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "permission_denials_total", Help: "Total number of actions denied by the permission pipeline"},
			[]string{"stage", "module"},
		),

		resourceWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "resource_wait_duration_seconds", Help: "Time spent waiting on a per-module resource semaphore", Buckets: buckets},
			[]string{"module"},
		),
		resourceInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "resource_in_use", Help: "Current number of in-flight actions per module"},
			[]string{"module"},
		),

		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Total number of events dropped by a full sink queue"},
			[]string{"sink"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "provider_calls_total", Help: "Total number of provider calls"},
			[]string{"module", "action"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "provider_call_duration_seconds", Help: "Duration of provider calls in seconds", Buckets: buckets},
			[]string{"module", "action"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "provider_errors_total", Help: "Total number of provider errors"},
			[]string{"module", "action"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "errors_by_class_total", Help: "Total number of errors by error class"},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "errors_by_code_total", Help: "Total number of errors by error code"},
			[]string{"code"},
		),

		triggerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "trigger_fires_total", Help: "Total number of trigger fires dequeued by the priority fire scheduler"},
			[]string{"trigger_id"},
		),
		conflictRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "conflict_rejects_total", Help: "Total number of trigger fires rejected by the conflict resolver"},
			[]string{"resource", "policy"},
		),

		activePlans: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_plans", Help: "Current number of plans in flight"},
		),
		queuedWaves: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "queued_waves", Help: "Current number of waves awaiting dispatch across all in-flight plans"},
		),
	}

	registry.MustRegister(
		m.plansStarted, m.plansCompleted, m.planDuration,
		m.actionsDispatched, m.actionDuration, m.actionRetries, m.rollbacksExecuted,
		m.rateLimitRejections, m.scanBlocks, m.permissionDenials,
		m.resourceWaitDuration, m.resourceInUse,
		m.eventsDropped,
		m.providerCalls, m.providerDuration, m.providerErrors,
		m.errorsByClass, m.errorsByCode,
		m.triggerFires, m.conflictRejects,
		m.activePlans, m.queuedWaves,
	)

	return m, nil
}

// Plan metrics

// RecordPlanStarted increments the counter for started plans.
func (m *Metrics) RecordPlanStarted(executionMode string) {
	if m.plansStarted == nil {
		return
	}
	m.plansStarted.WithLabelValues(executionMode).Inc()
	m.activePlans.Inc()
}

// RecordPlanCompleted records a completed plan with its terminal status and duration.
func (m *Metrics) RecordPlanCompleted(status string, duration time.Duration) {
	if m.plansCompleted == nil {
		return
	}
	m.plansCompleted.WithLabelValues(status).Inc()
	m.planDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activePlans.Dec()
}

// Action metrics

// RecordActionDispatch records one dispatch attempt for an action.
func (m *Metrics) RecordActionDispatch(module, action, status string, duration time.Duration) {
	if m.actionsDispatched == nil {
		return
	}
	m.actionsDispatched.WithLabelValues(module, action, status).Inc()
	m.actionDuration.WithLabelValues(module, action).Observe(duration.Seconds())
}

// RecordActionRetry records a retry attempt for an action.
func (m *Metrics) RecordActionRetry(module, action string) {
	if m.actionRetries == nil {
		return
	}
	m.actionRetries.WithLabelValues(module, action).Inc()
}

// RecordRollback records a rollback action dispatch.
func (m *Metrics) RecordRollback(module, action string) {
	if m.rollbacksExecuted == nil {
		return
	}
	m.rollbacksExecuted.WithLabelValues(module, action).Inc()
}

// Security metrics

// RecordRateLimitRejection records a rate-limiter rejection.
func (m *Metrics) RecordRateLimitRejection(module, action string) {
	if m.rateLimitRejections == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(module, action).Inc()
}

// RecordScanBlock records a scanner pipeline rejection.
func (m *Metrics) RecordScanBlock(scanner, verdict string) {
	if m.scanBlocks == nil {
		return
	}
	m.scanBlocks.WithLabelValues(scanner, verdict).Inc()
}

// RecordPermissionDenial records a permission-stage denial.
func (m *Metrics) RecordPermissionDenial(stage, module string) {
	if m.permissionDenials == nil {
		return
	}
	m.permissionDenials.WithLabelValues(stage, module).Inc()
}

// Resource manager metrics

// ObserveResourceWait records time spent waiting on a module's semaphore.
func (m *Metrics) ObserveResourceWait(module string, wait time.Duration) {
	if m.resourceWaitDuration == nil {
		return
	}
	m.resourceWaitDuration.WithLabelValues(module).Observe(wait.Seconds())
}

// SetResourceInUse sets the current in-flight action count for a module.
func (m *Metrics) SetResourceInUse(module string, count float64) {
	if m.resourceInUse == nil {
		return
	}
	m.resourceInUse.WithLabelValues(module).Set(count)
}

// Event bus metrics

// RecordEventDropped records one dropped event for a named sink.
func (m *Metrics) RecordEventDropped(sink string) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(sink).Inc()
}

// Provider metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(module, action string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(module, action).Inc()
	m.providerDuration.WithLabelValues(module, action).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(module, action string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(module, action).Inc()
}

// Error metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Trigger metrics

// RecordTriggerFire records one fire dequeued by the priority fire scheduler.
func (m *Metrics) RecordTriggerFire(triggerID string) {
	if m.triggerFires == nil {
		return
	}
	m.triggerFires.WithLabelValues(triggerID).Inc()
}

// RecordConflictReject records a fire rejected by the conflict resolver.
func (m *Metrics) RecordConflictReject(resource, policy string) {
	if m.conflictRejects == nil {
		return
	}
	m.conflictRejects.WithLabelValues(resource, policy).Inc()
}

// System metrics

// SetActivePlans sets the current number of in-flight plans.
func (m *Metrics) SetActivePlans(count float64) {
	if m.activePlans == nil {
		return
	}
	m.activePlans.Set(count)
}

// SetQueuedWaves sets the current number of waves awaiting dispatch.
func (m *Metrics) SetQueuedWaves(count float64) {
	if m.queuedWaves == nil {
		return
	}
	m.queuedWaves.Set(count)
}

// Timer provides a convenient way to time operations.
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
