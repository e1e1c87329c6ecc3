package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, and metrics.
// Event publishing for audit and notification consumers lives in pkg/eventbus, not here.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithPlanContext creates a context enriched with plan-specific telemetry.
func WithPlanContext(ctx context.Context, planID, requestedBy string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPlanSpan(ctx, planID)

	logger := tel.Logger.WithPlanID(planID).WithField("requested_by", requestedBy)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordPlanStarted("sequential")

	spanCtx = context.WithValue(spanCtx, planSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, planTimerKey{}, NewTimer())

	return spanCtx
}

// planSpanKey is the context key for plan spans.
type planSpanKey struct{}

// planTimerKey is the context key for plan timers.
type planTimerKey struct{}

// EndPlanContext completes the plan context, recording metrics.
func EndPlanContext(ctx context.Context, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(planSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(planTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordPlanCompleted(status, duration)
}

// WithActionContext creates a context enriched with action-specific telemetry.
func WithActionContext(ctx context.Context, planID, actionID, module, action string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartActionSpan(ctx, planID, actionID, module, action)

	logger := tel.Logger.
		WithPlanID(planID).
		WithActionID(actionID).
		WithModule(module).
		WithField("action", action)
	spanCtx = logger.WithContext(spanCtx)

	spanCtx = context.WithValue(spanCtx, actionSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, actionTimerKey{}, NewTimer())

	return spanCtx
}

// actionSpanKey is the context key for action spans.
type actionSpanKey struct{}

// actionTimerKey is the context key for action timers.
type actionTimerKey struct{}

// EndActionContext completes the action context, recording metrics.
func EndActionContext(ctx context.Context, module, action, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(actionSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(actionTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordActionDispatch(module, action, status, duration)
}

// WithProviderContext creates a context enriched with provider-specific telemetry.
func WithProviderContext(ctx context.Context, providerName, providerVersion string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	logger := tel.Logger.WithProvider(providerName, providerVersion)
	return logger.WithContext(ctx)
}

// RecordProviderOperation records a provider operation with metrics and tracing.
func RecordProviderOperation(ctx context.Context, providerName, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartProviderSpan(ctx, providerName, operation)
		defer span.End()
	}

	timer := NewTimer()

	err := fn()

	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordProviderCall(providerName, operation, duration)
		if err != nil {
			tel.Metrics.RecordProviderError(providerName, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
