// Package telemetry provides observability instrumentation for the daemon.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring and debugging plan execution. Audit and notification events are
// published separately through pkg/eventbus, the single event bus used by the
// security pipeline, scheduler, and trigger subsystem.
//
// # Architecture
//
// The telemetry system is built on three pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "agentd"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("scheduler")
//	logger = logger.WithPlanID("plan-123").WithActionID("a1")
//	logger.Info("dispatching action")
//	logger.WithError(err).Error("dispatch failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into plan and action execution flow:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	span.SetAttributes(
//	    attribute.String("action.id", actionID),
//	    attribute.String("module", module),
//	)
//
//	span.AddEvent("validation.complete")
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	tel.Metrics.RecordPlanStarted("sequential")
//	tel.Metrics.RecordPlanCompleted("succeeded", duration)
//
//	tel.Metrics.RecordActionDispatch("fs", "write_file", "succeeded", duration)
//
//	tel.Metrics.RecordProviderCall("fs", "write_file", duration)
//
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ic := telemetry.StartOperation(ctx, "plan.validate",
//	    attribute.String("plan.id", planID))
//	defer ic.End(err)
//
//	ctx = telemetry.WithPlanContext(ctx, planID, requestedBy)
//	defer telemetry.EndPlanContext(ctx, status, err)
//
//	ctx = telemetry.WithActionContext(ctx, planID, actionID, module, action)
//	defer telemetry.EndActionContext(ctx, module, action, status, err)
//
//	err := telemetry.RecordProviderOperation(ctx, "fs", "write_file", func() error {
//	    return provider.Dispatch(ctx, action)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	cfg := telemetry.DevelopmentConfig() // verbose logging, stdout traces
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - agentd_plans_started_total{execution_mode}
//  - agentd_plans_completed_total{status}
//  - agentd_plan_duration_seconds{status}
//  - agentd_actions_dispatched_total{module,action,status}
//  - agentd_action_duration_seconds{module,action}
//  - agentd_rate_limit_rejections_total{module,action}
//  - agentd_scan_blocks_total{scanner,verdict}
//  - agentd_events_dropped_total{sink}
//  - agentd_errors_by_class_total{class}
//  - agentd_active_plans
//
// # Security Considerations
//
//  - Never log sensitive data (credentials, keys, tokens)
//  - Action parameters must pass the output sanitiser before being logged
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
package telemetry
