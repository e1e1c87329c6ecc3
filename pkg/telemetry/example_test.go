package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/agentforge/agentd/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "agentd"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("daemon started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("scheduler")

	logger = logger.WithFields(map[string]interface{}{
		"plan_id":   "plan-123",
		"action_id": "a1",
	})

	logger.Debug("dispatching wave")
	logger.Info("action dispatched")
	logger.Warn("action retrying after transient error")

	err := fmt.Errorf("provider timeout")
	logger.WithError(err).Error("action dispatch failed")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "execute_plan")
	defer span.End()

	span.SetAttributes(
		attribute.String("plan.id", "plan-789"),
		attribute.Int("plan.actions", 5),
	)

	span.AddEvent("validation.complete")

	ctx, childSpan := tel.Tracer.Start(ctx, "dispatch_action")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("action.id", "a1"),
		attribute.String("module", "fs"),
	)

	time.Sleep(10 * time.Millisecond)

	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordPlanStarted("sequential")

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordPlanCompleted("succeeded", duration)

	tel.Metrics.RecordActionDispatch("fs", "write_file", "succeeded", 25*time.Millisecond)

	tel.Metrics.RecordProviderCall("fs", "write_file", 15*time.Millisecond)

	tel.Metrics.RecordError("transient", "TIMEOUT")

	tel.Metrics.SetResourceInUse("fs", 2)

	fmt.Println("metrics recorded successfully")
	// Output: metrics recorded successfully
}

// Example_planInstrumentation demonstrates instrumenting a complete plan execution.
func Example_planInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	planID := "plan-123"
	ctx = telemetry.WithPlanContext(ctx, planID, "admin@example.com")

	executePlan(ctx, planID)

	telemetry.EndPlanContext(ctx, "succeeded", nil)

	fmt.Println("plan instrumentation complete")
	// Output: plan instrumentation complete
}

func executePlan(ctx context.Context, planID string) {
	actionID := "a1"
	module := "fs"
	action := "write_file"

	ctx = telemetry.WithActionContext(ctx, planID, actionID, module, action)

	logger := telemetry.FromContext(ctx)
	logger.Info("dispatching action")

	time.Sleep(10 * time.Millisecond)

	telemetry.EndActionContext(ctx, module, action, "succeeded", nil)
}

// Example_providerInstrumentation demonstrates instrumenting provider calls.
func Example_providerInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx = telemetry.WithProviderContext(ctx, "fs", "1.0.0")

	err := telemetry.RecordProviderOperation(ctx, "fs", "write_file", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("provider operation completed successfully")
	}

	// Output: provider operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "validate_plan",
		attribute.String("plan.id", "plan-123"),
	)
	defer ic.End(nil)

	ic.Logger.Info("validating plan")

	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("plan validation complete")

	fmt.Println("operation instrumentation complete")
	// Output: operation instrumentation complete
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	cfg.ServiceName = "agentd"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false

	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "agentd"

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("production configuration validated")
	// Output: production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "risky_operation")
	defer span.End()

	err := fmt.Errorf("connection timeout")

	if err != nil {
		telemetry.RecordError(span, err)

		tel.Metrics.RecordError("transient", "TIMEOUT")

		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("operation failed")
	}

	fmt.Println("error recording complete")
	// Output: error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	schedulerLogger := tel.Logger.NewComponentLogger("scheduler")
	securityLogger := tel.Logger.NewComponentLogger("security")
	registryLogger := tel.Logger.NewComponentLogger("registry")

	schedulerLogger.Info("scheduler initialized")
	securityLogger.Info("permission profile loaded")
	registryLogger.Info("loading provider manifests")

	fmt.Println("multi-component logging complete")
	// Output: multi-component logging complete
}
