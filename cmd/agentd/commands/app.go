package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/group"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/promptgen"
	"github.com/agentforge/agentd/pkg/providers/hostexec"
	"github.com/agentforge/agentd/pkg/recorder"
	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/resource"
	"github.com/agentforge/agentd/pkg/scheduler"
	"github.com/agentforge/agentd/pkg/security"
	"github.com/agentforge/agentd/pkg/store"
	"github.com/agentforge/agentd/pkg/telemetry"
	"github.com/agentforge/agentd/pkg/trigger"
)

// App is the daemon's composition root: every package built across
// C1-C11 wired into one set of long-lived collaborators, built once per
// CLI invocation from the persistent flags and torn down with Close.
//
// This mirrors cmd/froyo's pattern of keeping dependency construction out
// of individual commands, generalized from the teacher's (largely
// unwired) per-command TODO stubs into a real, shared composition root,
// since this repository's packages are complete enough to actually wire
// end to end.
type App struct {
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
	Store     store.Store
	Bus       *eventbus.Bus
	Registry  *registry.Registry
	Limiter   *resource.Limiter
	Pipeline  *security.Pipeline
	Scheduler *scheduler.Executor
	Group     *group.Executor
	Triggers  *trigger.Daemon
	Recorder  *recorder.Recorder
	Replayer  *recorder.Replayer
	Prompts   *promptgen.Generator
	Schemas   *plan.SchemaRegistry
	Migration *plan.MigrationRegistry

	Profile *security.Profile
}

// buildApp wires every collaborator from the process-wide flags. Callers
// must call app.Close() before the process exits.
func buildApp(ctx context.Context) (*App, error) {
	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = logLevelFlag
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	if jsonOutput {
		telCfg.Logging.Format = "json"
	}

	logger, err := telemetry.NewLogger(telCfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telCfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(telCfg.Tracing, telCfg.ServiceName, telCfg.ServiceVersion, telCfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracer: %w", err)
	}

	st, err := store.NewSQLiteStore(store.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	var logSink eventbus.Sink = eventbus.NullSink{}
	if eventLogPath != "" {
		fileSink, err := eventbus.NewFileSink(eventLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		logSink = fileSink
	}

	reg := registry.NewRegistry(nil)
	reg.RegisterInstance("host", hostexec.New(hostexec.Config{RunnerPath: microRunnerPath}))
	prompts := promptgen.New(reg)

	// The prompt generator rides the bus as an ordinary Sink member so its
	// schema cache invalidates on provider (de)registration without the
	// registry needing to know promptgen exists.
	sink := eventbus.NewFanOutSink([]eventbus.FanOutConfig{
		{Name: "log", Sink: logSink, Capacity: 256},
		{Name: "promptgen", Sink: prompts, Capacity: 64},
	}, zerolog.Nop())
	bus := eventbus.New(sink, zerolog.Nop())
	reg.SetBus(bus)

	limiter := resource.NewLimiter(defaultConcurrency, nil)

	var profile *security.Profile
	if profilePath != "" {
		profile, err = security.LoadProfile(profilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load permission profile: %w", err)
		}
	}

	rateLimiter := security.NewRateLimiter(time.Minute, 60)
	rateLimiter.Configure(actionLimitsFromManifests(reg.ListManifests(ctx)))

	pipeline := security.NewPipeline(security.PipelineConfig{
		ProfileGuard: security.NewProfileGuard(profile),
		Permissions:  security.NewPermissionManager(st),
		RateLimiter:  rateLimiter,
		Scanners:     security.NewScannerPipeline(),
		Sanitizer:    security.NewOutputSanitizer(0, 0, 0),
		Audit:        security.NewAuditLogger(bus, st, "cli"),
		Metrics:      metrics,
	})

	sched := scheduler.NewExecutor(scheduler.Dependencies{
		Registry:          reg,
		Pipeline:          pipeline,
		Limiter:           limiter,
		Store:             st,
		Bus:               bus,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            tracer,
		PermissionProfile: permissionProfileName(profile),
	})

	groupExec := group.New(sched, logger)
	triggers := trigger.NewDaemon(st, sched, bus, logger, metrics)
	rec := recorder.New(st)
	replayer := recorder.NewReplayer(st)

	schemas := plan.NewSchemaRegistry()
	migrations := plan.NewMigrationRegistry()

	return &App{
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		Store:     st,
		Bus:       bus,
		Registry:  reg,
		Limiter:   limiter,
		Pipeline:  pipeline,
		Scheduler: sched,
		Group:     groupExec,
		Triggers:  triggers,
		Recorder:  rec,
		Replayer:  replayer,
		Prompts:   prompts,
		Schemas:   schemas,
		Migration: migrations,
		Profile:   profile,
	}, nil
}

// actionLimitsFromManifests bridges every provider's declared per-action
// RateLimitHint into the guard pipeline's rate limiter, so a provider's
// advertised calls_per_minute actually throttles dispatch instead of only
// decorating the generated system prompt (see pkg/promptgen).
func actionLimitsFromManifests(manifests []registry.ProviderManifest) []security.ActionLimit {
	var limits []security.ActionLimit
	for _, m := range manifests {
		for _, a := range m.Actions {
			if a.RateLimitHint == nil || a.RateLimitHint.MaxRequests <= 0 {
				continue
			}
			window, err := time.ParseDuration(a.RateLimitHint.Window)
			if err != nil || window <= 0 {
				window = time.Minute
			}
			limits = append(limits, security.ActionLimit{
				Module:      m.ModuleID,
				Action:      a.Name,
				Window:      window,
				MaxRequests: a.RateLimitHint.MaxRequests,
			})
		}
	}
	return limits
}

func permissionProfileName(p *security.Profile) string {
	if p == nil {
		return ""
	}
	return p.Name
}

// Close releases every collaborator holding an OS resource.
func (a *App) Close() error {
	var firstErr error
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Tracer != nil {
		if err := a.Tracer.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
