package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/resource"
	"github.com/agentforge/agentd/pkg/scheduler"
	"github.com/agentforge/agentd/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	return s
}

func newTestScheduler() *scheduler.Executor {
	reg := registry.NewRegistry(nil)
	reg.RegisterInstance("noop", registry.NewNativeProvider(
		registry.ProviderManifest{ModuleID: "noop", Actions: []registry.ActionManifest{{Name: "run"}}}, "").
		HandleFunc("run", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	return scheduler.NewExecutor(scheduler.Dependencies{Registry: reg, Limiter: resource.NewLimiter(4, nil)})
}

func onceDefinition(id string, priority int, lock string, policy ConflictPolicy) *Definition {
	return &Definition{
		TriggerID:      id,
		Name:           id,
		Priority:       priority,
		ResourceLock:   lock,
		ConflictPolicy: policy,
		Condition:      Condition{Kind: ConditionOnce, At: time.Now().Add(10 * time.Millisecond)},
		PlanTemplate: map[string]interface{}{
			"actions": []interface{}{
				map[string]interface{}{"id": "a1", "module": "noop", "action": "run"},
			},
		},
	}
}

func TestDaemon_RegisterActivateRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	d := NewDaemon(st, newTestScheduler(), nil, nil, nil)

	def := onceDefinition("t1", 1, "", ConflictQueue)
	ctx := context.Background()
	if err := d.Register(ctx, def); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	rec, err := st.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("expected trigger to be persisted: %v", err)
	}
	if rec.Enabled {
		t.Error("expected newly registered trigger to be inactive")
	}

	if err := d.Activate(ctx, def); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	rec, err = st.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to reload trigger: %v", err)
	}
	if !rec.Enabled {
		t.Error("expected activated trigger to be enabled")
	}

	if err := d.Deactivate(ctx, "t1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
}

func TestDaemon_PreemptCancelsCurrentHolder(t *testing.T) {
	st := setupTestStore(t)
	sched := newTestScheduler()
	d := NewDaemon(st, sched, nil, nil, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(runCtx)

	low := onceDefinition("low", 1, "gpu", ConflictPreempt)
	d.dispatchFire(runCtx, low, Event{EventType: "once", FiredAt: time.Now()})

	// Give the low-priority plan a moment to start and acquire the lock.
	time.Sleep(50 * time.Millisecond)
	holder, ok := d.conflicts.HolderOf("gpu")
	if !ok {
		t.Fatal("expected gpu to be held by the low-priority trigger's plan")
	}

	high := onceDefinition("high", 10, "gpu", ConflictPreempt)
	d.dispatchFire(runCtx, high, Event{EventType: "once", FiredAt: time.Now()})

	time.Sleep(50 * time.Millisecond)
	newHolder, ok := d.conflicts.HolderOf("gpu")
	if !ok {
		t.Fatal("expected gpu to still be held after preemption")
	}
	if newHolder == holder {
		t.Error("expected the high-priority trigger's plan to now hold gpu")
	}
}
