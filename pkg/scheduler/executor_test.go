package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/resource"
)

func echoManifest(name string) registry.ProviderManifest {
	return registry.ProviderManifest{
		ModuleID: name,
		Version:  "1.0.0",
		Actions:  []registry.ActionManifest{{Name: "run"}},
	}
}

// newTestExecutor wires a registry with a handful of native test
// providers (echo, flaky, slow, boom) behind a real Limiter, mirroring
// the group package's test helpers.
func newTestExecutor(t *testing.T) (*Executor, *int32) {
	t.Helper()
	reg := registry.NewRegistry(nil)

	reg.RegisterInstance("echo", registry.NewNativeProvider(echoManifest("echo"), "").
		HandleFunc("run", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			return params, nil
		}))

	reg.RegisterInstance("boom", registry.NewNativeProvider(echoManifest("boom"), "").
		HandleFunc("run", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			return nil, plan.NewPermanentError(plan.CodeProviderError, "boom failed", nil)
		}))

	reg.RegisterInstance("slow", registry.NewNativeProvider(echoManifest("slow"), "").
		HandleFunc("run", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	var attempts int32
	reg.RegisterInstance("flaky", registry.NewNativeProvider(echoManifest("flaky"), "").
		HandleFunc("run", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return nil, plan.NewTransientError(plan.CodeProviderError, "transient failure", nil)
			}
			return "recovered", nil
		}))

	return NewExecutor(Dependencies{Registry: reg, Limiter: resource.NewLimiter(4, nil)}), &attempts
}

func withFastRetry(p *plan.RetryPolicy) *plan.RetryPolicy {
	p.BackoffInitialS = 0.01
	p.MaxBackoffS = 0.02
	return p
}

func TestExecutor_LinearChain(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "linear",
		ProtocolVersion: plan.CurrentProtocolVersion,
		ExecutionMode:   plan.ExecutionModeSequential,
		Actions: []plan.Action{
			{ID: "a1", Module: "echo", Action: "run", Params: map[string]interface{}{"v": 1}},
			{ID: "a2", Module: "echo", Action: "run", DependsOn: []string{"a1"}},
			{ID: "a3", Module: "echo", Action: "run", DependsOn: []string{"a2"}},
		},
	}

	es, err := x.Execute(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if es.PlanStatus != plan.PlanStatusCompleted {
		t.Fatalf("expected completed, got %s", es.PlanStatus)
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if es.Actions[id].Status != plan.ActionStatusSucceeded {
			t.Errorf("expected %s succeeded, got %s", id, es.Actions[id].Status)
		}
	}
}

func TestExecutor_WaveParallelism(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "waves",
		ProtocolVersion: plan.CurrentProtocolVersion,
		ExecutionMode:   plan.ExecutionModeParallel,
		Actions: []plan.Action{
			{ID: "a1", Module: "slow", Action: "run"},
			{ID: "a2", Module: "slow", Action: "run"},
			{ID: "a3", Module: "echo", Action: "run", DependsOn: []string{"a1", "a2"}},
		},
	}

	start := time.Now()
	es, err := x.Execute(context.Background(), p, ScheduleOptions{})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if es.PlanStatus != plan.PlanStatusCompleted {
		t.Fatalf("expected completed, got %s", es.PlanStatus)
	}
	// a1 and a2 both sleep 200ms; run concurrently they should finish in
	// roughly one sleep, not two.
	if elapsed > 350*time.Millisecond {
		t.Errorf("wave did not run concurrently: took %v", elapsed)
	}
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	x, attempts := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "retry",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "flaky", Action: "run", OnError: plan.OnErrorRetry,
				Retry: withFastRetry(&plan.RetryPolicy{MaxAttempts: 3, BackoffFactor: 2})},
		},
	}

	es, err := x.Execute(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if es.PlanStatus != plan.PlanStatusCompleted {
		t.Fatalf("expected completed, got %s", es.PlanStatus)
	}
	if es.Actions["a1"].Status != plan.ActionStatusSucceeded {
		t.Fatalf("expected a1 succeeded, got %s", es.Actions["a1"].Status)
	}
	if got := atomic.LoadInt32(attempts); got != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", got)
	}
}

func TestExecutor_RollbackOnFailure(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "rollback",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "echo", Action: "run"},
			{ID: "a2", Module: "boom", Action: "run", DependsOn: []string{"a1"}, OnError: plan.OnErrorRollback,
				Rollback: &plan.RollbackSpec{Action: "a1"}},
		},
	}

	es, err := x.Execute(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if es.Actions["a2"].Status != plan.ActionStatusFailed {
		t.Fatalf("expected a2 failed, got %s", es.Actions["a2"].Status)
	}
	rb, ok := es.Actions["a2_rollback"]
	if !ok {
		t.Fatal("expected a rollback action to have been dispatched")
	}
	if rb.Status != plan.ActionStatusSucceeded {
		t.Errorf("expected rollback action succeeded, got %s", rb.Status)
	}
	if es.PlanStatus != plan.PlanStatusFailed {
		t.Errorf("expected plan status failed (on_error=rollback is not continue), got %s", es.PlanStatus)
	}
}

func TestExecutor_TimeoutEnforced(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "timeout",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "slow", Action: "run", TimeoutS: 0.02},
		},
	}

	es, err := x.Execute(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	as := es.Actions["a1"]
	if as.Status != plan.ActionStatusFailed {
		t.Fatalf("expected a1 failed on timeout, got %s", as.Status)
	}
	if as.ErrorRecord == nil || as.ErrorRecord.Code != plan.CodeTimeout {
		t.Errorf("expected error code %s, got %+v", plan.CodeTimeout, as.ErrorRecord)
	}
}

func TestExecutor_ApprovalGate(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "approval",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "echo", Action: "run", RequiresApproval: true},
		},
	}

	planID, err := x.Schedule(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		es, err := x.GetState(context.Background(), planID)
		if err != nil {
			t.Fatalf("get state failed: %v", err)
		}
		if es.Actions["a1"].Status == plan.ActionStatusAwaitingApproval {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for action to suspend for approval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := x.ResumeApproval(planID, "a1", ApprovalDecision{Outcome: ApprovalApprove}); err != nil {
		t.Fatalf("resume approval failed: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for {
		es, gerr := x.GetState(context.Background(), planID)
		if gerr != nil {
			t.Fatalf("get state failed: %v", gerr)
		}
		if es.PlanStatus.IsTerminal() {
			if es.PlanStatus != plan.PlanStatusCompleted {
				t.Fatalf("expected completed after approval, got %s", es.PlanStatus)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for plan to complete after approval")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExecutor_ApprovalRejected(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "approval-reject",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "echo", Action: "run", RequiresApproval: true},
		},
	}

	planID, err := x.Schedule(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		es, err := x.GetState(context.Background(), planID)
		if err != nil {
			t.Fatalf("get state failed: %v", err)
		}
		if es.Actions["a1"].Status == plan.ActionStatusAwaitingApproval {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for action to suspend for approval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := x.ResumeApproval(planID, "a1", ApprovalDecision{Outcome: ApprovalReject}); err != nil {
		t.Fatalf("resume approval failed: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for {
		es, gerr := x.GetState(context.Background(), planID)
		if gerr != nil {
			t.Fatalf("get state failed: %v", gerr)
		}
		if es.PlanStatus.IsTerminal() {
			if es.PlanStatus != plan.PlanStatusFailed {
				t.Fatalf("expected failed after rejection, got %s", es.PlanStatus)
			}
			if es.Actions["a1"].ErrorRecord == nil || es.Actions["a1"].ErrorRecord.Code != plan.CodeUserRejected {
				t.Errorf("expected user_rejected error, got %+v", es.Actions["a1"].ErrorRecord)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for plan to fail after rejection")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &plan.Plan{
		PlanID:          "cancel",
		ProtocolVersion: plan.CurrentProtocolVersion,
		ExecutionMode:   plan.ExecutionModeParallel,
		Actions: []plan.Action{
			{ID: "a1", Module: "slow", Action: "run"},
		},
	}

	planID, err := x.Schedule(context.Background(), p, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := x.Cancel(context.Background(), planID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		es, gerr := x.GetState(context.Background(), planID)
		if gerr != nil {
			t.Fatalf("get state failed: %v", gerr)
		}
		if es.PlanStatus == plan.PlanStatusCancelled {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for plan to be cancelled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestExecutor_ConcurrentPlansAreIndependent guards against state being
// shared across runState instances when many plans execute at once.
func TestExecutor_ConcurrentPlansAreIndependent(t *testing.T) {
	x, _ := newTestExecutor(t)
	var wg sync.WaitGroup
	results := make([]plan.PlanStatus, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &plan.Plan{
				PlanID:          fmt.Sprintf("concurrent-%d", i),
				ProtocolVersion: plan.CurrentProtocolVersion,
				Actions: []plan.Action{
					{ID: "a1", Module: "echo", Action: "run"},
				},
			}
			es, err := x.Execute(context.Background(), p, ScheduleOptions{})
			if err != nil {
				t.Errorf("execute failed: %v", err)
				return
			}
			results[i] = es.PlanStatus
		}()
	}
	wg.Wait()
	for i, status := range results {
		if status != plan.PlanStatusCompleted {
			t.Errorf("plan %d: expected completed, got %s", i, status)
		}
	}
}
