package group

import (
	"context"
	"testing"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/resource"
	"github.com/agentforge/agentd/pkg/scheduler"
)

func echoManifest() registry.ProviderManifest {
	return registry.ProviderManifest{
		ModuleID: "echo",
		Version:  "1.0.0",
		Actions:  []registry.ActionManifest{{Name: "echo"}},
	}
}

func newTestExecutor() *scheduler.Executor {
	reg := registry.NewRegistry(nil)
	reg.RegisterInstance("echo", registry.NewNativeProvider(echoManifest(), "").
		HandleFunc("echo", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			return params, nil
		}))
	return scheduler.NewExecutor(scheduler.Dependencies{
		Registry: reg,
		Limiter:  resource.NewLimiter(4, nil),
	})
}

func onePlan(id string) *plan.Plan {
	return &plan.Plan{
		PlanID:          id,
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "echo", Action: "echo", Params: map[string]interface{}{"value": 1}},
		},
	}
}

func TestExecutor_Run_AllSucceed(t *testing.T) {
	ex := New(newTestExecutor(), nil)
	plans := []*plan.Plan{onePlan("p1"), onePlan("p2"), onePlan("p3")}

	result := ex.Run(context.Background(), plans, Options{GroupID: "g1", MaxConcurrent: 2})

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Summary.Total != 3 || result.Summary.Completed != 3 || result.Summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if len(result.PlanResults) != 3 {
		t.Fatalf("expected 3 plan results, got %d", len(result.PlanResults))
	}
}

func TestExecutor_Run_SummaryInvariant(t *testing.T) {
	ex := New(newTestExecutor(), nil)
	plans := []*plan.Plan{onePlan("p1"), onePlan("p2")}

	result := ex.Run(context.Background(), plans, Options{GroupID: "g2", MaxConcurrent: 1})

	total := len(result.PlanResults) + len(result.Errors)
	if result.Summary.Total != total {
		t.Errorf("summary.total %d != len(plan_results)+len(errors) %d", result.Summary.Total, total)
	}
	if result.Summary.Completed+result.Summary.Failed != result.Summary.Total {
		t.Errorf("completed+failed %d != total %d", result.Summary.Completed+result.Summary.Failed, result.Summary.Total)
	}
}

func TestExecutor_Run_EmptyGroup(t *testing.T) {
	ex := New(newTestExecutor(), nil)
	result := ex.Run(context.Background(), nil, Options{GroupID: "g3"})
	if result.Summary.Total != 0 {
		t.Errorf("expected empty summary, got %+v", result.Summary)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected completed for empty group, got %s", result.Status)
	}
}
