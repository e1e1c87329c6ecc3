package recorder

import (
	"context"
	"testing"

	"github.com/agentforge/agentd/pkg/plan"
)

func chainedPlan(id, prevResultRef string) *plan.Plan {
	actions := []plan.Action{
		{ID: "a1", Module: "echo", Action: "run", Params: map[string]interface{}{"v": 1}},
		{ID: "a2", Module: "echo", Action: "run", DependsOn: []string{"a1"},
			Params: map[string]interface{}{"prev": "${actions.a1.result}"}},
	}
	if prevResultRef != "" {
		actions[0].Params["carried"] = prevResultRef
	}
	return &plan.Plan{
		PlanID:          id,
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions:         actions,
	}
}

func TestReplayer_MergeTwoPlansSequentially(t *testing.T) {
	st := setupTestStore(t)
	r := New(st)
	ctx := context.Background()

	if err := r.Start(ctx, "rec1", "session"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := r.Capture(ctx, "rec1", Entry{PlanID: "p1", Plan: chainedPlan("p1", ""), FinalStatus: plan.PlanStatusCompleted, ActionCount: 2}); err != nil {
		t.Fatalf("capture p1 failed: %v", err)
	}
	if err := r.Capture(ctx, "rec1", Entry{PlanID: "p2", Plan: chainedPlan("p2", ""), FinalStatus: plan.PlanStatusCompleted, ActionCount: 2}); err != nil {
		t.Fatalf("capture p2 failed: %v", err)
	}
	if err := r.Stop(ctx, "rec1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	rp := NewReplayer(st)
	merged, err := rp.Merge(ctx, "rec1")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if merged.ExecutionMode != plan.ExecutionModeSequential {
		t.Errorf("expected sequential execution mode, got %s", merged.ExecutionMode)
	}
	if merged.Metadata["source"] != "shadow_recorder" {
		t.Errorf("expected source=shadow_recorder, got %v", merged.Metadata["source"])
	}
	if merged.Metadata["original_plan_count"] != 2 {
		t.Errorf("expected original_plan_count=2, got %v", merged.Metadata["original_plan_count"])
	}
	if len(merged.Actions) != 4 {
		t.Fatalf("expected 4 merged actions, got %d", len(merged.Actions))
	}

	byID := make(map[string]*plan.Action, len(merged.Actions))
	for i := range merged.Actions {
		byID[merged.Actions[i].ID] = &merged.Actions[i]
	}

	for _, id := range []string{"p1_a1", "p1_a2", "p2_a1", "p2_a2"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("expected merged plan to contain action %q", id)
		}
	}

	// p1_a1 had no original dependencies and is the first plan, so it
	// should have none after merge either.
	if len(byID["p1_a1"].DependsOn) != 0 {
		t.Errorf("expected p1_a1 to have no dependencies, got %v", byID["p1_a1"].DependsOn)
	}
	// p1_a2 depended on a1 within its own plan; that dependency is
	// remapped to the prefixed id.
	if got := byID["p1_a2"].DependsOn; len(got) != 1 || got[0] != "p1_a1" {
		t.Errorf("expected p1_a2 to depend on p1_a1, got %v", got)
	}
	// p2_a1 had no original dependencies, so it gets a synthetic
	// dependency on the last action of the preceding plan.
	if got := byID["p2_a1"].DependsOn; len(got) != 1 || got[0] != "p1_a2" {
		t.Errorf("expected p2_a1 to synthetically depend on p1_a2, got %v", got)
	}
	// p2_a2's template reference to a1's result must be remapped too.
	if got := byID["p2_a2"].Params["prev"]; got != "${actions.p2_a1.result}" {
		t.Errorf("expected remapped template reference, got %v", got)
	}
}

func TestReplayer_MergeEmptyRecordingFails(t *testing.T) {
	st := setupTestStore(t)
	r := New(st)
	ctx := context.Background()

	if err := r.Start(ctx, "rec-empty", "nothing captured"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := r.Stop(ctx, "rec-empty"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	rp := NewReplayer(st)
	if _, err := rp.Merge(ctx, "rec-empty"); err == nil {
		t.Fatal("expected merging an empty recording to fail")
	}
}
