package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentforge/agentd/pkg/plan"
)

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("engine is nil")
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no built-in policies loaded")
	}

	expectedPolicies := []string{
		"dangerous-action",
		"sensitive-param",
		"production-approval",
		"destructive-batch",
		"module-allowlist",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateAction_DangerousAction(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		action          *plan.Action
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "dangerous action with approval",
			action: &plan.Action{
				ID:               "a1",
				Module:           "fs",
				Action:           "delete_file",
				RequiresApproval: true,
			},
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "dangerous action without approval",
			action: &plan.Action{
				ID:     "a2",
				Module: "fs",
				Action: "delete_file",
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "ordinary action",
			action: &plan.Action{
				ID:     "a3",
				Module: "fs",
				Action: "read_file",
			},
			expectAllowed:   true,
			expectViolation: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateAction(context.Background(), tt.action, nil)
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v. violations: %+v", tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("expected violation=%v, got %v violations: %+v", tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateAction_SensitiveParam(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		action          *plan.Action
		expectViolation bool
	}{
		{
			name: "password param flagged sensitive",
			action: &plan.Action{
				ID:        "a1",
				Module:    "net",
				Action:    "authenticate",
				Params:    map[string]interface{}{"password": "secret"},
				Sensitive: true,
			},
			expectViolation: false,
		},
		{
			name: "password param not flagged sensitive",
			action: &plan.Action{
				ID:     "a2",
				Module: "net",
				Action: "authenticate",
				Params: map[string]interface{}{"password": "secret"},
			},
			expectViolation: true,
		},
		{
			name: "no sensitive-shaped params",
			action: &plan.Action{
				ID:     "a3",
				Module: "net",
				Action: "ping",
				Params: map[string]interface{}{"host": "example.com"},
			},
			expectViolation: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateAction(context.Background(), tt.action, nil)
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("expected violation=%v, got %v violations: %+v", tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateAction_ProductionApproval(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	action := &plan.Action{
		ID:     "a1",
		Module: "fs",
		Action: "write_file",
	}

	pctx := &PolicyContext{
		Operation: "scan",
		Metadata:  map[string]interface{}{"environment": "production"},
	}

	result, err := eng.EvaluateAction(context.Background(), action, pctx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected production action without approval to be denied")
	}

	action.RequiresApproval = true
	result, err = eng.EvaluateAction(context.Background(), action, pctx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("expected production action with approval to be allowed, violations: %+v", result.Violations)
	}
}

func TestEvaluatePlan_DestructiveBatch(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	actions := make([]plan.Action, 0, 6)
	for i := 0; i < 6; i++ {
		actions = append(actions, plan.Action{
			ID:     "a" + string(rune('0'+i)),
			Module: "fs",
			Action: "delete_file",
		})
	}

	p := &plan.Plan{
		PlanID:          "plan-1",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions:         actions,
	}

	result, err := eng.EvaluatePlan(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if result == nil {
		t.Fatal("result is nil")
	}

	foundBatchWarning := false
	for _, v := range result.Violations {
		if v.Policy == "destructive-batch" {
			foundBatchWarning = true
		}
	}
	if !foundBatchWarning {
		t.Errorf("expected a destructive-batch warning, violations: %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	policyName := "dangerous-action"

	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}

	p, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if p.Enabled {
		t.Error("policy should be disabled")
	}

	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file"}
	result, err := eng.EvaluateAction(context.Background(), action, nil)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("disabled policy should not generate violations")
		}
	}

	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("failed to enable policy: %v", err)
	}

	p, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if !p.Enabled {
		t.Error("policy should be enabled")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())

	if initialCount != afterReloadCount {
		t.Errorf("expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("no policies returned")
	}

	for _, p := range policies {
		if p.Name == "" {
			t.Error("policy has empty name")
		}
		if p.Rego == "" {
			t.Error("policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("policy has zero CreatedAt")
		}
	}
}

func TestEvaluateAction_ModuleAllowlist(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	action := &plan.Action{ID: "a1", Module: "db", Action: "query"}
	pctx := &PolicyContext{
		Operation: "scan",
		Metadata:  map[string]interface{}{"allowed_modules": []interface{}{"fs", "net"}},
	}

	result, err := eng.EvaluateAction(context.Background(), action, pctx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected module outside allowlist to be denied")
	}
}
