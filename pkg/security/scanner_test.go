package security

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/policy"
)

func TestOPAScanner_BlocksDangerousAction(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := policy.NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	scanner := NewOPAScanner(eng)
	if scanner.Name() != "opa" {
		t.Errorf("expected name 'opa', got %q", scanner.Name())
	}

	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file"}
	result, err := scanner.ScanAction(context.Background(), action, ScanContext{Operation: "scan"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictReject {
		t.Errorf("expected dangerous action without approval to be rejected, got %q", result.Verdict)
	}
}

func TestOPAScanner_AllowsApprovedAction(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := policy.NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	scanner := NewOPAScanner(eng)
	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file", RequiresApproval: true}
	result, err := scanner.ScanAction(context.Background(), action, ScanContext{Operation: "scan"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictAllow {
		t.Errorf("expected approved dangerous action to be allowed, got %q", result.Verdict)
	}
}

func TestScannerPipeline_ShortCircuits(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := policy.NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	pipeline := NewScannerPipeline(NewOPAScanner(eng))
	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file"}

	d, scannerName, err := pipeline.Scan(context.Background(), action, ScanContext{Operation: "scan"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if d.Allowed {
		t.Error("expected pipeline to reject")
	}
	if scannerName != "opa" {
		t.Errorf("expected rejecting scanner name 'opa', got %q", scannerName)
	}
}
