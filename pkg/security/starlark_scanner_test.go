package security

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

func TestStarlarkScanner_Allow(t *testing.T) {
	script := `allow = True`
	s := NewStarlarkScanner("always-allow", script, time.Second)

	result, err := s.ScanAction(context.Background(), &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}, ScanContext{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictAllow {
		t.Errorf("expected script to allow, got %q", result.Verdict)
	}
}

func TestStarlarkScanner_DenyWithReason(t *testing.T) {
	script := `
allow = action["module"] != "fs"
reason = "fs module is blocked by custom policy"
`
	s := NewStarlarkScanner("block-fs", script, time.Second)

	result, err := s.ScanAction(context.Background(), &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}, ScanContext{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictReject {
		t.Errorf("expected script to deny fs module, got %q", result.Verdict)
	}
	if len(result.Threats) == 0 || result.Threats[0] != "fs module is blocked by custom policy" {
		t.Errorf("unexpected threats: %v", result.Threats)
	}
}

func TestStarlarkScanner_VerdictAndRiskScore(t *testing.T) {
	script := `
verdict = "warn"
risk_score = 0.6
threats = ["unusual destination"]
`
	s := NewStarlarkScanner("risk-scorer", script, time.Second)

	result, err := s.ScanAction(context.Background(), &plan.Action{ID: "a1", Module: "net", Action: "http_post"}, ScanContext{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictWarn {
		t.Errorf("expected warn verdict, got %q", result.Verdict)
	}
	if result.RiskScore != 0.6 {
		t.Errorf("expected risk score 0.6, got %v", result.RiskScore)
	}
	if len(result.Threats) != 1 || result.Threats[0] != "unusual destination" {
		t.Errorf("unexpected threats: %v", result.Threats)
	}
}

func TestStarlarkScanner_ParamsVisible(t *testing.T) {
	script := `allow = params["force"] != True`
	s := NewStarlarkScanner("no-force", script, time.Second)

	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file", Params: map[string]interface{}{"force": true}}
	result, err := s.ScanAction(context.Background(), action, ScanContext{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Verdict != ScanVerdictReject {
		t.Errorf("expected force=true to be denied, got %q", result.Verdict)
	}
}

func TestStarlarkScanner_MissingAllowFailsClosed(t *testing.T) {
	script := `x = 1`
	s := NewStarlarkScanner("broken", script, time.Second)

	_, err := s.ScanAction(context.Background(), &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}, ScanContext{})
	if err == nil {
		t.Error("expected error when script does not set `allow` or `verdict`")
	}
}

func TestStarlarkScanner_Timeout(t *testing.T) {
	script := `
x = 0
for i in range(100000000):
    x = x + 1
allow = True
`
	s := NewStarlarkScanner("slow", script, 10*time.Millisecond)

	result, err := s.ScanAction(context.Background(), &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}, ScanContext{})
	if err != nil {
		t.Fatalf("expected timeout to fail closed without error, got: %v", err)
	}
	if result.Verdict != ScanVerdictReject {
		t.Errorf("expected timed-out scan to fail closed (reject), got %q", result.Verdict)
	}
}
