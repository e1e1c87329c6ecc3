package security

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/policy"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	eng, err := policy.NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	profile := &Profile{
		Name:           "default",
		DefaultPolicy:  "allow",
		AllowedModules: []string{"fs", "net"},
	}

	return NewPipeline(PipelineConfig{
		ProfileGuard: NewProfileGuard(profile),
		Permissions:  NewPermissionManager(nil),
		RateLimiter:  NewRateLimiter(time.Minute, 100),
		Scanners:     NewScannerPipeline(NewOPAScanner(eng)),
		Sanitizer:    NewOutputSanitizer(10, 1000, 1000),
		Audit:        NewAuditLogger(eventbus.New(eventbus.NullSink{}, testLogger()), nil, "test"),
	})
}

func TestPipeline_RejectsOutOfProfileModule(t *testing.T) {
	p := newTestPipeline(t)
	action := &plan.Action{ID: "a1", Module: "iot", Action: "flash_firmware"}

	d, err := p.Evaluate(context.Background(), "plan1", action, "flash a device", ScanContext{Operation: "dispatch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected module outside allowed_modules to be rejected")
	}
	if d.Reject.Stage != "profile_guard" {
		t.Errorf("expected rejection at profile_guard stage, got %q", d.Reject.Stage)
	}
}

func TestPipeline_RejectsMissingPermission(t *testing.T) {
	p := newTestPipeline(t)
	action := &plan.Action{ID: "a1", Module: "fs", Action: "write_file", PermissionRequired: []string{"fs.write"}}

	d, err := p.Evaluate(context.Background(), "plan1", action, "write a file", ScanContext{Operation: "dispatch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected action requiring an ungranted permission to be rejected")
	}
	if d.Reject.Stage != "permission_manager" {
		t.Errorf("expected rejection at permission_manager stage, got %q", d.Reject.Stage)
	}
}

func TestPipeline_RejectsDangerousUnapprovedAction(t *testing.T) {
	p := newTestPipeline(t)
	action := &plan.Action{ID: "a1", Module: "fs", Action: "delete_file"}

	d, err := p.Evaluate(context.Background(), "plan1", action, "delete a file", ScanContext{Operation: "dispatch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected dangerous action without approval to be rejected by the scanner stage")
	}
	if d.Reject.Stage != "scanner:opa" {
		t.Errorf("expected rejection at opa scanner stage, got %q", d.Reject.Stage)
	}
}

func TestPipeline_AllowsCleanAction(t *testing.T) {
	p := newTestPipeline(t)
	action := &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}

	d, err := p.Evaluate(context.Background(), "plan1", action, "read a file", ScanContext{Operation: "dispatch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected clean action to be allowed, got rejection: %+v", d.Reject)
	}
}

func TestPipeline_SanitizePassesThroughWhenUnconfigured(t *testing.T) {
	p := NewPipeline(PipelineConfig{})
	result := map[string]interface{}{"key": "value"}
	out := p.Sanitize(result)
	m, ok := out.(map[string]interface{})
	if !ok || m["key"] != "value" {
		t.Errorf("expected unconfigured sanitizer to pass through unchanged, got %v", out)
	}
}

func TestPipeline_SanitizeAppliesBounds(t *testing.T) {
	p := newTestPipeline(t)
	long := "this is a very long string well beyond the configured bound"
	out := p.Sanitize(long).(string)
	if out == long {
		t.Error("expected configured sanitizer to truncate a long string")
	}
}
