package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentforge/agentd/pkg/plan"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
name: default
default_policy: deny
allowed_modules:
  - fs
  - net
overrides:
  - module: db
    policy: prompt
`)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	if p.Name != "default" {
		t.Errorf("expected name 'default', got %q", p.Name)
	}
	if len(p.AllowedModules) != 2 {
		t.Errorf("expected 2 allowed modules, got %d", len(p.AllowedModules))
	}
}

func TestLoadProfile_InvalidPolicy(t *testing.T) {
	path := writeProfile(t, `
name: bad
default_policy: maybe
`)

	if _, err := LoadProfile(path); err == nil {
		t.Error("expected validation error for invalid default_policy")
	}
}

func TestProfileGuard_NoProfileAllowsAll(t *testing.T) {
	g := NewProfileGuard(nil)
	d := g.Check(&plan.Action{Module: "fs", Action: "read_file"})
	if !d.Allowed {
		t.Error("expected nil profile to allow every module")
	}
}

func TestProfileGuard_DefaultDeny(t *testing.T) {
	g := NewProfileGuard(&Profile{Name: "test", DefaultPolicy: "deny"})
	d := g.Check(&plan.Action{Module: "fs", Action: "delete_file"})
	if d.Allowed {
		t.Error("expected default deny to reject")
	}
	if d.Reject.Code != plan.CodePermissionDenied {
		t.Errorf("expected code %s, got %s", plan.CodePermissionDenied, d.Reject.Code)
	}
}

func TestProfileGuard_AllowedModules(t *testing.T) {
	g := NewProfileGuard(&Profile{
		Name:           "test",
		DefaultPolicy:  "allow",
		AllowedModules: []string{"fs"},
	})

	if d := g.Check(&plan.Action{Module: "fs", Action: "read_file"}); !d.Allowed {
		t.Error("expected fs to be allowed")
	}
	if d := g.Check(&plan.Action{Module: "net", Action: "http_get"}); d.Allowed {
		t.Error("expected net to be rejected, not in allowed_modules")
	}
}

func TestProfileGuard_OverridePrompt(t *testing.T) {
	g := NewProfileGuard(&Profile{
		Name:          "test",
		DefaultPolicy: "allow",
		Overrides: []Override{
			{Module: "db", Policy: "prompt"},
		},
	})

	d := g.Check(&plan.Action{Module: "db", Action: "drop_table"})
	if d.Allowed {
		t.Error("expected prompt override without requires_approval to reject")
	}

	d = g.Check(&plan.Action{Module: "db", Action: "drop_table", RequiresApproval: true})
	if !d.Allowed {
		t.Error("expected prompt override with requires_approval to allow")
	}
}

func TestProfileGuard_ActionSpecificOverrideWinsOverModuleWide(t *testing.T) {
	g := NewProfileGuard(&Profile{
		Name:          "test",
		DefaultPolicy: "allow",
		Overrides: []Override{
			{Module: "db", Policy: "deny"},
			{Module: "db", Action: "read_table", Policy: "allow"},
		},
	})

	if d := g.Check(&plan.Action{Module: "db", Action: "read_table"}); !d.Allowed {
		t.Error("expected action-specific override to allow db.read_table")
	}
	if d := g.Check(&plan.Action{Module: "db", Action: "drop_table"}); d.Allowed {
		t.Error("expected module-wide override to still deny db.drop_table")
	}
}

func TestProfileGuard_StrictModeAndMaxScanRiskScore(t *testing.T) {
	g := NewProfileGuard(&Profile{Name: "test", DefaultPolicy: "allow", StrictMode: true, MaxScanRiskScore: 0.75})
	if !g.StrictMode() {
		t.Error("expected StrictMode() to reflect the profile's strict_mode")
	}
	if g.MaxScanRiskScore() != 0.75 {
		t.Errorf("expected max scan risk score 0.75, got %v", g.MaxScanRiskScore())
	}

	nilGuard := NewProfileGuard(nil)
	if nilGuard.StrictMode() {
		t.Error("expected nil profile to not be strict")
	}
	if nilGuard.MaxScanRiskScore() != 0 {
		t.Error("expected nil profile to have no risk score ceiling")
	}
}

func TestProfileGuard_SetProfile(t *testing.T) {
	g := NewProfileGuard(&Profile{Name: "a", DefaultPolicy: "allow"})
	g.SetProfile(&Profile{Name: "b", DefaultPolicy: "deny"})

	d := g.Check(&plan.Action{Module: "fs", Action: "read_file"})
	if d.Allowed {
		t.Error("expected swapped profile to be in effect")
	}
}
