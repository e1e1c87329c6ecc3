package security

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/agentforge/agentd/pkg/plan"
)

// Profile is a YAML permission profile: the set of modules an action may
// target, the default posture for ungranted permissions, and per-module
// or per-action overrides, per spec.md §6.3.
type Profile struct {
	Name             string     `yaml:"name" validate:"required"`
	DefaultPolicy    string     `yaml:"default_policy" validate:"required,oneof=allow deny prompt"`
	AllowedModules   []string   `yaml:"allowed_modules,omitempty"`
	Overrides        []Override `yaml:"overrides,omitempty" validate:"dive"`
	StrictMode       bool       `yaml:"strict_mode,omitempty"`
	MaxScanRiskScore float64    `yaml:"max_scan_risk_score,omitempty"`
}

// Override pins a policy for one module, or one (module, action) pair when
// Action is set, overriding DefaultPolicy. An action-specific override
// takes precedence over a module-wide one for the same module.
type Override struct {
	Module              string `yaml:"module" validate:"required"`
	Action              string `yaml:"action,omitempty"`
	Policy              string `yaml:"policy" validate:"required,oneof=allow deny prompt"`
	Reason              string `yaml:"reason,omitempty"`
	RequireApprovalOver string `yaml:"require_approval_over,omitempty" validate:"omitempty,oneof=low medium high critical"`
}

// override returns the most specific matching Override for (module, action):
// an exact action match wins over a module-wide entry (Action == "").
func (p *Profile) override(module, action string) (Override, bool) {
	var moduleWide *Override
	for i := range p.Overrides {
		o := &p.Overrides[i]
		if o.Module != module {
			continue
		}
		if o.Action == action {
			return *o, true
		}
		if o.Action == "" {
			moduleWide = o
		}
	}
	if moduleWide != nil {
		return *moduleWide, true
	}
	return Override{}, false
}

// LoadProfile reads and validates a permission profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	return &p, nil
}

// ProfileGuard is the first guard-pipeline stage: it rejects any action
// whose module is not in the active profile's allowed set, before the
// permission manager or scanner pipeline ever run.
type ProfileGuard struct {
	mu      sync.RWMutex
	profile *Profile
}

// NewProfileGuard creates a guard bound to profile. A nil profile allows
// every module (used when no profile file is configured).
func NewProfileGuard(profile *Profile) *ProfileGuard {
	return &ProfileGuard{profile: profile}
}

// SetProfile swaps the active profile, e.g. on a config reload.
func (g *ProfileGuard) SetProfile(profile *Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profile = profile
}

// StrictMode reports the active profile's strict_mode flag, consulted by
// ScannerPipeline.Scan to decide whether a warn verdict blocks dispatch.
// A nil profile is not strict.
func (g *ProfileGuard) StrictMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.profile == nil {
		return false
	}
	return g.profile.StrictMode
}

// MaxScanRiskScore reports the active profile's max_scan_risk_score, or 0
// (no ceiling) when unset or no profile is configured.
func (g *ProfileGuard) MaxScanRiskScore() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.profile == nil {
		return 0
	}
	return g.profile.MaxScanRiskScore
}

// Check evaluates action.Module against the active profile.
func (g *ProfileGuard) Check(action *plan.Action) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.profile == nil {
		return Allow()
	}

	if override, ok := g.profile.override(action.Module, action.Action); ok {
		return g.decideForPolicy(override.Policy, action)
	}

	if len(g.profile.AllowedModules) > 0 && !contains(g.profile.AllowedModules, action.Module) {
		return Deny("profile_guard", plan.CodePermissionDenied,
			fmt.Sprintf("module %q is not in permission profile %q", action.Module, g.profile.Name), nil)
	}

	return g.decideForPolicy(g.profile.DefaultPolicy, action)
}

func (g *ProfileGuard) decideForPolicy(policy string, action *plan.Action) Decision {
	switch policy {
	case "allow":
		return Allow()
	case "deny":
		return Deny("profile_guard", plan.CodePermissionDenied,
			fmt.Sprintf("module %q is denied by the active permission profile", action.Module), nil)
	case "prompt":
		if !action.RequiresApproval {
			return Deny("profile_guard", plan.CodePermissionNotGranted,
				fmt.Sprintf("module %q requires approval under the active permission profile", action.Module),
				&plan.RecoveryHint{Module: action.Module, Action: action.Action})
		}
		return Allow()
	default:
		return Deny("profile_guard", plan.CodePermissionDenied, fmt.Sprintf("unknown policy %q", policy), nil)
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
