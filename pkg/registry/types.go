// Package registry implements the module registry and provider dispatch
// layer (component C5): a uniform Provider interface behind which both
// in-process native providers and wazero-hosted WASM providers run, so the
// scheduler, schema registry and prompt generator never special-case the
// source of a capability.
package registry

import (
	"context"
	"encoding/json"
)

// ExecutionContext is the read-only context passed to every Provider.Execute
// call. Providers must not mutate it.
type ExecutionContext struct {
	PlanID           string                 `json:"plan_id"`
	ActionID         string                 `json:"action_id"`
	PreviousResults  map[string]interface{} `json:"previous_results,omitempty"`
	WorkingDirectory string                 `json:"working_directory,omitempty"`
	SecurityHandle   interface{}            `json:"-"`
	CancelSignal     <-chan struct{}        `json:"-"`
}

// ActionManifest describes one action a provider exposes.
type ActionManifest struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	ParamsSchema       json.RawMessage `json:"params_schema,omitempty"`
	ReturnsSchema      json.RawMessage `json:"returns_schema,omitempty"`
	PermissionRequired []string        `json:"permission_required,omitempty" yaml:"permission_required,omitempty"`
	Platforms          []string        `json:"platforms,omitempty"`
	Examples           []interface{}   `json:"examples,omitempty"`
	RiskLevel          string          `json:"risk_level,omitempty"`
	DataClassification string          `json:"data_classification,omitempty"`
	AuditLevel         string          `json:"audit_level,omitempty"`
	Irreversible       bool            `json:"irreversible,omitempty"`
	RateLimitHint      *RateLimitHint  `json:"rate_limit_hint,omitempty"`
}

// RateLimitHint lets a provider advertise its own preferred throttle,
// consumed by pkg/security's rate limiter when present.
type RateLimitHint struct {
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"`
}

// ProviderManifest is the uniform introspection shape every provider
// returns from GetManifest, per spec.md §6.1 / §4.5 — the schema registry
// and the system-prompt generator consume this directly regardless of
// whether the provider is native Go or WASM-hosted.
type ProviderManifest struct {
	ModuleID    string           `json:"module_id" yaml:"module_id"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Platforms   []string         `json:"platforms,omitempty"`
	Actions     []ActionManifest `json:"actions"`
}

// ActionByName looks up one action's manifest entry.
func (m *ProviderManifest) ActionByName(name string) (*ActionManifest, bool) {
	for i := range m.Actions {
		if m.Actions[i].Name == name {
			return &m.Actions[i], true
		}
	}
	return nil, false
}

// Provider is the uniform dispatch interface every capability module
// implements, whether it's compiled into this binary or hosted over WASM.
type Provider interface {
	// Execute dispatches one action and returns its raw result.
	Execute(ctx context.Context, actionName string, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error)

	// GetManifest returns the provider's module/action metadata.
	GetManifest() ProviderManifest

	// GetContextSnippet returns an optional string inlined into the
	// system prompt describing this provider's affordances in prose.
	GetContextSnippet() string

	// Close releases any resources held by the provider (WASM runtime,
	// open connections, temp files). Native providers may no-op.
	Close(ctx context.Context) error
}
