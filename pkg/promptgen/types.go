package promptgen

import "encoding/json"

// Format selects the shape Generate renders.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options controls one Generate call.
type Options struct {
	Format            Format
	PermissionProfile string
	IncludeSchemas    bool
	IncludeExamples   bool
}

// ActionPrompt is one action's prompt-ready description.
type ActionPrompt struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	ParamsSchema       json.RawMessage `json:"params_schema,omitempty"`
	PermissionRequired []string        `json:"permission_required,omitempty"`
	RiskLevel          string          `json:"risk_level,omitempty"`
	Irreversible       bool            `json:"irreversible,omitempty"`
	RateLimit          string          `json:"rate_limit,omitempty"`
	Examples           []interface{}   `json:"examples,omitempty"`
}

// ModulePrompt is one module's prompt-ready description.
type ModulePrompt struct {
	ModuleID       string         `json:"module_id"`
	Description    string         `json:"description,omitempty"`
	ContextSnippet string         `json:"context_snippet,omitempty"`
	Actions        []ActionPrompt `json:"actions"`
}

// Document is the full machine-readable prompt payload.
type Document struct {
	ProtocolVersion   string         `json:"protocol_version"`
	PermissionProfile string         `json:"permission_profile,omitempty"`
	Modules           []ModulePrompt `json:"modules"`
}
