// Package security implements the daemon's guard pipeline (component C4):
// profile guard, permission manager, rate limiter, scanner pipeline,
// intent verifier, dispatch, output sanitiser and audit logger, composed
// as a single ordered Evaluate/Sanitize pair the scheduler calls around
// every action dispatch.
package security

import (
	"context"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// Decision is the result-variant outcome of one guard-pipeline stage:
// ok, a terminal rejection, or an internal error. Only one of Reject/Err
// is set when Allowed is false. Warning may be set alongside Allowed=true
// for a non-blocking verdict (a warn-tier scan, or a permissive-mode
// suspicious-intent reject) that a caller should still audit-log.
type Decision struct {
	Allowed bool
	Reject  *Rejection
	Warning *Rejection
	Err     error
}

// Rejection carries the reason a stage blocked (or warned about) an
// action, plus a recovery hint the caller (often the LLM itself) can act
// on directly.
type Rejection struct {
	Stage     string
	Code      string
	Reason    string
	Hint      *plan.RecoveryHint
	RiskScore float64
	Threats   []string
}

// Allow returns an allowed Decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a rejecting Decision.
func Deny(stage, code, reason string, hint *plan.RecoveryHint) Decision {
	return Decision{Reject: &Rejection{Stage: stage, Code: code, Reason: reason, Hint: hint}}
}

// Errored returns an error Decision; the stage could not be evaluated.
func Errored(err error) Decision { return Decision{Err: err} }

// ScanVerdict is a scanner's three-way judgement on one action, per
// spec.md §4.4 item 4.
type ScanVerdict string

const (
	ScanVerdictAllow  ScanVerdict = "allow"
	ScanVerdictWarn   ScanVerdict = "warn"
	ScanVerdictReject ScanVerdict = "reject"
)

// ScanResult is one scanner's structured verdict: a tier plus supporting
// detail, aggregated by ScannerPipeline.Scan into a single guard Decision.
type ScanResult struct {
	Verdict   ScanVerdict
	RiskScore float64
	Threats   []string
	Details   map[string]interface{}
}

// Scanner is one stage of the scanner pipeline. Implementations must not
// block for long; a scanner that needs external I/O should apply its own
// timeout and fail closed.
type Scanner interface {
	Name() string
	ScanAction(ctx context.Context, action *plan.Action, pctx ScanContext) (ScanResult, error)
}

// ScanContext is the environment metadata made available to every scanner,
// mirroring policy.PolicyContext but kept independent so pkg/security
// never imports a policy-engine-specific type into its public surface.
type ScanContext struct {
	PermissionProfile string
	Operation         string
	Timestamp         time.Time
	DryRun            bool
	Metadata          map[string]interface{}

	// Strict and MaxRiskScore are populated by Pipeline.Evaluate from the
	// active permission profile (see pkg/security/profile.go) and drive
	// scanner/intent aggregation: a warn verdict only blocks when Strict
	// is set, and any risk_score above MaxRiskScore (when > 0) blocks
	// regardless of verdict.
	Strict       bool
	MaxRiskScore float64
}

// IntentDecision is the intent verifier's three-way judgement on one
// action, per spec.md §4.4 item 5.
type IntentDecision string

const (
	IntentApprove IntentDecision = "approve"
	IntentWarn    IntentDecision = "warn"
	IntentReject  IntentDecision = "reject"
)

// Verdict is the intent verifier's structured judgement on one action.
type Verdict struct {
	Verdict   IntentDecision `json:"verdict"`
	RiskLevel string         `json:"risk_level,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Threats   []string       `json:"threats,omitempty"`
}

// ChatCompleter is the one-method seam the intent verifier uses to reach
// an LLM backend; any SDK can satisfy it.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GuardConfig bundles the knobs every guard-pipeline component needs.
type GuardConfig struct {
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	IntentCacheTTL       time.Duration
	SanitizeMaxDepth     int
	SanitizeMaxLen       int
	SanitizeMaxNodes     int
}

// DefaultGuardConfig returns sane defaults for all guard-pipeline knobs.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RateLimitWindow:      time.Minute,
		RateLimitMaxRequests: 60,
		IntentCacheTTL:       10 * time.Minute,
		SanitizeMaxDepth:     12,
		SanitizeMaxLen:       8192,
		SanitizeMaxNodes:     2048,
	}
}
