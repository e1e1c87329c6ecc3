package security

import (
	"context"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/telemetry"
)

// Pipeline is the full C4 guard pipeline: profile guard → permission
// manager → rate limiter → scanner pipeline → intent verifier. The
// scheduler calls Evaluate immediately before dispatching an action and
// Sanitize on the provider's raw result before recording it.
type Pipeline struct {
	profileGuard *ProfileGuard
	permissions  *PermissionManager
	rateLimiter  *RateLimiter
	scanners     *ScannerPipeline
	intent       *IntentVerifier
	sanitizer    *OutputSanitizer
	audit        *AuditLogger
	metrics      *telemetry.Metrics
}

// PipelineConfig bundles the components a Pipeline wires together. Intent
// and metrics may be nil: intent verification is then skipped and metrics
// are not recorded.
type PipelineConfig struct {
	ProfileGuard *ProfileGuard
	Permissions  *PermissionManager
	RateLimiter  *RateLimiter
	Scanners     *ScannerPipeline
	Intent       *IntentVerifier
	Sanitizer    *OutputSanitizer
	Audit        *AuditLogger
	Metrics      *telemetry.Metrics
}

// NewPipeline wires cfg's components into one Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		profileGuard: cfg.ProfileGuard,
		permissions:  cfg.Permissions,
		rateLimiter:  cfg.RateLimiter,
		scanners:     cfg.Scanners,
		intent:       cfg.Intent,
		sanitizer:    cfg.Sanitizer,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
	}
}

// Evaluate runs every guard stage against action in order, short-circuiting
// at the first rejection. planID and planDescription feed the audit log and
// intent verifier respectively.
func (p *Pipeline) Evaluate(ctx context.Context, planID string, action *plan.Action, planDescription string, scanCtx ScanContext) (Decision, error) {
	if scanCtx.Timestamp.IsZero() {
		scanCtx.Timestamp = time.Now().UTC()
	}

	if p.profileGuard != nil {
		if d := p.profileGuard.Check(action); !d.Allowed {
			p.recordAndLog(ctx, planID, action.ID, "profile_guard_rejected", d)
			return d, nil
		}
	}

	if p.permissions != nil {
		if d := p.permissions.CheckAction(action); !d.Allowed {
			if p.metrics != nil {
				p.metrics.RecordPermissionDenial("permission_manager", action.Module)
			}
			p.recordAndLog(ctx, planID, action.ID, "permission_denied", d)
			return d, nil
		}
	}

	if p.rateLimiter != nil {
		if d := p.rateLimiter.CheckAction(action); !d.Allowed {
			if p.metrics != nil {
				p.metrics.RecordRateLimitRejection(action.Module, action.Action)
			}
			p.recordAndLog(ctx, planID, action.ID, "rate_limit_exceeded", d)
			return d, nil
		}
	}

	if p.profileGuard != nil {
		scanCtx.Strict = p.profileGuard.StrictMode()
		scanCtx.MaxRiskScore = p.profileGuard.MaxScanRiskScore()
	}

	if p.scanners != nil {
		d, scannerName, err := p.scanners.Scan(ctx, action, scanCtx)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			if p.metrics != nil {
				p.metrics.RecordScanBlock(scannerName, d.Reject.Code)
			}
			p.recordAndLog(ctx, planID, action.ID, "scan_blocked", d)
			return d, nil
		}
		if d.Warning != nil {
			p.recordAndLog(ctx, planID, action.ID, "scan_warned", d)
		}
	}

	if action.Sensitive {
		if p.audit != nil {
			p.audit.LogSensitiveActionInvoked(ctx, planID, action)
		}

		if p.intent != nil {
			d, err := p.intent.Verify(ctx, action, planDescription, scanCtx.Strict)
			if err != nil {
				return Decision{}, err
			}
			if !d.Allowed {
				p.recordAndLog(ctx, planID, action.ID, "suspicious_intent", d)
				return d, nil
			}
			if d.Warning != nil {
				p.recordAndLog(ctx, planID, action.ID, "intent_warned", d)
			}
		}
	}

	p.recordAndLog(ctx, planID, action.ID, "dispatch_allowed", Allow())
	return Allow(), nil
}

// Sanitize applies the output sanitiser to a provider's raw result, or
// returns it unchanged when no sanitizer is configured.
func (p *Pipeline) Sanitize(result interface{}) interface{} {
	if p.sanitizer == nil {
		return result
	}
	return p.sanitizer.Sanitize(result)
}

func (p *Pipeline) recordAndLog(ctx context.Context, planID, actionID, kind string, d Decision) {
	if p.audit != nil {
		p.audit.LogDecision(ctx, planID, actionID, kind, d)
	}
}
