package security

import (
	"context"
	"time"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/store"
)

// AuditLogger records every guard-pipeline decision onto the event bus'
// security topic and, for durability across restarts, into the store's
// append-only audit trail.
type AuditLogger struct {
	bus   *eventbus.Bus
	store store.Store
	actor string
}

// NewAuditLogger creates a logger that tags every entry with actor (e.g.
// "security-pipeline").
func NewAuditLogger(bus *eventbus.Bus, st store.Store, actor string) *AuditLogger {
	return &AuditLogger{bus: bus, store: st, actor: actor}
}

// LogDecision records one Decision for (planID, action).
func (l *AuditLogger) LogDecision(ctx context.Context, planID, actionID string, kind string, d Decision) {
	payload := map[string]interface{}{"allowed": d.Allowed}
	if d.Reject != nil {
		payload["stage"] = d.Reject.Stage
		payload["code"] = d.Reject.Code
		payload["reason"] = d.Reject.Reason
		if d.Reject.RiskScore > 0 {
			payload["risk_score"] = d.Reject.RiskScore
		}
		if len(d.Reject.Threats) > 0 {
			payload["threats"] = d.Reject.Threats
		}
	}
	if d.Warning != nil {
		payload["warning_stage"] = d.Warning.Stage
		payload["warning_code"] = d.Warning.Code
		payload["warning_reason"] = d.Warning.Reason
		if d.Warning.RiskScore > 0 {
			payload["warning_risk_score"] = d.Warning.RiskScore
		}
		if len(d.Warning.Threats) > 0 {
			payload["warning_threats"] = d.Warning.Threats
		}
	}

	l.emit(ctx, kind, planID, actionID, payload)
}

// LogSensitiveActionInvoked records that a sensitive action reached
// dispatch, independent of the intent verifier's verdict, so the audit
// trail shows every sensitive invocation even when no LLM backend is
// configured to judge it.
func (l *AuditLogger) LogSensitiveActionInvoked(ctx context.Context, planID string, action *plan.Action) {
	payload := map[string]interface{}{"module": action.Module, "action": action.Action}
	l.emit(ctx, plan.AuditSensitiveActionInvoked, planID, action.ID, payload)
}

func (l *AuditLogger) emit(ctx context.Context, kind, planID, actionID string, payload map[string]interface{}) {
	if l.bus != nil {
		l.bus.Emit(ctx, eventbus.TopicSecurity, kind, planID, actionID, payload)
	}

	if l.store != nil {
		_ = l.store.AppendAuditLog(ctx, &store.AuditLogEntry{
			TS:      time.Now().UTC(),
			Kind:    kind,
			Actor:   l.actor,
			Subject: actionID,
			Payload: payload,
		})
	}
}
