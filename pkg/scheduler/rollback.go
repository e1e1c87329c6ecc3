package scheduler

import (
	"context"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
)

// triggerRollback resolves and dispatches the compensating action named
// by failed.Rollback, exactly once. Rollback actions never themselves
// trigger further rollback (Action.IsRollbackAction short-circuits
// failAction before it gets here) and never retry (MaxAttempts forced to
// 1), per spec.md §4.7 and the Open Question decision recorded in
// DESIGN.md.
func (x *Executor) triggerRollback(ctx context.Context, rs *runState, failed *plan.Action) {
	if failed.Rollback == nil {
		return
	}

	rs.mu.Lock()
	if rs.rollbackCount >= RollbackDepthCap {
		rs.mu.Unlock()
		rs.es.AppendAudit(plan.AuditRollbackExecuted, "scheduler", failed.ID, map[string]interface{}{
			"skipped": true, "reason": "rollback depth cap exceeded",
		})
		x.emit(ctx, eventbus.TopicErrors, "rollback_depth_exceeded", rs.plan.PlanID, failed.ID, nil)
		return
	}
	rs.rollbackCount++
	rs.mu.Unlock()

	target := rs.plan.ActionByID(failed.Rollback.Action)
	if target == nil {
		x.emit(ctx, eventbus.TopicErrors, "rollback_failed", rs.plan.PlanID, failed.ID,
			map[string]interface{}{"reason": "rollback target not found", "target": failed.Rollback.Action})
		return
	}

	// Params are left unresolved here: dispatchAction's own prepareDispatch
	// step resolves ${...} references exactly once, against the same
	// results snapshot every other action sees.
	rollbackAction := *target
	rollbackAction.ID = failed.ID + "_rollback"
	rollbackAction.Params = mergeParams(target.Params, failed.Rollback.Params)
	rollbackAction.OnError = plan.OnErrorFail
	rollbackAction.RequiresApproval = false
	rollbackAction.Retry = &plan.RetryPolicy{MaxAttempts: 1}
	rollbackAction.MarkRollback()

	rs.mu.Lock()
	rs.es.Actions[rollbackAction.ID] = &plan.ActionState{Status: plan.ActionStatusPending}
	rs.mu.Unlock()

	rs.es.AppendAudit(plan.AuditRollbackExecuted, "scheduler", failed.ID, map[string]interface{}{"rollback_action": rollbackAction.ID})
	if x.deps.Metrics != nil {
		x.deps.Metrics.RecordRollback(rollbackAction.Module, rollbackAction.Action)
	}

	x.dispatchAction(ctx, rs, &rollbackAction)
}

// mergeParams overlays override on top of base, override winning on key
// collision. Neither input is mutated.
func mergeParams(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
