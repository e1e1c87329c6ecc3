package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/security"
	"github.com/agentforge/agentd/pkg/template"
)

// dispatchAction runs one action through approval, resource limiting,
// the guard pipeline and the registry, honouring on_error for retry,
// continue, fail and rollback. It always leaves the action in a
// terminal status and persists the run's ExecutionState.
func (x *Executor) dispatchAction(ctx context.Context, rs *runState, action *plan.Action) {
	if action == nil {
		return
	}

	x.setStatus(rs, action.ID, plan.ActionStatusRunning)
	x.emit(ctx, eventbus.TopicActions, "action_started", rs.plan.PlanID, action.ID, nil)

	params, decision, err := x.prepareDispatch(ctx, rs, action)
	if err != nil {
		x.failAction(ctx, rs, action, err)
		return
	}
	if decision.Outcome == ApprovalReject {
		x.failAction(ctx, rs, action, plan.NewPermanentError(plan.CodeUserRejected, "action rejected at approval gate", nil).WithResource(action.ID))
		return
	}

	attempts := 1
	retryPolicy := action.EffectiveRetry(rs.plan.RetryDefaultsOrDefault())
	if action.OnError == plan.OnErrorRetry {
		attempts = retryPolicy.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
	}

	timeout := action.EffectiveTimeout(rs.plan.TimeoutSeconds)

	var result interface{}
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = x.attemptDispatchWithTimeout(ctx, rs, action, params, timeout)
		if err == nil {
			break
		}
		if !plan.IsRetryable(err) || attempt >= attempts {
			break
		}

		if x.deps.Metrics != nil {
			x.deps.Metrics.RecordActionRetry(action.Module, action.Action)
		}
		x.emit(ctx, eventbus.TopicActions, "action_retrying", rs.plan.PlanID, action.ID,
			map[string]interface{}{"attempt": attempt, "max_attempts": attempts})

		select {
		case <-time.After(computeBackoff(retryPolicy, attempt)):
		case <-ctx.Done():
			x.failAction(ctx, rs, action, plan.NewPermanentError(plan.CodeCancelled, "cancelled during retry backoff", ctx.Err()).WithResource(action.ID))
			return
		}
	}

	if err != nil {
		x.failAction(ctx, rs, action, err)
		return
	}

	x.succeedAction(ctx, rs, action, result)
}

// prepareDispatch resolves templates in the action's params and, if the
// action requires approval, suspends until a decision arrives. It
// returns the resolved params (possibly replaced by edited_params) and
// the approval decision (Outcome is zero-value when approval wasn't
// required).
func (x *Executor) prepareDispatch(ctx context.Context, rs *runState, action *plan.Action) (map[string]interface{}, ApprovalDecision, error) {
	rs.mu.Lock()
	tctx := &template.Context{
		Results:  rs.es.Results,
		Statuses: statusStrings(rs.es.Actions),
		Plan:     planTemplateFields(rs.plan),
		Strict:   rs.plan.Strict,
	}
	rs.mu.Unlock()

	resolved, err := template.Resolve(action.Params, tctx)
	if err != nil {
		return nil, ApprovalDecision{}, plan.NewPermanentError(plan.CodeTemplateError, "failed to resolve action params", err).WithResource(action.ID)
	}
	params, _ := resolved.(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}

	if !action.RequiresApproval || action.IsRollbackAction() {
		return params, ApprovalDecision{}, nil
	}

	x.setStatus(rs, action.ID, plan.ActionStatusAwaitingApproval)
	x.persist(ctx, rs)
	x.emit(ctx, eventbus.TopicActions, "plan_suspended", rs.plan.PlanID, action.ID,
		map[string]interface{}{"module": action.Module, "action": action.Action, "params": params})

	decision, err := x.approvals.Suspend(ctx, rs.plan.PlanID, action.ID)
	if err != nil {
		return nil, ApprovalDecision{}, plan.NewPermanentError(plan.CodeCancelled, "cancelled while awaiting approval", err).WithResource(action.ID)
	}
	if decision.EditedParams != nil {
		params = decision.EditedParams
	}

	x.setStatus(rs, action.ID, plan.ActionStatusRunning)
	return params, decision, nil
}

// attemptDispatchWithTimeout wraps attemptDispatch in a per-attempt
// deadline derived from the action's (or plan's) timeout_s, per spec.md
// §4.7 ("Timeouts. Per-action timeout_s, enforced by the executor; a
// timed-out action is marked failed and its on_error policy applies").
// A timeout is reported as a transient CodeTimeout error so on_error=retry
// policies can still retry it within their own attempt budget.
func (x *Executor) attemptDispatchWithTimeout(ctx context.Context, rs *runState, action *plan.Action, params map[string]interface{}, timeoutS float64) (interface{}, error) {
	if timeoutS <= 0 {
		return x.attemptDispatch(ctx, rs, action, params)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS*float64(time.Second)))
	defer cancel()

	result, err := x.attemptDispatch(attemptCtx, rs, action, params)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, plan.NewTransientError(plan.CodeTimeout, "action exceeded its timeout_s", attemptCtx.Err()).WithResource(action.ID)
	}
	return result, err
}

// attemptDispatch runs one dispatch attempt: resource acquire, guard
// pipeline, registry execute (or dry-run simulation), output sanitise.
func (x *Executor) attemptDispatch(ctx context.Context, rs *runState, action *plan.Action, params map[string]interface{}) (interface{}, error) {
	if x.deps.Pipeline != nil {
		scanCtx := security.ScanContext{
			PermissionProfile: x.deps.PermissionProfile,
			Operation:         action.Action,
			Timestamp:         time.Now().UTC(),
			DryRun:            rs.opts.DryRun,
		}
		d, err := x.deps.Pipeline.Evaluate(ctx, rs.plan.PlanID, withResolvedParams(action, params), rs.plan.Description, scanCtx)
		if err != nil {
			return nil, plan.NewPermanentError(plan.CodeInternalError, "guard pipeline evaluation failed", err).WithResource(action.ID)
		}
		if !d.Allowed {
			return nil, rejectionToError(action.ID, d.Reject)
		}
	}

	if rs.opts.DryRun {
		return params, nil
	}

	if x.deps.Limiter == nil || x.deps.Registry == nil {
		return nil, plan.NewPermanentError(plan.CodeInternalError, "executor missing resource limiter or registry", nil).WithResource(action.ID)
	}

	release, err := x.deps.Limiter.Acquire(ctx, action.Module)
	if err != nil {
		return nil, err
	}
	defer release()

	execCtx := registry.ExecutionContext{
		PlanID:           rs.plan.PlanID,
		ActionID:         action.ID,
		PreviousResults:  snapshotResults(rs),
		WorkingDirectory: rs.opts.WorkingDirectory,
		CancelSignal:     ctx.Done(),
	}

	start := time.Now()
	result, err := x.deps.Registry.Execute(ctx, action.Module, action.Action, params, execCtx)
	if x.deps.Metrics != nil {
		x.deps.Metrics.RecordActionDispatch(action.Module, action.Action, dispatchStatus(err), time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	if x.deps.Pipeline != nil {
		result = x.deps.Pipeline.Sanitize(result)
	}
	return result, nil
}

func (x *Executor) setStatus(rs *runState, actionID string, status plan.ActionStatus) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	as := rs.es.Actions[actionID]
	now := time.Now().UTC()
	if status == plan.ActionStatusRunning && as.FirstStartedAt == nil {
		as.FirstStartedAt = &now
	}
	as.Status = status
}

func (x *Executor) succeedAction(ctx context.Context, rs *runState, action *plan.Action, result interface{}) {
	rs.mu.Lock()
	now := time.Now().UTC()
	as := rs.es.Actions[action.ID]
	as.Status = plan.ActionStatusSucceeded
	as.LastFinishedAt = &now
	as.Result = result
	rs.es.Results[action.ID] = result
	rs.mu.Unlock()

	rs.es.AppendAudit(plan.AuditActionSucceeded, "scheduler", action.ID, nil)
	x.persist(ctx, rs)
	x.emit(ctx, eventbus.TopicActions, "action_succeeded", rs.plan.PlanID, action.ID, nil)
}

func (x *Executor) failAction(ctx context.Context, rs *runState, action *plan.Action, err error) {
	record := plan.NewErrorRecord(asEngineError(err))

	rs.mu.Lock()
	now := time.Now().UTC()
	as := rs.es.Actions[action.ID]
	as.Status = plan.ActionStatusFailed
	as.LastFinishedAt = &now
	as.ErrorRecord = &record
	rs.es.Errors[action.ID] = record
	rs.mu.Unlock()

	rs.es.AppendAudit(plan.AuditActionFailed, "scheduler", action.ID, map[string]interface{}{"code": record.Code})
	x.persist(ctx, rs)
	x.emit(ctx, eventbus.TopicErrors, "action_failed", rs.plan.PlanID, action.ID, map[string]interface{}{"code": record.Code, "message": record.Message})

	if action.OnError == plan.OnErrorRollback && !action.IsRollbackAction() {
		x.triggerRollback(ctx, rs, action)
	}
}

func dispatchStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusStrings(actions map[string]*plan.ActionState) map[string]string {
	out := make(map[string]string, len(actions))
	for id, as := range actions {
		out[id] = string(as.Status)
	}
	return out
}

func planTemplateFields(p *plan.Plan) map[string]interface{} {
	return map[string]interface{}{
		"plan_id":     p.PlanID,
		"description": p.Description,
		"metadata":    p.Metadata,
	}
}

func snapshotResults(rs *runState) map[string]interface{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]interface{}, len(rs.es.Results))
	for k, v := range rs.es.Results {
		out[k] = v
	}
	return out
}

// withResolvedParams returns a shallow copy of action carrying the
// already-template-resolved params, so every downstream guard stage
// (profile, permission, rate limit, scanners, intent) evaluates what
// will actually be dispatched rather than the raw, unresolved plan text.
func withResolvedParams(action *plan.Action, params map[string]interface{}) *plan.Action {
	resolved := *action
	resolved.Params = params
	return &resolved
}

func rejectionToError(actionID string, r *security.Rejection) error {
	if r == nil {
		return plan.NewPermanentError(plan.CodeInternalError, "guard pipeline rejected without a reason", nil).WithResource(actionID)
	}
	err := plan.NewPermanentError(r.Code, r.Reason, nil).WithResource(actionID).WithOperation(r.Stage)
	if r.Hint != nil {
		err = err.WithRecovery(r.Hint)
	}
	if r.RiskScore > 0 {
		err = err.WithDetail("risk_score", r.RiskScore)
	}
	if len(r.Threats) > 0 {
		err = err.WithDetail("threats", r.Threats)
	}
	return err
}

func asEngineError(err error) *plan.EngineError {
	var ee *plan.EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return plan.NewPermanentError(plan.CodeInternalError, err.Error(), err)
}
