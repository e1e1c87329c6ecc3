package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/telemetry"
)

// executeRun drives one plan from pending to a terminal status, wave by
// wave. It always closes rs.done on return, however the run ends.
func (x *Executor) executeRun(ctx context.Context, rs *runState) {
	// Deferred in this order so cleanupRun (which removes rs from
	// x.runs) runs only after rs.done closes: a concurrent Execute
	// waiting on rs.done must still find the run in memory when it
	// calls GetState immediately afterward, even with no Store wired.
	defer x.cleanupRun(rs.plan.PlanID)
	defer close(rs.done)

	var span trace.Span
	if x.deps.Tracer != nil {
		ctx, span = x.deps.Tracer.StartPlanSpan(ctx, rs.plan.PlanID)
	}

	rs.mu.Lock()
	rs.es.PlanStatus = plan.PlanStatusRunning
	rs.mu.Unlock()
	x.persist(ctx, rs)

	for _, wave := range rs.graph.Waves {
		if ctx.Err() != nil {
			break
		}
		x.executeWave(ctx, rs, wave)
	}

	x.finalize(ctx, rs)
}

// executeWave runs every ready action in one wave, respecting the plan's
// execution_mode: sequential dispatches one action at a time, parallel
// fans every ready action out concurrently (still bounded per module by
// the resource limiter).
func (x *Executor) executeWave(ctx context.Context, rs *runState, wave []string) {
	ready := make([]string, 0, len(wave))
	for _, id := range wave {
		if x.markIfSkippedOrCancelled(ctx, rs, id) {
			continue
		}
		ready = append(ready, id)
	}

	if rs.plan.ExecutionMode == plan.ExecutionModeSequential {
		for _, id := range ready {
			if ctx.Err() != nil {
				return
			}
			x.dispatchAction(ctx, rs, rs.plan.ActionByID(id))
		}
		return
	}

	var wg sync.WaitGroup
	for _, id := range ready {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			x.dispatchAction(ctx, rs, rs.plan.ActionByID(id))
		}()
	}
	wg.Wait()
}

// markIfSkippedOrCancelled reports whether action id should not be
// dispatched this wave, marking it cancelled (run already ending) or
// skipped (a required dependency did not succeed) as appropriate.
func (x *Executor) markIfSkippedOrCancelled(ctx context.Context, rs *runState, id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if ctx.Err() != nil {
		rs.es.Actions[id].Status = plan.ActionStatusCancelled
		return true
	}

	action := rs.plan.ActionByID(id)
	for _, dep := range action.DependsOn {
		if rs.es.Actions[dep].Status != plan.ActionStatusSucceeded {
			rs.es.Actions[id].Status = plan.ActionStatusSkipped
			rs.es.Errors[id] = plan.NewErrorRecord(
				plan.NewPermanentError(plan.CodeDependencyFailed, "required dependency did not succeed", nil).
					WithResource(dep),
			)
			rs.es.AppendAudit(plan.AuditActionFailed, "scheduler", id, map[string]interface{}{"reason": "dependency_failed", "dependency": dep})
			return true
		}
	}
	return false
}

// finalize computes and persists the run's terminal plan status per
// spec.md §4.7: completed (all succeeded or skipped), partial (some
// failed but every such action's on_error is continue), failed
// (otherwise), cancelled (external cancel already set this directly).
func (x *Executor) finalize(ctx context.Context, rs *runState) {
	rs.mu.Lock()
	if rs.es.PlanStatus == plan.PlanStatusCancelled {
		rs.mu.Unlock()
		x.persist(ctx, rs)
		x.emit(ctx, eventbus.TopicPlans, "plan_cancelled", rs.plan.PlanID, "", nil)
		return
	}

	failed, onlyContinueFailures := 0, true
	for id, as := range rs.es.Actions {
		if as.Status != plan.ActionStatusFailed {
			continue
		}
		failed++
		action := rs.plan.ActionByID(id)
		if action == nil || action.OnError != plan.OnErrorContinue {
			onlyContinueFailures = false
		}
	}

	switch {
	case failed == 0:
		rs.es.PlanStatus = plan.PlanStatusCompleted
	case onlyContinueFailures:
		rs.es.PlanStatus = plan.PlanStatusPartial
	default:
		rs.es.PlanStatus = plan.PlanStatusFailed
	}

	now := time.Now().UTC()
	rs.es.FinishedAt = &now
	status := rs.es.PlanStatus
	rs.mu.Unlock()

	x.persist(ctx, rs)
	kind := "plan_completed"
	if status != plan.PlanStatusCompleted {
		kind = "plan_failed"
	}
	x.emit(ctx, eventbus.TopicPlans, kind, rs.plan.PlanID, "", map[string]interface{}{"status": string(status)})

	if x.deps.Metrics != nil {
		x.deps.Metrics.RecordPlanCompleted(string(status), time.Since(rs.es.StartedAt))
	}
}

func (x *Executor) persist(ctx context.Context, rs *runState) {
	if x.deps.Store == nil {
		return
	}
	rs.mu.Lock()
	es := rs.es
	rs.mu.Unlock()
	_ = x.deps.Store.SaveExecutionState(ctx, es)
}

func (x *Executor) cleanupRun(planID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.runs, planID)
}
