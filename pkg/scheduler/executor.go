package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
)

// runState is the in-memory, mutex-guarded record of one plan in flight.
// ExecutionState itself is also persisted to the store on every terminal
// per-action transition, per spec.md §3's lifecycle rule.
type runState struct {
	mu            sync.Mutex
	plan          *plan.Plan
	es            *plan.ExecutionState
	opts          ScheduleOptions
	graph         *plan.Graph
	cancel        context.CancelFunc
	rollbackCount int
	done          chan struct{}
}

// Executor runs plans to completion: wave-by-wave dispatch through the
// security guard and module registry, retry/backoff, rollback, approval
// suspension and cancellation, adapted from the teacher's
// ParallelScheduler control flow and retargeted at Action dispatch.
type Executor struct {
	deps      Dependencies
	approvals *approvalGate

	mu   sync.Mutex
	runs map[string]*runState
}

// NewExecutor builds an Executor wired to deps.
func NewExecutor(deps Dependencies) *Executor {
	return &Executor{
		deps:      deps,
		approvals: newApprovalGate(),
		runs:      make(map[string]*runState),
	}
}

// Schedule validates the plan has a buildable graph, persists its
// initial ExecutionState, and starts execution in a background
// goroutine. When opts.Delay is set it first waits that long (or until
// ctx is done); it then returns with the plan's id, which doubles as
// the run identifier (plan_id is already unique per spec.md §3).
func (x *Executor) Schedule(ctx context.Context, p *plan.Plan, opts ScheduleOptions) (string, error) {
	if p == nil {
		return "", plan.NewPermanentError(plan.CodeValidationError, "plan is nil", nil)
	}

	graph, err := plan.BuildGraph(p.Actions)
	if err != nil {
		return "", err
	}

	es := plan.NewExecutionState(p)

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{plan: p, es: es, opts: opts, graph: graph, cancel: cancel, done: make(chan struct{})}

	x.mu.Lock()
	x.runs[p.PlanID] = rs
	x.mu.Unlock()

	if x.deps.Store != nil {
		if err := x.deps.Store.SaveExecutionState(ctx, es); err != nil {
			cancel()
			return "", fmt.Errorf("failed to save initial execution state: %w", err)
		}
	}

	x.emit(runCtx, eventbus.TopicPlans, "plan_started", p.PlanID, "", nil)

	if opts.Delay > 0 {
		select {
		case <-time.After(opts.Delay):
		case <-ctx.Done():
			cancel()
			return "", ctx.Err()
		}
	}

	go x.executeRun(runCtx, rs)

	return p.PlanID, nil
}

// Execute runs Schedule and blocks until the plan reaches a terminal
// status, returning its final ExecutionState. Useful for callers (tests,
// the CLI's synchronous commands) that don't need to poll.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan, opts ScheduleOptions) (*plan.ExecutionState, error) {
	planID, err := x.Schedule(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	rs := x.runs[planID]
	x.mu.Unlock()

	select {
	case <-rs.done:
		return x.GetState(ctx, planID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetState returns the current ExecutionState for a plan, preferring the
// in-memory copy of an active run and falling back to the store.
func (x *Executor) GetState(ctx context.Context, planID string) (*plan.ExecutionState, error) {
	x.mu.Lock()
	rs, ok := x.runs[planID]
	x.mu.Unlock()

	if ok {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.es, nil
	}

	if x.deps.Store == nil {
		return nil, plan.NewPermanentError(plan.CodeInternalError, "no store configured and run is not in memory", nil).
			WithResource(planID)
	}
	return x.deps.Store.GetExecutionState(ctx, planID)
}

// Cancel marks a run's plan cancelled: its context is cancelled so
// in-flight actions observe it at their next suspension point, and every
// pending/blocked action is marked cancelled immediately. Cancellation
// is idempotent.
func (x *Executor) Cancel(ctx context.Context, planID string) error {
	x.mu.Lock()
	rs, ok := x.runs[planID]
	x.mu.Unlock()

	if !ok {
		return plan.NewPermanentError(plan.CodeValidationError, "no active run for plan", nil).WithResource(planID)
	}

	rs.mu.Lock()
	for _, as := range rs.es.Actions {
		if as.Status == plan.ActionStatusPending {
			as.Status = plan.ActionStatusCancelled
		}
	}
	rs.es.PlanStatus = plan.PlanStatusCancelled
	es := rs.es
	rs.mu.Unlock()

	rs.cancel()

	if x.deps.Store != nil {
		if err := x.deps.Store.SaveExecutionState(ctx, es); err != nil {
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}
	}
	x.emit(ctx, eventbus.TopicPlans, "plan_cancelled", planID, "", nil)
	return nil
}

// ResumeApproval delivers an approve/reject decision to an action
// suspended awaiting approval.
func (x *Executor) ResumeApproval(planID, actionID string, decision ApprovalDecision) error {
	return x.approvals.Resume(planID, actionID, decision)
}

func (x *Executor) emit(ctx context.Context, topic eventbus.Topic, kind, planID, actionID string, payload map[string]interface{}) {
	if x.deps.Bus == nil {
		return
	}
	x.deps.Bus.Emit(ctx, topic, kind, planID, actionID, payload)
}

