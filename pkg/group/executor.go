package group

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/scheduler"
	"github.com/agentforge/agentd/pkg/telemetry"
)

// Executor fans N independent plans out through a shared scheduler.Executor,
// bounding in-flight plans with a counting semaphore exactly like
// pkg/resource's per-module limiter, but scoped to one group run instead of
// living across the daemon's lifetime.
type Executor struct {
	scheduler *scheduler.Executor
	logger    *telemetry.Logger
}

// New builds a group Executor dispatching through sched.
func New(sched *scheduler.Executor, logger *telemetry.Logger) *Executor {
	return &Executor{scheduler: sched, logger: logger}
}

// Run executes plans concurrently, bounded by opts.MaxConcurrent (default
// len(plans), i.e. unbounded), and returns the aggregated Result once every
// plan has reached a terminal status or opts.TimeoutS elapses. On timeout,
// every plan still in flight is cancelled and recorded in Result.Errors as
// "group timed out"; the group's own Status becomes StatusFailed.
func (e *Executor) Run(ctx context.Context, plans []*plan.Plan, opts Options) *Result {
	groupID := opts.GroupID
	if groupID == "" {
		groupID = uuid.New().String()
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutS*float64(time.Second)))
		defer cancel()
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = len(plans)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	result := &Result{
		GroupID:     groupID,
		PlanResults: make(map[string]*plan.ExecutionState, len(plans)),
		Errors:      make(map[string]string),
		StartedAt:   time.Now().UTC(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range plans {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				mu.Lock()
				result.Errors[p.PlanID] = "group timed out"
				mu.Unlock()
				return
			}

			es, err := e.scheduler.Execute(runCtx, p, scheduler.ScheduleOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if runCtx.Err() != nil {
					result.Errors[p.PlanID] = "group timed out"
					_ = e.scheduler.Cancel(ctx, p.PlanID)
				} else {
					result.Errors[p.PlanID] = err.Error()
				}
				return
			}
			result.PlanResults[p.PlanID] = es
		}()
	}

	wg.Wait()

	// Any plan still running when runCtx expired is cancelled explicitly;
	// Execute above already returned an error for it via ctx.Err().
	if runCtx.Err() != nil {
		for _, p := range plans {
			mu.Lock()
			_, done := result.PlanResults[p.PlanID]
			_, errored := result.Errors[p.PlanID]
			mu.Unlock()
			if !done && !errored {
				_ = e.scheduler.Cancel(ctx, p.PlanID)
				mu.Lock()
				result.Errors[p.PlanID] = "group timed out"
				mu.Unlock()
			}
		}
	}

	result.FinishedAt = time.Now().UTC()
	total := len(result.PlanResults) + len(result.Errors)
	completed := countCompleted(result.PlanResults)
	result.Summary = Summary{
		Total:     total,
		Completed: completed,
		Failed:    total - completed,
	}

	switch {
	case runCtx.Err() != nil && len(result.Errors) > 0:
		result.Status = StatusFailed
	case len(result.Errors) == 0 && result.Summary.Failed == 0:
		result.Status = StatusCompleted
	case result.Summary.Completed > 0:
		result.Status = StatusPartialFailure
	default:
		result.Status = StatusFailed
	}

	return result
}

func countCompleted(planResults map[string]*plan.ExecutionState) int {
	n := 0
	for _, es := range planResults {
		if es.PlanStatus == plan.PlanStatusCompleted {
			n++
		}
	}
	return n
}

