package trigger

import (
	"sync"
	"time"
)

// ConflictResolver is the in-memory lock table mapping a resource name to
// the plan id currently holding it, per spec.md §4.9. Acquire's outcome
// depends on the incoming fire's conflict policy: queue waits for release
// (or a timeout), preempt cancels the current holder when the incoming
// trigger's priority is strictly higher (else behaves like queue), reject
// drops the fire immediately.
type ConflictResolver struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[string]lockHolder

	// preempt is called to cancel a holder's plan; supplied by the daemon
	// so this package doesn't depend on pkg/scheduler directly.
	preempt func(planID string)
}

type lockHolder struct {
	planID   string
	priority int
}

// NewConflictResolver builds a resolver. preempt is invoked (outside the
// resolver's lock) when a higher-priority fire preempts a current holder.
func NewConflictResolver(preempt func(planID string)) *ConflictResolver {
	r := &ConflictResolver{locks: make(map[string]lockHolder), preempt: preempt}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// AcquireResult reports what Acquire decided.
type AcquireResult int

const (
	AcquireGranted AcquireResult = iota
	AcquireRejected
	AcquireTimedOut
)

// Acquire attempts to take resource on behalf of planID at the given
// priority, per policy. It blocks for queue/preempt-fallback-to-queue
// outcomes until the lock frees or timeout elapses.
func (r *ConflictResolver) Acquire(resource, planID string, priority int, policy ConflictPolicy, timeout time.Duration) AcquireResult {
	if resource == "" {
		return AcquireGranted
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	holder, held := r.locks[resource]
	if !held {
		r.locks[resource] = lockHolder{planID: planID, priority: priority}
		return AcquireGranted
	}

	switch policy {
	case ConflictReject:
		return AcquireRejected

	case ConflictPreempt:
		if priority > holder.priority {
			preemptedPlan := holder.planID
			r.locks[resource] = lockHolder{planID: planID, priority: priority}
			r.mu.Unlock()
			if r.preempt != nil {
				r.preempt(preemptedPlan)
			}
			r.mu.Lock()
			return AcquireGranted
		}
		fallthrough

	default: // ConflictQueue
		var timedOut bool
		var timer *time.Timer
		if timeout > 0 {
			timer = time.AfterFunc(timeout, func() {
				r.mu.Lock()
				timedOut = true
				r.mu.Unlock()
				r.cond.Broadcast()
			})
			defer timer.Stop()
		}

		for {
			_, stillHeld := r.locks[resource]
			if !stillHeld {
				r.locks[resource] = lockHolder{planID: planID, priority: priority}
				return AcquireGranted
			}
			if timedOut {
				return AcquireTimedOut
			}
			r.cond.Wait()
		}
	}
}

// Release frees resource, broadcasting to any waiters. A no-op for an
// unheld resource (idempotent, matching the spec's "release is automatic
// when the plan terminates" even if termination races with an explicit
// release).
func (r *ConflictResolver) Release(resource string) {
	if resource == "" {
		return
	}
	r.mu.Lock()
	delete(r.locks, resource)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// HolderOf reports which plan id currently holds resource, if any.
func (r *ConflictResolver) HolderOf(resource string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.locks[resource]
	return h.planID, ok
}

// Count reports the number of resources currently locked, for testable
// property 8 (at any instant, at most one plan holds a given resource —
// trivially true of a map, asserted in tests via HolderOf).
func (r *ConflictResolver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
