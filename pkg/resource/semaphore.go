package resource

import (
	"context"
	"sync"

	"github.com/agentforge/agentd/pkg/plan"
)

// Limiter bounds concurrent in-flight executions per module. Each module
// gets its own buffered channel acting as a counting semaphore; a slot
// is a token in the channel, Acquire takes one out, Release puts one
// back. Go's channel runtime wakes blocked senders/receivers in the
// order they started waiting, which gives acquisition FIFO ordering
// without any extra bookkeeping.
type Limiter struct {
	mu         sync.Mutex
	defaultCap int
	overrides  map[string]int
	sems       map[string]chan struct{}
}

// NewLimiter builds a Limiter with defaultCap slots per module, except
// for modules named in overrides, which get their own cap instead. A
// defaultCap or override of 0 or less is treated as 1 (no module can
// starve callers indefinitely).
func NewLimiter(defaultCap int, overrides map[string]int) *Limiter {
	if defaultCap <= 0 {
		defaultCap = 1
	}
	l := &Limiter{
		defaultCap: defaultCap,
		overrides:  make(map[string]int, len(overrides)),
		sems:       make(map[string]chan struct{}),
	}
	for module, capacity := range overrides {
		if capacity <= 0 {
			capacity = 1
		}
		l.overrides[module] = capacity
	}
	return l
}

// capFor returns the configured capacity for a module.
func (l *Limiter) capFor(module string) int {
	if capacity, ok := l.overrides[module]; ok {
		return capacity
	}
	return l.defaultCap
}

// semFor lazily creates and returns the channel backing a module's
// semaphore, pre-filled with its full capacity worth of tokens.
func (l *Limiter) semFor(module string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[module]
	if ok {
		return sem
	}
	capacity := l.capFor(module)
	sem = make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		sem <- struct{}{}
	}
	l.sems[module] = sem
	return sem
}

// Acquire blocks until a slot for module is available or ctx is done.
// The caller must invoke the returned release func exactly once,
// regardless of how its execution attempt ends — success, failure,
// timeout, or cancellation — normally via defer right after Acquire
// returns without error.
func (l *Limiter) Acquire(ctx context.Context, module string) (release func(), err error) {
	sem := l.semFor(module)

	select {
	case <-sem:
		return func() { sem <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, plan.NewTransientError(plan.CodeTimeout, "timed out waiting for module concurrency slot", ctx.Err()).
			WithResource(module)
	}
}

// InFlight reports how many slots are currently checked out for a
// module. Intended for telemetry, not for gating decisions.
func (l *Limiter) InFlight(module string) int {
	sem := l.semFor(module)
	return cap(sem) - len(sem)
}

// Cap reports the configured capacity for a module.
func (l *Limiter) Cap(module string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capFor(module)
}

// SetCap overrides a module's capacity. It only takes effect for
// modules that have not yet had their semaphore channel created;
// changing the cap of a live module would require rebuilding its
// channel mid-flight, which is out of scope here.
func (l *Limiter) SetCap(module string, capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[module] = capacity
}
