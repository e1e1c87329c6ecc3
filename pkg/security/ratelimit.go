package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// ActionLimit overrides the default window/cap for one (module, action)
// pair, sourced from a provider's registry.ActionManifest.RateLimitHint.
type ActionLimit struct {
	Module      string
	Action      string
	Window      time.Duration
	MaxRequests int
}

func actionLimitKey(module, action string) string { return module + "." + action }

// RateLimiter enforces a sliding-window request cap per (module, action)
// key, each key guarded by its own mutex so unrelated actions never
// contend on the same lock. A per-action limit configured via Configure
// overrides the default window/cap for that key.
type RateLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	windows map[string]*slidingWindow
	limits  map[string]ActionLimit
}

type slidingWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window, per key,
// absent a more specific ActionLimit registered via Configure.
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		windows:     make(map[string]*slidingWindow),
		limits:      make(map[string]ActionLimit),
	}
}

// Configure installs per-action overrides, e.g. derived from the active
// providers' declared RateLimitHint. Calling Configure again replaces the
// previous set; it does not reset any in-flight window.
func (r *RateLimiter) Configure(limits []ActionLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := make(map[string]ActionLimit, len(limits))
	for _, l := range limits {
		m[actionLimitKey(l.Module, l.Action)] = l
	}
	r.limits = m
}

func rateLimitKey(module, action string) string { return module + "." + action }

func (r *RateLimiter) limitFor(module, action string) (time.Duration, int) {
	r.mu.Lock()
	l, ok := r.limits[actionLimitKey(module, action)]
	r.mu.Unlock()

	if !ok {
		return r.window, r.maxRequests
	}
	window, max := l.Window, l.MaxRequests
	if window <= 0 {
		window = r.window
	}
	if max <= 0 {
		max = r.maxRequests
	}
	return window, max
}

func (r *RateLimiter) windowFor(key string) *slidingWindow {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[key]
	if !ok {
		w = &slidingWindow{}
		r.windows[key] = w
	}
	return w
}

// Allow reports whether one more request for (module, action) fits inside
// the current window, recording it if so.
func (r *RateLimiter) Allow(module, action string) bool {
	ok, _ := r.allowWithRetry(module, action)
	return ok
}

// allowWithRetry is Allow plus, on rejection, how long the caller should
// wait before the window has room again.
func (r *RateLimiter) allowWithRetry(module, action string) (bool, time.Duration) {
	window, max := r.limitFor(module, action)
	key := rateLimitKey(module, action)
	w := r.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= max {
		retryAfter := w.times[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	w.times = append(w.times, now)
	return true, 0
}

// CheckAction wraps allowWithRetry as a guard-pipeline Decision, carrying a
// wait hint the caller can use to retry after the window has room.
func (r *RateLimiter) CheckAction(action *plan.Action) Decision {
	ok, retryAfter := r.allowWithRetry(action.Module, action.Action)
	if ok {
		return Allow()
	}
	window, max := r.limitFor(action.Module, action.Action)
	return Deny("rate_limiter", plan.CodeRateLimitExceeded,
		fmt.Sprintf("rate limit exceeded for %s.%s (max %d per %s)", action.Module, action.Action, max, window),
		&plan.RecoveryHint{
			Module: action.Module,
			Action: action.Action,
			Args:   map[string]interface{}{"retry_after_seconds": retryAfter.Seconds()},
		})
}
