package scheduler

import (
	"math"
	"math/rand"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// computeBackoff implements spec.md §4.7's retry formula:
// delay = min(max_backoff, initial * factor^(attempt-1)) * uniform(0.5, 1.5).
// attempt is 1-indexed (the attempt that just failed).
func computeBackoff(policy plan.RetryPolicy, attempt int) time.Duration {
	initial := policy.BackoffInitialS
	if initial <= 0 {
		initial = 1
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	maxBackoff := policy.MaxBackoffS
	if maxBackoff <= 0 {
		maxBackoff = 30
	}

	raw := initial * math.Pow(factor, float64(attempt-1))
	if raw > maxBackoff {
		raw = maxBackoff
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(raw * jitter * float64(time.Second))
}
