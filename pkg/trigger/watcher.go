package trigger

import "context"

// FireFunc is invoked by a Watcher when its condition is satisfied.
type FireFunc func(Event)

// Watcher is the one abstraction every condition kind implements, per
// spec.md §4.9: Start registers fireCallback against whatever event source
// the watcher observes and returns once it is listening (or returns an
// error if it couldn't start); Stop tears the watcher down. Both must be
// safe to call at most once each per instance.
type Watcher interface {
	Start(ctx context.Context, fire FireFunc) error
	Stop() error
}

// BuildWatcher constructs the concrete Watcher for one condition, including
// recursively building composite children. It rejects conditions nested
// past MaxCompositeDepth before any watcher starts running.
func BuildWatcher(triggerID string, cond Condition) (Watcher, error) {
	if cond.Depth() > MaxCompositeDepth {
		return nil, &ConditionError{TriggerID: triggerID, Reason: "composite condition exceeds max nesting depth"}
	}
	return buildWatcher(triggerID, cond)
}

func buildWatcher(triggerID string, cond Condition) (Watcher, error) {
	switch cond.Kind {
	case ConditionCron:
		return NewCronWatcher(cond.Expression)
	case ConditionInterval:
		return NewIntervalWatcher(cond.IntervalSeconds), nil
	case ConditionOnce:
		return NewOnceWatcher(cond.At), nil
	case ConditionFSChange:
		return NewFileSystemWatcher(cond.Path, cond.Events, cond.CoalesceMs)
	case ConditionProcess:
		return NewProcessWatcher(cond.ProcessName, cond.PID, cond.OnTransition), nil
	case ConditionResource:
		return NewResourceWatcher(cond.Resource, cond.ThresholdPct, cond.HysteresisPct), nil
	case ConditionAND, ConditionOR, ConditionNOT, ConditionSEQ, ConditionWINDOW:
		return buildCompositeWatcher(triggerID, cond)
	default:
		return nil, &ConditionError{TriggerID: triggerID, Reason: "unknown condition kind: " + string(cond.Kind)}
	}
}

// ConditionError reports a condition that cannot be built into a watcher.
type ConditionError struct {
	TriggerID string
	Reason    string
}

func (e *ConditionError) Error() string {
	return "trigger " + e.TriggerID + ": " + e.Reason
}
