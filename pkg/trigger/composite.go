package trigger

import (
	"context"
	"sync"
	"time"
)

// buildCompositeWatcher builds the combinator watcher for cond.Kind,
// recursively building its children first.
func buildCompositeWatcher(triggerID string, cond Condition) (Watcher, error) {
	children := make([]Watcher, 0, len(cond.Children))
	for _, c := range cond.Children {
		w, err := buildWatcher(triggerID, c)
		if err != nil {
			return nil, err
		}
		children = append(children, w)
	}

	switch cond.Kind {
	case ConditionAND:
		return &andWatcher{children: children}, nil
	case ConditionOR:
		return &orWatcher{children: children}, nil
	case ConditionNOT:
		if len(children) != 1 {
			return nil, &ConditionError{TriggerID: triggerID, Reason: "composite-NOT requires exactly one child"}
		}
		return &notWatcher{child: children[0]}, nil
	case ConditionSEQ:
		if len(children) != 2 {
			return nil, &ConditionError{TriggerID: triggerID, Reason: "composite-SEQ requires exactly two children"}
		}
		return &seqWatcher{first: children[0], second: children[1], within: cond.Within}, nil
	case ConditionWINDOW:
		return &windowWatcher{children: children, within: cond.Within}, nil
	default:
		return nil, &ConditionError{TriggerID: triggerID, Reason: "not a composite condition: " + string(cond.Kind)}
	}
}

// andWatcher fires once every child has fired at least once since the
// last AND-fire (a rolling "all satisfied" gate, not a one-shot).
type andWatcher struct {
	children []Watcher

	mu   sync.Mutex
	seen map[int]bool
}

func (w *andWatcher) Start(ctx context.Context, fire FireFunc) error {
	w.seen = make(map[int]bool, len(w.children))
	for i, child := range w.children {
		i := i
		if err := child.Start(ctx, func(ev Event) {
			w.mu.Lock()
			w.seen[i] = true
			allSeen := len(w.seen) == len(w.children)
			if allSeen {
				w.seen = make(map[int]bool, len(w.children))
			}
			w.mu.Unlock()
			if allSeen {
				fire(Event{EventType: "composite-AND", FiredAt: time.Now().UTC(), Payload: ev.Payload})
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *andWatcher) Stop() error {
	return stopAll(w.children)
}

// orWatcher fires whenever any child fires.
type orWatcher struct {
	children []Watcher
}

func (w *orWatcher) Start(ctx context.Context, fire FireFunc) error {
	for _, child := range w.children {
		if err := child.Start(ctx, func(ev Event) {
			fire(Event{EventType: "composite-OR", FiredAt: time.Now().UTC(), Payload: ev.Payload})
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *orWatcher) Stop() error {
	return stopAll(w.children)
}

// notWatcher inverts presence: it fires on a fixed poll cadence whenever
// its child has NOT fired within the preceding window, modeling "absence
// of an event" as a condition rather than negating an instantaneous fire
// (which has no natural meaning for an edge-triggered child).
type notWatcher struct {
	child Watcher

	mu          sync.Mutex
	lastChildAt time.Time
}

const notWatcherWindow = 30 * time.Second
const notWatcherPoll = 5 * time.Second

func (w *notWatcher) Start(ctx context.Context, fire FireFunc) error {
	if err := w.child.Start(ctx, func(ev Event) {
		w.mu.Lock()
		w.lastChildAt = time.Now()
		w.mu.Unlock()
	}); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(notWatcherPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.mu.Lock()
				quiet := time.Since(w.lastChildAt) > notWatcherWindow
				w.mu.Unlock()
				if quiet {
					fire(Event{EventType: "composite-NOT", FiredAt: time.Now().UTC()})
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (w *notWatcher) Stop() error {
	return w.child.Stop()
}

// seqWatcher fires when second fires within `within` of first having
// fired, per spec.md's SEQ(a,b,within=t).
type seqWatcher struct {
	first, second Watcher
	within        time.Duration

	mu          sync.Mutex
	firstFired  time.Time
}

func (w *seqWatcher) Start(ctx context.Context, fire FireFunc) error {
	if err := w.first.Start(ctx, func(ev Event) {
		w.mu.Lock()
		w.firstFired = time.Now()
		w.mu.Unlock()
	}); err != nil {
		return err
	}
	return w.second.Start(ctx, func(ev Event) {
		w.mu.Lock()
		fired := w.firstFired
		w.mu.Unlock()
		if !fired.IsZero() && time.Since(fired) <= w.within {
			fire(Event{EventType: "composite-SEQ", FiredAt: time.Now().UTC(), Payload: ev.Payload})
		}
	})
}

func (w *seqWatcher) Stop() error {
	return stopAll([]Watcher{w.first, w.second})
}

// windowWatcher fires on every child fire. The window condition is
// treated as edge-triggered: `within` is not consulted, and no further
// fire is emitted while the window merely stays satisfied.
type windowWatcher struct {
	children []Watcher
	within   time.Duration
}

func (w *windowWatcher) Start(ctx context.Context, fire FireFunc) error {
	for _, child := range w.children {
		if err := child.Start(ctx, func(ev Event) {
			fire(Event{EventType: "composite-WINDOW", FiredAt: time.Now().UTC(), Payload: ev.Payload})
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *windowWatcher) Stop() error {
	return stopAll(w.children)
}

func stopAll(watchers []Watcher) error {
	var firstErr error
	for _, w := range watchers {
		if err := w.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
