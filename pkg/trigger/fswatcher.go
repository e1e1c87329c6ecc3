package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSystemWatcher wraps fsnotify (the teacher's pkg/policy/loader.go
// dependency, reused here for the spec's filesystem-change condition)
// with a coalescing window: a burst of matching events within the window
// collapses into a single fire carrying the last event, avoiding storms from
// e.g. an editor's save-via-rename-temp-file sequence.
type FileSystemWatcher struct {
	path     string
	events   map[string]bool
	coalesce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewFileSystemWatcher builds a watcher on path, firing for any of events
// (created/modified/deleted/moved; empty means all), coalesced within
// coalesceMs (0 disables coalescing).
func NewFileSystemWatcher(path string, events []string, coalesceMs int) (*FileSystemWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	eventSet := make(map[string]bool, len(events))
	for _, e := range events {
		eventSet[e] = true
	}
	return &FileSystemWatcher{
		path:     path,
		events:   eventSet,
		coalesce: time.Duration(coalesceMs) * time.Millisecond,
		watcher:  w,
	}, nil
}

func (w *FileSystemWatcher) Start(ctx context.Context, fire FireFunc) error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer close(w.stopped)
		var coalesceTimer *time.Timer
		var pending *fsnotify.Event

		flush := func() {
			if pending == nil {
				return
			}
			fire(Event{
				EventType: "filesystem-change",
				FiredAt:   time.Now().UTC(),
				Payload: map[string]interface{}{
					"path": pending.Name,
					"op":   pending.Op.String(),
				},
			})
			pending = nil
		}

		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.matches(ev) {
					continue
				}
				e := ev
				pending = &e
				if w.coalesce <= 0 {
					flush()
					continue
				}
				if coalesceTimer != nil {
					coalesceTimer.Stop()
				}
				coalesceTimer = time.AfterFunc(w.coalesce, flush)
			case <-w.watcher.Errors:
				// A watch-source error doesn't terminate the watcher; the
				// daemon's health tracking records repeated dispatch
				// failures instead, per spec.md §4.9.
			case <-runCtx.Done():
				if coalesceTimer != nil {
					coalesceTimer.Stop()
				}
				return
			}
		}
	}()
	return nil
}

func (w *FileSystemWatcher) matches(ev fsnotify.Event) bool {
	if len(w.events) == 0 {
		return true
	}
	switch {
	case ev.Op&fsnotify.Create != 0:
		return w.events["created"]
	case ev.Op&fsnotify.Write != 0:
		return w.events["modified"]
	case ev.Op&fsnotify.Remove != 0:
		return w.events["deleted"]
	case ev.Op&fsnotify.Rename != 0:
		return w.events["moved"]
	default:
		return false
	}
}

func (w *FileSystemWatcher) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	stopped := w.stopped
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
	return w.watcher.Close()
}
