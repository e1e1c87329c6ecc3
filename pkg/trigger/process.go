package trigger

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"
)

// ProcessWatcher fires on a pid-identified process's start/stop
// transition, polling liveness at a fixed interval. Liveness uses
// os.FindProcess + signal 0. The process name is only carried into the
// fire payload; it is not looked up, so a watcher without a pid never sees
// its process alive and never fires.
type ProcessWatcher struct {
	name         string
	pid          int
	onTransition string // start|stop
	pollInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewProcessWatcher builds a watcher on pid, firing on the "start" or
// "stop" transition; processName is reported in the fire payload only.
func NewProcessWatcher(processName string, pid int, onTransition string) *ProcessWatcher {
	if onTransition == "" {
		onTransition = "start"
	}
	return &ProcessWatcher{name: processName, pid: pid, onTransition: onTransition, pollInterval: 2 * time.Second}
}

func (w *ProcessWatcher) Start(ctx context.Context, fire FireFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		wasAlive := w.isAlive()
		for {
			select {
			case <-ticker.C:
				alive := w.isAlive()
				if alive && !wasAlive && w.onTransition == "start" {
					fire(Event{EventType: "process_start", FiredAt: time.Now().UTC(),
						Payload: map[string]interface{}{"process": w.name, "pid": w.pid}})
				}
				if !alive && wasAlive && w.onTransition == "stop" {
					fire(Event{EventType: "process_stop", FiredAt: time.Now().UTC(),
						Payload: map[string]interface{}{"process": w.name, "pid": w.pid}})
				}
				wasAlive = alive
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// isAlive reports whether the watched pid currently exists. Best-effort:
// a lookup failure is treated as "not alive".
func (w *ProcessWatcher) isAlive() bool {
	if w.pid == 0 {
		return false
	}
	proc, err := os.FindProcess(w.pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (w *ProcessWatcher) Stop() error {
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
	return nil
}
