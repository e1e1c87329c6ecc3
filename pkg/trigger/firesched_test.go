package trigger

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFireScheduler_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string

	s := NewFireScheduler(func(ctx context.Context, def *Definition, ev Event) {
		mu.Lock()
		dispatched = append(dispatched, def.TriggerID)
		mu.Unlock()
	})

	s.Enqueue(&Definition{TriggerID: "low", Priority: 1}, Event{})
	s.Enqueue(&Definition{TriggerID: "high", Priority: 10}, Event{})
	s.Enqueue(&Definition{TriggerID: "mid", Priority: 5}, Event{})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(dispatched)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all fires to dispatch")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 3 || dispatched[0] != "high" || dispatched[1] != "mid" || dispatched[2] != "low" {
		t.Errorf("expected [high mid low], got %v", dispatched)
	}
}

func TestFireScheduler_StopsOnContextDone(t *testing.T) {
	s := NewFireScheduler(func(ctx context.Context, def *Definition, ev Event) {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
