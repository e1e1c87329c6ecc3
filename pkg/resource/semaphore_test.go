package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

func TestLimiter_AcquireReleaseRoundTrip(t *testing.T) {
	l := NewLimiter(2, nil)

	release, err := l.Acquire(context.Background(), "fs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.InFlight("fs") != 1 {
		t.Errorf("expected 1 in flight, got %d", l.InFlight("fs"))
	}
	release()
	if l.InFlight("fs") != 0 {
		t.Errorf("expected 0 in flight after release, got %d", l.InFlight("fs"))
	}
}

func TestLimiter_BlocksBeyondCapacity(t *testing.T) {
	l := NewLimiter(1, nil)

	release, err := l.Acquire(context.Background(), "net")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "net")
	if err == nil {
		t.Fatal("expected acquire to time out while the only slot is held")
	}
	if plan.CodeOf(err) != plan.CodeTimeout {
		t.Errorf("expected timeout code, got %s", plan.CodeOf(err))
	}

	release()
}

func TestLimiter_PerModuleOverride(t *testing.T) {
	l := NewLimiter(1, map[string]int{"db": 3})

	if l.Cap("db") != 3 {
		t.Errorf("expected override cap 3, got %d", l.Cap("db"))
	}
	if l.Cap("fs") != 1 {
		t.Errorf("expected default cap 1, got %d", l.Cap("fs"))
	}

	var releases []func()
	for i := 0; i < 3; i++ {
		release, err := l.Acquire(context.Background(), "db")
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		releases = append(releases, release)
	}
	if l.InFlight("db") != 3 {
		t.Errorf("expected 3 in flight, got %d", l.InFlight("db"))
	}
	for _, release := range releases {
		release()
	}
}

func TestLimiter_ModulesAreIndependent(t *testing.T) {
	l := NewLimiter(1, nil)

	releaseA, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("module b should not be blocked by module a's slot: %v", err)
	}
	releaseB()
}

func TestLimiter_ReleaseUnblocksWaiter(t *testing.T) {
	l := NewLimiter(1, nil)

	release, err := l.Acquire(context.Background(), "queue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var acquired int32
	done := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "queue")
		if err == nil {
			atomic.StoreInt32(&acquired, 1)
			r()
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&acquired) != 0 {
		t.Fatal("waiter should still be blocked before release")
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never unblocked by release")
	}
	if atomic.LoadInt32(&acquired) != 1 {
		t.Error("expected waiter to acquire after release")
	}
}

func TestLimiter_ConcurrentAcquireNeverExceedsCap(t *testing.T) {
	l := NewLimiter(3, nil)
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "worker")
			if err != nil {
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxSeen)
				if n <= max || atomic.CompareAndSwapInt32(&maxSeen, max, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if maxSeen > 3 {
		t.Errorf("expected at most 3 concurrent holders, saw %d", maxSeen)
	}
}
