package trigger

import (
	"testing"
	"time"
)

func TestConflictResolver_GrantsFreeResource(t *testing.T) {
	r := NewConflictResolver(nil)
	result := r.Acquire("gpu", "plan-1", 1, ConflictQueue, time.Second)
	if result != AcquireGranted {
		t.Fatalf("expected granted, got %v", result)
	}
	holder, ok := r.HolderOf("gpu")
	if !ok || holder != "plan-1" {
		t.Errorf("expected plan-1 to hold gpu, got %q (ok=%v)", holder, ok)
	}
}

func TestConflictResolver_RejectPolicy(t *testing.T) {
	r := NewConflictResolver(nil)
	r.Acquire("gpu", "plan-1", 1, ConflictQueue, time.Second)

	result := r.Acquire("gpu", "plan-2", 5, ConflictReject, time.Second)
	if result != AcquireRejected {
		t.Fatalf("expected rejected, got %v", result)
	}
}

func TestConflictResolver_PreemptHigherPriority(t *testing.T) {
	var preempted string
	r := NewConflictResolver(func(planID string) { preempted = planID })
	r.Acquire("gpu", "plan-1", 1, ConflictQueue, time.Second)

	result := r.Acquire("gpu", "plan-2", 10, ConflictPreempt, time.Second)
	if result != AcquireGranted {
		t.Fatalf("expected granted via preemption, got %v", result)
	}
	if preempted != "plan-1" {
		t.Errorf("expected plan-1 preempted, got %q", preempted)
	}
	holder, _ := r.HolderOf("gpu")
	if holder != "plan-2" {
		t.Errorf("expected plan-2 to now hold gpu, got %q", holder)
	}
}

func TestConflictResolver_PreemptFallsBackToQueueOnLowerPriority(t *testing.T) {
	r := NewConflictResolver(func(string) {})
	r.Acquire("gpu", "plan-1", 10, ConflictQueue, time.Second)

	result := r.Acquire("gpu", "plan-2", 1, ConflictPreempt, 50*time.Millisecond)
	if result != AcquireTimedOut {
		t.Fatalf("expected timeout since priority is not higher, got %v", result)
	}
}

func TestConflictResolver_QueueGrantsAfterRelease(t *testing.T) {
	r := NewConflictResolver(nil)
	r.Acquire("gpu", "plan-1", 1, ConflictQueue, time.Second)

	done := make(chan AcquireResult, 1)
	go func() {
		done <- r.Acquire("gpu", "plan-2", 1, ConflictQueue, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Release("gpu")

	select {
	case result := <-done:
		if result != AcquireGranted {
			t.Fatalf("expected granted after release, got %v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued acquire to resolve")
	}
}

func TestConflictResolver_ReleaseIsIdempotent(t *testing.T) {
	r := NewConflictResolver(nil)
	r.Release("nonexistent") // must not panic
	if r.Count() != 0 {
		t.Errorf("expected no locks, got %d", r.Count())
	}
}
