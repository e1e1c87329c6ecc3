package eventbus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTopic_IsValid(t *testing.T) {
	if !TopicActions.IsValid() {
		t.Error("expected actions to be a valid topic")
	}
	if Topic("bogus").IsValid() {
		t.Error("expected bogus to be an invalid topic")
	}
}

func TestBus_Emit_RejectsUnknownTopic(t *testing.T) {
	recorder := &recordingSink{}
	bus := New(recorder, zerolog.Nop())
	bus.Emit(context.Background(), Topic("bogus"), "x", "", "", nil)
	if recorder.count() != 0 {
		t.Error("expected no delivery for an unknown topic")
	}
}

func TestBus_Emit_MonotoneTimestamps(t *testing.T) {
	recorder := &recordingSink{}
	bus := New(recorder, zerolog.Nop())
	for i := 0; i < 50; i++ {
		bus.Emit(context.Background(), TopicActions, "tick", "p1", "", nil)
	}
	events := recorder.snapshot()
	for i := 1; i < len(events); i++ {
		if events[i].TS.Before(events[i-1].TS) {
			t.Fatalf("timestamps not monotone at index %d: %v before %v", i, events[i].TS, events[i-1].TS)
		}
	}
}

func TestFileSink_WritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := Event{ID: "1", TS: time.Now().UTC(), Topic: TopicActions, Kind: "action_started"}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty NDJSON file")
	}
}

func TestFanOutSink_IsolatesFailingMember(t *testing.T) {
	good := &recordingSink{}
	bad := &erroringSink{}

	fan := NewFanOutSink([]FanOutConfig{
		{Name: "good", Sink: good, Capacity: 16},
		{Name: "bad", Sink: bad, Capacity: 16},
	}, zerolog.Nop())
	defer fan.Close()

	for i := 0; i < 5; i++ {
		_ = fan.Deliver(context.Background(), Event{ID: "x", Topic: TopicActions})
	}

	waitFor(t, func() bool { return good.count() == 5 })
}

func TestFanOutSink_DropsOldestOnOverflow(t *testing.T) {
	blocked := &blockingSink{release: make(chan struct{})}
	defer close(blocked.release)

	fan := NewFanOutSink([]FanOutConfig{
		{Name: "slow", Sink: blocked, Capacity: 2},
	}, zerolog.Nop())
	defer fan.Close()

	for i := 0; i < 10; i++ {
		_ = fan.Deliver(context.Background(), Event{ID: "x", Topic: TopicActions})
	}

	waitFor(t, func() bool { return fan.Dropped("slow") > 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Deliver(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}
func (r *recordingSink) Close() error { return nil }
func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type erroringSink struct{}

func (erroringSink) Deliver(context.Context, Event) error { return context.DeadlineExceeded }
func (erroringSink) Close() error                          { return nil }

// blockingSink never returns from Deliver until release is closed,
// simulating a permanently slow downstream sink so the queue fills up
// and the drop-oldest policy kicks in.
type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Deliver(context.Context, Event) error {
	<-b.release
	return nil
}
func (b *blockingSink) Close() error { return nil }
