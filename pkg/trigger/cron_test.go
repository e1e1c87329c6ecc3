package trigger

import (
	"testing"
	"time"
)

func TestParseCron_EveryMinute(t *testing.T) {
	s, err := parseCron("* * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	next := s.next(from)
	want := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestParseCron_SpecificHour(t *testing.T) {
	s, err := parseCron("30 9 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	next := s.next(from)
	want := time.Date(2026, 3, 6, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestParseCron_Weekdays(t *testing.T) {
	s, err := parseCron("0 9 * * 1-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2026-07-31 is a Friday; next weekday 9am after it should be Monday.
	from := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	next := s.next(from)
	if next.Weekday() != time.Monday {
		t.Errorf("expected next fire on Monday, got %v (%v)", next, next.Weekday())
	}
}

func TestParseCron_InvalidFieldCount(t *testing.T) {
	_, err := parseCron("* * *")
	if err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestCronWatcher_StopBeforeStartIsNoop(t *testing.T) {
	w, err := NewCronWatcher("* * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("stopping an unstarted watcher should be a no-op: %v", err)
	}
}
