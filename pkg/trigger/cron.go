package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cronField is one of a 5-field cron expression's parsed field masks:
// minute (0-59), hour (0-23), day-of-month (1-31), month (1-12),
// day-of-week (0-6, Sunday=0).
type cronField struct {
	set map[int]bool
	any bool
}

func (f cronField) matches(v int) bool {
	return f.any || f.set[v]
}

// cronSchedule is a parsed 5-field cron expression. This package
// implements its own minimal next-fire calculator rather than vendoring a
// cron library: no example repo in the retrieval pack pulls in one, and
// the field semantics needed here (standard 5-field cron, no seconds, no
// predefined @-schedules) are small enough to own directly (see DESIGN.md).
type cronSchedule struct {
	minute, hour, dom, month, dow cronField
	expr                          string
}

// parseCron parses a standard 5-field cron expression: "minute hour dom
// month dow". Each field accepts "*", a single value, a comma list, or a
// "a-b" range; step syntax ("*/5") is not supported.
func parseCron(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d: %q", len(fields), expr)
	}

	ranges := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	parsed := make([]cronField, 5)
	for i, f := range fields {
		cf, err := parseCronField(f, ranges[i][0], ranges[i][1])
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, f, err)
		}
		parsed[i] = cf
	}

	return &cronSchedule{
		minute: parsed[0], hour: parsed[1], dom: parsed[2], month: parsed[3], dow: parsed[4],
		expr: expr,
	}, nil
}

func parseCronField(f string, min, max int) (cronField, error) {
	if f == "*" {
		return cronField{any: true}, nil
	}

	set := make(map[int]bool)
	for _, part := range strings.Split(f, ",") {
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			if len(bounds) != 2 {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			lo, err := strconv.Atoi(bounds[0])
			if err != nil {
				return cronField{}, err
			}
			hi, err := strconv.Atoi(bounds[1])
			if err != nil {
				return cronField{}, err
			}
			for v := lo; v <= hi; v++ {
				set[v] = true
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return cronField{}, err
		}
		if v < min || v > max {
			return cronField{}, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
		}
		set[v] = true
	}
	return cronField{set: set}, nil
}

// next returns the first instant strictly after from that satisfies the
// schedule, searching minute-by-minute up to two years out (enough for any
// well-formed expression; a malformed one that matches nothing returns the
// zero Time).
func (s *cronSchedule) next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(2, 0, 0)
	for t.Before(limit) {
		if s.minute.matches(t.Minute()) && s.hour.matches(t.Hour()) &&
			s.dom.matches(t.Day()) && s.month.matches(int(t.Month())) &&
			s.dow.matches(int(t.Weekday())) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// CronWatcher fires on each cron-schedule tick, recomputing its next-fire
// time after every fire per spec.md §4.9.
type CronWatcher struct {
	schedule *cronSchedule

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewCronWatcher parses expr and returns a CronWatcher for it.
func NewCronWatcher(expr string) (*CronWatcher, error) {
	s, err := parseCron(expr)
	if err != nil {
		return nil, err
	}
	return &CronWatcher{schedule: s}, nil
}

func (w *CronWatcher) Start(ctx context.Context, fire FireFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer close(w.stopped)
		for {
			next := w.schedule.next(time.Now())
			if next.IsZero() {
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				fire(Event{EventType: "cron", FiredAt: time.Now().UTC()})
			case <-runCtx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return nil
}

func (w *CronWatcher) Stop() error {
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
