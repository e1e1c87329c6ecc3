package trigger

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// fireRequest is one pending fire enqueued for dispatch.
type fireRequest struct {
	trigger *Definition
	event   Event
	enqueue time.Time
	index   int
}

// fireHeap orders pending fires by priority desc, then enqueue time asc,
// per spec.md §4.9.
type fireHeap []*fireRequest

func (h fireHeap) Len() int { return len(h) }
func (h fireHeap) Less(i, j int) bool {
	if h[i].trigger.Priority != h[j].trigger.Priority {
		return h[i].trigger.Priority > h[j].trigger.Priority
	}
	return h[i].enqueue.Before(h[j].enqueue)
}
func (h fireHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *fireHeap) Push(x interface{}) {
	fr := x.(*fireRequest)
	fr.index = len(*h)
	*h = append(*h, fr)
}
func (h *fireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// FireScheduler dequeues pending trigger fires in (priority desc,
// enqueue_time asc) order and hands each to a dispatch callback, one at a
// time, serialising the consult-conflict-resolver-then-submit sequence so
// two fires can never race on the same lock-table decision.
type FireScheduler struct {
	mu   sync.Mutex
	cond *sync.Cond
	h    fireHeap

	dispatch func(context.Context, *Definition, Event)

	closed bool
}

// NewFireScheduler builds a scheduler that hands each dequeued fire to
// dispatch. Call Run in its own goroutine to start the worker loop.
func NewFireScheduler(dispatch func(context.Context, *Definition, Event)) *FireScheduler {
	s := &FireScheduler{dispatch: dispatch}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue adds a fire request.
func (s *FireScheduler) Enqueue(trigger *Definition, event Event) {
	s.mu.Lock()
	heap.Push(&s.h, &fireRequest{trigger: trigger, event: event, enqueue: time.Now()})
	s.mu.Unlock()
	s.cond.Signal()
}

// Run drains the queue until ctx is done, dispatching one fire at a time.
func (s *FireScheduler) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()
	}()

	for {
		s.mu.Lock()
		for len(s.h) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.h) == 0 {
			s.mu.Unlock()
			return
		}
		next := heap.Pop(&s.h).(*fireRequest)
		s.mu.Unlock()

		s.dispatch(ctx, next.trigger, next.event)
	}
}

// Len reports the number of fires currently queued.
func (s *FireScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}
