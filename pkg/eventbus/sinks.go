package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// NullSink discards every event. It is the default sink.
type NullSink struct{}

func (NullSink) Deliver(context.Context, Event) error { return nil }
func (NullSink) Close() error                          { return nil }

// FileSink appends each event as one NDJSON line to an append-only file.
// Writes are serialised by a mutex so interleaved Deliver calls never
// corrupt a line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (creating if necessary) path for append-only writes.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Deliver writes ev as one NDJSON line.
func (s *FileSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// queuedSink wraps a downstream sink with a bounded background queue: a
// producer calling Deliver never blocks on the downstream sink's own
// speed, and on overflow the oldest queued event is dropped in favour of
// the newest, with a running drop counter.
type queuedSink struct {
	name     string
	inner    Sink
	logger   zerolog.Logger
	queue    chan Event
	dropped  atomic.Uint64
	wg       sync.WaitGroup
	closeCh  chan struct{}
	closeOne sync.Once
}

func newQueuedSink(name string, inner Sink, capacity int, logger zerolog.Logger) *queuedSink {
	qs := &queuedSink{
		name:    name,
		inner:   inner,
		logger:  logger.With().Str("sink", name).Logger(),
		queue:   make(chan Event, capacity),
		closeCh: make(chan struct{}),
	}
	qs.wg.Add(1)
	go qs.drain()
	return qs
}

func (qs *queuedSink) drain() {
	defer qs.wg.Done()
	for {
		select {
		case ev, ok := <-qs.queue:
			if !ok {
				return
			}
			if err := qs.inner.Deliver(context.Background(), ev); err != nil {
				qs.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("sink delivery failed; event skipped")
			}
		case <-qs.closeCh:
			return
		}
	}
}

// enqueue attempts to push ev onto the bounded queue. On overflow it
// drops the oldest queued event to make room for the newest, per
// spec.md §4.3's back-pressure policy, and increments DroppedCount.
func (qs *queuedSink) enqueue(ev Event) {
	select {
	case qs.queue <- ev:
		return
	default:
	}

	select {
	case <-qs.queue:
		qs.dropped.Add(1)
	default:
	}

	select {
	case qs.queue <- ev:
	default:
		qs.dropped.Add(1)
	}
}

// DroppedCount returns the running events_dropped counter for this sink.
func (qs *queuedSink) DroppedCount() uint64 { return qs.dropped.Load() }

func (qs *queuedSink) close() error {
	qs.closeOne.Do(func() {
		close(qs.closeCh)
		close(qs.queue)
	})
	qs.wg.Wait()
	return qs.inner.Close()
}

// FanOutSink broadcasts every event to a set of named sinks, each behind
// its own bounded queue. A failing or slow sink never blocks or breaks
// delivery to the others; its error is logged and the event is skipped
// for that sink only.
type FanOutSink struct {
	sinks map[string]*queuedSink
}

// FanOutConfig names one member sink and its queue capacity.
type FanOutConfig struct {
	Name     string
	Sink     Sink
	Capacity int
}

// NewFanOutSink builds a FanOutSink from the given member configs.
func NewFanOutSink(members []FanOutConfig, logger zerolog.Logger) *FanOutSink {
	sinks := make(map[string]*queuedSink, len(members))
	for _, m := range members {
		capacity := m.Capacity
		if capacity <= 0 {
			capacity = 256
		}
		sinks[m.Name] = newQueuedSink(m.Name, m.Sink, capacity, logger)
	}
	return &FanOutSink{sinks: sinks}
}

// Deliver enqueues ev on every member sink.
func (f *FanOutSink) Deliver(_ context.Context, ev Event) error {
	for _, qs := range f.sinks {
		qs.enqueue(ev)
	}
	return nil
}

// Dropped returns the events_dropped counter for a named member sink, or
// 0 if no such sink is registered.
func (f *FanOutSink) Dropped(name string) uint64 {
	if qs, ok := f.sinks[name]; ok {
		return qs.DroppedCount()
	}
	return 0
}

// Close closes every member sink, collecting (but not short-circuiting
// on) individual close errors.
func (f *FanOutSink) Close() error {
	var firstErr error
	for _, qs := range f.sinks {
		if err := qs.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
