// Package eventbus implements the daemon's topic-based event fan-out
// (component C3): a non-blocking emit() from the producer's point of
// view, best-effort delivery to sinks, and per-sink bounded queues that
// drop the oldest event on overflow rather than block the producer.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topic is one of the closed set of topics the bus accepts.
type Topic string

// The closed set of topics from spec.md §4.3.
const (
	TopicPlans       Topic = "plans"
	TopicActions     Topic = "actions"
	TopicSecurity    Topic = "security"
	TopicPermissions Topic = "permissions"
	TopicErrors      Topic = "errors"
	TopicPerception  Topic = "perception"
	TopicIOT         Topic = "iot"
	TopicDB          Topic = "db"
	TopicFilesystem  Topic = "filesystem"
)

var validTopics = map[Topic]bool{
	TopicPlans: true, TopicActions: true, TopicSecurity: true,
	TopicPermissions: true, TopicErrors: true, TopicPerception: true,
	TopicIOT: true, TopicDB: true, TopicFilesystem: true,
}

// IsValid reports whether t is a member of the closed topic set.
func (t Topic) IsValid() bool { return validTopics[t] }

// Event is one record flowing through the bus.
type Event struct {
	ID      string                 `json:"id"`
	TS      time.Time              `json:"ts"`
	Topic   Topic                  `json:"topic"`
	Kind    string                 `json:"kind"`
	PlanID  string                 `json:"plan_id,omitempty"`
	ActionID string                `json:"action_id,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Sink receives events for every topic it is subscribed to. A sink must
// not block for long; the bus itself never blocks on a sink — see
// FanOutSink for how a slow sink is isolated behind its own queue.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
	Close() error
}

// Bus fans events out to a single configured sink (itself normally a
// FanOutSink wrapping several), assigning monotone ids and timestamps.
type Bus struct {
	sink   Sink
	logger zerolog.Logger
	mu     sync.Mutex
	lastTS time.Time
}

// New creates a Bus delivering to sink.
func New(sink Sink, logger zerolog.Logger) *Bus {
	return &Bus{sink: sink, logger: logger.With().Str("component", "eventbus").Logger()}
}

// Emit publishes ev onto topic. Emit is non-blocking from the caller's
// point of view: delivery happens synchronously into the sink's own
// bounded queue, which never blocks (see BoundedQueue).
func (b *Bus) Emit(ctx context.Context, topic Topic, kind string, planID, actionID string, payload map[string]interface{}) {
	if !topic.IsValid() {
		b.logger.Warn().Str("topic", string(topic)).Msg("dropped event for unknown topic")
		return
	}

	ev := Event{
		ID:       uuid.New().String(),
		TS:       b.monotoneNow(),
		Topic:    topic,
		Kind:     kind,
		PlanID:   planID,
		ActionID: actionID,
		Payload:  payload,
	}

	if err := b.sink.Deliver(ctx, ev); err != nil {
		b.logger.Warn().Err(err).Str("topic", string(topic)).Str("kind", kind).Msg("event delivery failed")
	}
}

// monotoneNow returns a timestamp guaranteed non-decreasing across
// successive calls, satisfying the event log's monotonic ts requirement
// even under clock skew or rapid back-to-back emits.
func (b *Bus) monotoneNow() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(b.lastTS) {
		now = b.lastTS.Add(time.Nanosecond)
	}
	b.lastTS = now
	return now
}

// Close closes the underlying sink.
func (b *Bus) Close() error { return b.sink.Close() }
