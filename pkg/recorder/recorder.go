package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/store"
)

// session is the in-memory mirror of one active recording, kept so
// Capture can append without a read-modify-write round trip to the store
// on every call.
type session struct {
	mu      sync.Mutex
	entries []Entry
}

// Recorder captures every plan executed while a named session is active,
// one row per session in the store's recordings table, adapted from
// pkg/trigger's pattern of keeping live state in memory and persisting it
// on every mutation so a restart can recover from the store alone.
type Recorder struct {
	store store.Store

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Recorder backed by st.
func New(st store.Store) *Recorder {
	return &Recorder{store: st, sessions: make(map[string]*session)}
}

// Start opens a new named recording session with the given id.
func (r *Recorder) Start(ctx context.Context, id, name string) error {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("recording %q is already active", id)
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	rec := &store.RecordingRecord{
		ID:        id,
		Name:      name,
		StartedAt: now,
		Actions:   "[]",
		CreatedAt: now,
	}
	if err := r.store.CreateRecording(ctx, rec); err != nil {
		return fmt.Errorf("failed to start recording %q: %w", id, err)
	}

	r.mu.Lock()
	r.sessions[id] = &session{}
	r.mu.Unlock()
	return nil
}

// Active reports whether a recording with this id is currently capturing.
func (r *Recorder) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Capture appends one finished plan to the active session named by id.
// Callers that don't track session ids explicitly should call it once for
// every id returned by ActiveSessions.
func (r *Recorder) Capture(ctx context.Context, id string, e Entry) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active recording %q", id)
	}

	s.mu.Lock()
	e.Sequence = len(s.entries) + 1
	e.AddedAt = time.Now().UTC()
	s.entries = append(s.entries, e)
	blob, err := json.Marshal(s.entries)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal recording %q entries: %w", id, err)
	}

	if err := r.store.UpdateRecordingActions(ctx, id, string(blob), nil); err != nil {
		return fmt.Errorf("failed to persist recording %q: %w", id, err)
	}
	return nil
}

// ActiveSessions returns the ids of every currently-active recording.
func (r *Recorder) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop closes a recording session, stamping its end time. The session
// remains in the store for replay; only its in-memory tracking is torn
// down.
func (r *Recorder) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active recording %q", id)
	}

	s.mu.Lock()
	blob, err := json.Marshal(s.entries)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal recording %q entries: %w", id, err)
	}

	now := time.Now().UTC()
	if err := r.store.UpdateRecordingActions(ctx, id, string(blob), &now); err != nil {
		return fmt.Errorf("failed to close recording %q: %w", id, err)
	}
	return nil
}

// Entries decodes every captured Entry for a recording, preferring the
// in-memory copy of an active session and falling back to the store.
func (r *Recorder) Entries(ctx context.Context, id string) ([]Entry, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]Entry, len(s.entries))
		copy(out, s.entries)
		return out, nil
	}

	rec, err := r.store.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeEntries(rec.Actions)
}

func decodeEntries(blob string) ([]Entry, error) {
	var entries []Entry
	if blob == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, fmt.Errorf("failed to decode recording entries: %w", err)
	}
	return entries, nil
}
