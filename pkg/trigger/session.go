package trigger

import "sync"

// SessionPropagator binds a dispatched plan id to the trigger event that
// fired it, per spec.md §4.9. Entries are removed when the plan
// terminates (the daemon calls Unbind from its own completion hook).
type SessionPropagator struct {
	mu       sync.Mutex
	sessions map[string]SessionContext
}

// NewSessionPropagator builds an empty propagator.
func NewSessionPropagator() *SessionPropagator {
	return &SessionPropagator{sessions: make(map[string]SessionContext)}
}

// Bind records that planID originated from trigger.
func (p *SessionPropagator) Bind(planID string, trigger *Definition, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[planID] = SessionContext{
		TriggerID: trigger.TriggerID,
		EventType: event.EventType,
		FiredAt:   event.FiredAt,
		Payload:   event.Payload,
	}
}

// Get returns planID's originating trigger event, if any.
func (p *SessionPropagator) Get(planID string) (SessionContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sc, ok := p.sessions[planID]
	return sc, ok
}

// Unbind removes planID's session context, called on plan termination.
func (p *SessionPropagator) Unbind(planID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, planID)
}
