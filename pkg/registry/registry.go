package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
)

// Factory lazily constructs a Provider on first use, so a module with a
// heavy or failure-prone init (opening a DB connection, spawning a WASM
// runtime) doesn't pay that cost, or block startup, until something
// actually dispatches to it.
type Factory func(ctx context.Context) (Provider, error)

// entry tracks one registered module's lazy-init state.
type entry struct {
	factory  Factory
	provider Provider
	initErr  error
}

// Registry holds module_id -> provider, with lazy initialization and
// per-provider availability tracking, per spec.md §4.5.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	bus     *eventbus.Bus
}

// NewRegistry creates an empty registry. bus may be nil, in which case
// registration/deregistration events are not emitted.
func NewRegistry(bus *eventbus.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		bus:     bus,
	}
}

// SetBus attaches or replaces the bus used for registration events, for
// callers that must construct the registry before the bus exists (e.g.
// when the bus's own sink chain includes a consumer that holds a
// reference back to this registry).
func (r *Registry) SetBus(bus *eventbus.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
}

// Register adds a module under moduleID, deferring construction to
// Get/Execute's first call. Re-registering an existing moduleID replaces it.
func (r *Registry) Register(moduleID string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[moduleID] = &entry{factory: factory}
	if r.bus != nil {
		r.bus.Emit(context.Background(), eventbus.TopicActions, "provider_registered", "", "",
			map[string]interface{}{"module_id": moduleID})
	}
}

// RegisterInstance registers an already-constructed provider, for tests or
// providers with no meaningful lazy-init step.
func (r *Registry) RegisterInstance(moduleID string, p Provider) {
	r.Register(moduleID, func(context.Context) (Provider, error) { return p, nil })
}

// Get returns moduleID's provider, initializing it on first access. A
// failed init is cached and surfaced as a provider_unavailable permanent
// error on every subsequent call until the module is re-registered.
func (r *Registry) Get(ctx context.Context, moduleID string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[moduleID]
	if !ok {
		return nil, plan.NewPermanentError(plan.CodeUnknownModule,
			fmt.Sprintf("module %q is not registered", moduleID), nil).WithResource(moduleID)
	}

	if e.provider != nil {
		return e.provider, nil
	}
	if e.initErr != nil {
		return nil, e.initErr
	}

	p, err := e.factory(ctx)
	if err != nil {
		e.initErr = plan.NewPermanentError(plan.CodeProviderUnavailable,
			fmt.Sprintf("module %q failed to initialize", moduleID), err).WithResource(moduleID)
		return nil, e.initErr
	}

	e.provider = p
	return p, nil
}

// Unregister removes moduleID, closing its provider if one was initialized.
func (r *Registry) Unregister(ctx context.Context, moduleID string) error {
	r.mu.Lock()
	e, ok := r.entries[moduleID]
	delete(r.entries, moduleID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if r.bus != nil {
		r.bus.Emit(ctx, eventbus.TopicActions, "provider_unregistered", "", "",
			map[string]interface{}{"module_id": moduleID})
	}
	if e.provider != nil {
		return e.provider.Close(ctx)
	}
	return nil
}

// ListManifests returns the manifest of every registered provider,
// initializing still-lazy entries through Get; entries whose init fails
// are left out. Used by introspection endpoints and the prompt
// generator's cache-invalidation sweep.
func (r *Registry) ListManifests(ctx context.Context) []ProviderManifest {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	manifests := make([]ProviderManifest, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		manifests = append(manifests, p.GetManifest())
	}
	return manifests
}

// ModuleIDs returns every registered module id, initialized or not.
func (r *Registry) ModuleIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Execute resolves moduleID and dispatches actionName to it. This is the
// single call the scheduler makes once the security pipeline has allowed
// an action.
func (r *Registry) Execute(ctx context.Context, moduleID, actionName string, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error) {
	p, err := r.Get(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	manifest := p.GetManifest()
	if _, ok := manifest.ActionByName(actionName); !ok {
		return nil, plan.NewPermanentError(plan.CodeUnknownAction,
			fmt.Sprintf("module %q has no action %q", moduleID, actionName), nil).
			WithResource(moduleID).WithOperation(actionName)
	}

	result, err := p.Execute(ctx, actionName, params, execCtx)
	if err != nil {
		return nil, plan.NewTransientError(plan.CodeProviderError,
			fmt.Sprintf("provider %q action %q failed", moduleID, actionName), err).
			WithResource(moduleID).WithOperation(actionName)
	}
	return result, nil
}

// Close closes every initialized provider, collecting the first error
// encountered but attempting to close the rest regardless.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	providers := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if e.provider != nil {
			providers = append(providers, e.provider)
		}
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
