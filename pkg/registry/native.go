package registry

import "context"

// ExecuteFunc is a single action's native Go implementation.
type ExecuteFunc func(ctx context.Context, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error)

// NativeProvider is a Provider built directly from Go values rather than a
// WASM module, for capabilities shipped in the same binary (e.g. the
// daemon's own filesystem or process modules).
type NativeProvider struct {
	manifest ProviderManifest
	snippet  string
	actions  map[string]ExecuteFunc
}

// NewNativeProvider creates a provider advertising manifest, with snippet
// inlined into the system prompt. Register action implementations with
// HandleFunc before returning it to a Registry.
func NewNativeProvider(manifest ProviderManifest, snippet string) *NativeProvider {
	return &NativeProvider{
		manifest: manifest,
		snippet:  snippet,
		actions:  make(map[string]ExecuteFunc),
	}
}

// HandleFunc binds actionName's implementation. actionName must already
// appear in the provider's manifest for Execute to be reachable through a
// Registry (registry.Execute checks the manifest first).
func (p *NativeProvider) HandleFunc(actionName string, fn ExecuteFunc) *NativeProvider {
	p.actions[actionName] = fn
	return p
}

// Execute runs actionName's bound handler.
func (p *NativeProvider) Execute(ctx context.Context, actionName string, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error) {
	fn, ok := p.actions[actionName]
	if !ok {
		return nil, errUnhandledAction(actionName)
	}
	return fn(ctx, params, execCtx)
}

// GetManifest returns the provider's manifest.
func (p *NativeProvider) GetManifest() ProviderManifest { return p.manifest }

// GetContextSnippet returns the prompt snippet configured at construction.
func (p *NativeProvider) GetContextSnippet() string { return p.snippet }

// Close is a no-op: native providers own no external resources by default.
func (p *NativeProvider) Close(ctx context.Context) error { return nil }

func errUnhandledAction(actionName string) error {
	return &unhandledActionError{actionName: actionName}
}

type unhandledActionError struct{ actionName string }

func (e *unhandledActionError) Error() string {
	return "no handler registered for action " + e.actionName
}
