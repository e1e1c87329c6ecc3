// Package registry implements module registry and provider dispatch
// (component C5): module_id -> Provider with lazy, failure-cached
// initialization, behind a single uniform dispatch interface regardless of
// whether the provider is a native Go value (native.go) or a wazero-hosted
// WASM module (wasm.go, bridge.go, manifest.go, capabilities.go).
package registry
