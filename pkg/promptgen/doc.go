// Package promptgen implements component C11: given the set of
// registered module manifests, the active permission profile and each
// provider's context snippet, it produces a deterministic system prompt
// in either machine (JSON) or text form. Per-action params schemas are
// cached and invalidated on module (de)registration events from the
// event bus.
package promptgen
