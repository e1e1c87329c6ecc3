// Package trigger implements the reactive trigger daemon (component C9):
// condition watchers (cron, interval, once, filesystem, process, resource,
// and composite combinators), a priority fire scheduler, a resource-lock
// conflict resolver, a session-context propagator binding fired plans back
// to their originating trigger event, and a persistent trigger store that
// reconstructs active watchers on daemon boot.
package trigger
