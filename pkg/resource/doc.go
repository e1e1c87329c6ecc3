// Package resource gates concurrent action execution with a per-module
// counting semaphore (component C6): every module gets a default
// concurrency cap, with optional overrides, and acquire/release is
// symmetric across every exit path of an execution attempt.
package resource
