// Package group implements the plan group executor (component C8):
// bounded-concurrency fan-out of N independent plans through the same
// scheduler.Executor, with aggregated results per spec.md §4.8.
package group
