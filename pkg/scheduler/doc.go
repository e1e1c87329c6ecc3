// Package scheduler implements the DAG executor, state store bridge,
// retry/backoff, rollback engine and approval gate (component C7): it
// walks a validated plan wave by wave, dispatching each ready action
// through the security guard and module registry, persisting
// ExecutionState transitions as they happen.
package scheduler
