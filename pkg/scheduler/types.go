package scheduler

import (
	"time"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/registry"
	"github.com/agentforge/agentd/pkg/resource"
	"github.com/agentforge/agentd/pkg/security"
	"github.com/agentforge/agentd/pkg/store"
	"github.com/agentforge/agentd/pkg/telemetry"
)

// ScheduleOptions controls how one plan run is carried out.
type ScheduleOptions struct {
	// User identifies who submitted the run, for the audit trail.
	User string

	// DryRun simulates every dispatch instead of calling the registry,
	// recording each action as succeeded with its would-be params as
	// the result.
	DryRun bool

	// Delay defers the start of execution.
	Delay time.Duration

	// WorkingDirectory is handed to every ExecutionContext.
	WorkingDirectory string
}

// ApprovalOutcome is the resume decision delivered to a suspended action.
type ApprovalOutcome string

const (
	ApprovalApprove ApprovalOutcome = "approve"
	ApprovalReject  ApprovalOutcome = "reject"
)

// ApprovalDecision is what Resume delivers to a waiting action.
type ApprovalDecision struct {
	Outcome       ApprovalOutcome
	EditedParams  map[string]interface{}
}

// RollbackDepthCap bounds the number of compensating actions dispatched
// within a single run, per spec.md §4.7 ("depth cap (>= 5) prevents
// chains"). Rollback actions themselves never trigger further rollback
// (enforced via Action.IsRollbackAction), so this cap only guards against
// a plan author naming many independent on_error=rollback actions.
const RollbackDepthCap = 5

// Dependencies bundles everything the executor dispatches actions
// through. Registry and Limiter are required for non-dry-run dispatch
// (without them dispatch reports internal_error); every other field may
// be left nil, and its absence degrades gracefully (no tracing, no
// metrics) rather than panicking.
type Dependencies struct {
	Registry *registry.Registry
	Pipeline *security.Pipeline
	Limiter  *resource.Limiter
	Store    store.Store
	Bus      *eventbus.Bus

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// PermissionProfile names the active profile for the security
	// pipeline's ScanContext; purely informational for scanners that
	// branch on it.
	PermissionProfile string
}
