package plan

import (
	"encoding/json"
	"time"
)

// CurrentProtocolVersion is the wire protocol version produced by this
// build. Plans submitted at an older version are promoted by Migrate.
const CurrentProtocolVersion = "2.0"

// ExecutionMode controls whether a plan's actions run strictly in wave
// order with a single action per wave or fan out across each wave.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// OnError selects what the executor does when an action terminates in
// failure.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
	OnErrorRollback OnError = "rollback"
)

// PlanStatus is the terminal-or-in-flight status of a whole plan.
type PlanStatus string

const (
	PlanStatusPending          PlanStatus = "pending"
	PlanStatusRunning          PlanStatus = "running"
	PlanStatusAwaitingApproval PlanStatus = "awaiting_approval"
	PlanStatusCompleted        PlanStatus = "completed"
	PlanStatusFailed           PlanStatus = "failed"
	PlanStatusCancelled        PlanStatus = "cancelled"
	PlanStatusPartial          PlanStatus = "partial"
)

// IsTerminal reports whether the plan status is a final state.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled, PlanStatusPartial:
		return true
	}
	return false
}

// ActionStatus is the per-action lifecycle status described in
// component C7: pending -> running -> {succeeded,failed,cancelled,awaiting_approval}.
type ActionStatus string

const (
	ActionStatusPending          ActionStatus = "pending"
	ActionStatusRunning          ActionStatus = "running"
	ActionStatusSucceeded        ActionStatus = "succeeded"
	ActionStatusFailed           ActionStatus = "failed"
	ActionStatusSkipped          ActionStatus = "skipped"
	ActionStatusAwaitingApproval ActionStatus = "awaiting_approval"
	ActionStatusCancelled        ActionStatus = "cancelled"
)

// IsTerminal reports whether the action status is a final state.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionStatusSucceeded, ActionStatusFailed, ActionStatusSkipped, ActionStatusCancelled:
		return true
	}
	return false
}

// RetryPolicy governs exponential-backoff retry for an action whose
// on_error is "retry".
type RetryPolicy struct {
	MaxAttempts     int     `json:"max_attempts" yaml:"max_attempts"`
	BackoffInitialS float64 `json:"backoff_initial_s" yaml:"backoff_initial_s"`
	BackoffFactor   float64 `json:"backoff_factor" yaml:"backoff_factor"`
	MaxBackoffS     float64 `json:"max_backoff_s" yaml:"max_backoff_s"`
}

// DefaultRetryPolicy mirrors the teacher's conservative defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BackoffInitialS: 1,
		BackoffFactor:   2,
		MaxBackoffS:     30,
	}
}

// RollbackSpec names the compensating action to run, and the param
// overlay merged on top of the failed action's own rollback params.
type RollbackSpec struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Action is one node of a plan's dependency DAG.
type Action struct {
	ID                 string                 `json:"id"`
	Module             string                 `json:"module"`
	Action             string                 `json:"action"`
	Params             map[string]interface{} `json:"params,omitempty"`
	DependsOn          []string               `json:"depends_on,omitempty"`
	OnError            OnError                `json:"on_error,omitempty"`
	Retry              *RetryPolicy           `json:"retry,omitempty"`
	Rollback           *RollbackSpec          `json:"rollback,omitempty"`
	TimeoutS           float64                `json:"timeout_s,omitempty"`
	PermissionRequired []string               `json:"permission_required,omitempty"`
	RequiresApproval   bool                   `json:"requires_approval,omitempty"`
	Sensitive          bool                   `json:"sensitive,omitempty"`

	// isRollback marks an action that was synthesised and dispatched by
	// the rollback engine; such actions never themselves trigger rollback.
	isRollback bool
}

// IsRollbackAction reports whether this action instance was generated by
// the rollback engine rather than submitted as part of the original plan.
func (a *Action) IsRollbackAction() bool { return a.isRollback }

// MarkRollback flags the action as rollback-originated.
func (a *Action) MarkRollback() { a.isRollback = true }

// EffectiveRetry returns the action's retry policy, or the plan-level
// default when the action did not specify one.
func (a *Action) EffectiveRetry(planDefault RetryPolicy) RetryPolicy {
	if a.Retry != nil {
		return *a.Retry
	}
	return planDefault
}

// EffectiveTimeout returns the action's timeout, or the plan-level
// default when the action left it unset.
func (a *Action) EffectiveTimeout(planDefault float64) float64 {
	if a.TimeoutS > 0 {
		return a.TimeoutS
	}
	return planDefault
}

// Plan is the immutable, submitted unit of work. Once validated it is
// never mutated; mutation happens on its ExecutionState instead.
type Plan struct {
	PlanID          string                 `json:"plan_id"`
	ProtocolVersion string                 `json:"protocol_version"`
	Description     string                 `json:"description,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ExecutionMode   ExecutionMode          `json:"execution_mode,omitempty"`
	Actions         []Action               `json:"actions"`
	Strict          bool                   `json:"strict,omitempty"`
	RetryDefaults   *RetryPolicy           `json:"retry_defaults,omitempty"`
	TimeoutSeconds  float64                `json:"timeout_seconds,omitempty"`
}

// RetryDefaultsOrDefault returns the plan's retry defaults, falling back
// to the package default when unset.
func (p *Plan) RetryDefaultsOrDefault() RetryPolicy {
	if p.RetryDefaults != nil {
		return *p.RetryDefaults
	}
	return DefaultRetryPolicy()
}

// ActionByID looks up an action by id, returning nil if absent.
func (p *Plan) ActionByID(id string) *Action {
	for i := range p.Actions {
		if p.Actions[i].ID == id {
			return &p.Actions[i]
		}
	}
	return nil
}

// ErrorRecord is the persisted, JSON-serialisable shape of an action or
// plan-level error, independent of the in-process *EngineError type.
type ErrorRecord struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Recovery  *RecoveryHint          `json:"recovery,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewErrorRecord converts an EngineError into its persisted form.
func NewErrorRecord(err *EngineError) ErrorRecord {
	return ErrorRecord{
		Class:     err.Class,
		Code:      err.Code,
		Message:   err.Message,
		Recovery:  err.Recovery,
		Details:   err.Details,
		Timestamp: time.Now().UTC(),
	}
}

// ActionState is the per-action runtime record held in ExecutionState.
type ActionState struct {
	Status          ActionStatus `json:"status"`
	Attempt         int          `json:"attempt"`
	FirstStartedAt  *time.Time   `json:"first_started_at,omitempty"`
	LastFinishedAt  *time.Time   `json:"last_finished_at,omitempty"`
	Result          interface{}  `json:"result,omitempty"`
	ErrorRecord     *ErrorRecord `json:"error_record,omitempty"`
}

// AuditEvent is one entry of an ExecutionState's audit trail.
type AuditEvent struct {
	TS      time.Time              `json:"ts"`
	Kind    string                 `json:"kind"`
	Actor   string                 `json:"actor"`
	Subject string                 `json:"subject"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Audit event kinds, per spec.md §3.
const (
	AuditActionStarted          = "action_started"
	AuditActionSucceeded        = "action_succeeded"
	AuditActionFailed           = "action_failed"
	AuditPermissionGranted      = "permission_granted"
	AuditPermissionRevoked      = "permission_revoked"
	AuditPermissionCheckFailed  = "permission_check_failed"
	AuditRateLimitExceeded      = "rate_limit_exceeded"
	AuditSensitiveActionInvoked = "sensitive_action_invoked"
	AuditScanBlocked            = "scan_blocked"
	AuditRollbackExecuted       = "rollback_executed"
)

// ExecutionState is the full, persisted runtime record for one plan in
// flight. It is created by the executor on entry and mutated only by the
// executor (and the approval gate on resume).
type ExecutionState struct {
	PlanID      string                  `json:"plan_id"`
	PlanStatus  PlanStatus              `json:"plan_status"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
	Actions     map[string]*ActionState `json:"actions"`
	Results     map[string]interface{}  `json:"results"`
	Errors      map[string]ErrorRecord  `json:"errors"`
	AuditTrail  []AuditEvent            `json:"audit_trail"`
}

// NewExecutionState creates a fresh, pending ExecutionState for plan,
// with one pending ActionState per action.
func NewExecutionState(p *Plan) *ExecutionState {
	es := &ExecutionState{
		PlanID:     p.PlanID,
		PlanStatus: PlanStatusPending,
		StartedAt:  time.Now().UTC(),
		Actions:    make(map[string]*ActionState, len(p.Actions)),
		Results:    make(map[string]interface{}),
		Errors:     make(map[string]ErrorRecord),
	}
	for _, a := range p.Actions {
		es.Actions[a.ID] = &ActionState{Status: ActionStatusPending}
	}
	return es
}

// AppendAudit appends an audit event with the current timestamp.
func (es *ExecutionState) AppendAudit(kind, actor, subject string, payload map[string]interface{}) {
	es.AuditTrail = append(es.AuditTrail, AuditEvent{
		TS:      time.Now().UTC(),
		Kind:    kind,
		Actor:   actor,
		Subject: subject,
		Payload: payload,
	})
}

// Snapshot returns a deep-enough copy for safe external consumption
// (group executor result aggregation, state-store reads).
func (es *ExecutionState) Snapshot() *ExecutionState {
	out := &ExecutionState{
		PlanID:     es.PlanID,
		PlanStatus: es.PlanStatus,
		StartedAt:  es.StartedAt,
		FinishedAt: es.FinishedAt,
		Actions:    make(map[string]*ActionState, len(es.Actions)),
		Results:    make(map[string]interface{}, len(es.Results)),
		Errors:     make(map[string]ErrorRecord, len(es.Errors)),
		AuditTrail: append([]AuditEvent(nil), es.AuditTrail...),
	}
	for k, v := range es.Actions {
		cp := *v
		out.Actions[k] = &cp
	}
	for k, v := range es.Results {
		out.Results[k] = v
	}
	for k, v := range es.Errors {
		out.Errors[k] = v
	}
	return out
}

// RiskLevel classifies a permission grant or scan verdict's severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GrantScope controls a permission grant's lifetime.
type GrantScope string

const (
	GrantScopeSession   GrantScope = "session"
	GrantScopePermanent GrantScope = "permanent"
)

// PermissionGrant records that a module has been given a dotted-path
// permission, for the duration of the session or permanently.
type PermissionGrant struct {
	PermissionID string     `json:"permission_id"`
	ModuleID     string     `json:"module_id"`
	Scope        GrantScope `json:"scope"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RiskLevel    RiskLevel  `json:"risk_level"`
}

// Expired reports whether the grant's expiry (if any) has passed.
func (g *PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// MarshalJSON round-trips cleanly even though Action carries an
// unexported isRollback field.
func (a Action) MarshalJSON() ([]byte, error) {
	type alias Action
	return json.Marshal(alias(a))
}
