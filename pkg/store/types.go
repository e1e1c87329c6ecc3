// Package store persists plan execution state, permission grants, trigger
// definitions and workflow recordings so the daemon can recover cleanly
// across restarts.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// TriggerRecord is the persisted shape of one trigger watcher definition.
// The watcher's concrete configuration (cron expression, path, composite
// clause, ...) travels as an opaque JSON blob so this package stays free of
// a dependency on pkg/trigger.
type TriggerRecord struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	Config              string     `json:"config"` // JSON blob
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFiredAt         *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// RecordingRecord is a captured plan-recording session. Actions is a JSON
// array of the plan.Action values observed during the session, in the
// order they were dispatched.
type RecordingRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Actions   string     `json:"actions"` // JSON blob
	CreatedAt time.Time  `json:"created_at"`
}

// AuditLogEntry is one durable entry in the security pipeline's audit
// trail, independent of any single plan's in-memory ExecutionState.AuditTrail.
type AuditLogEntry struct {
	ID      int64                  `json:"id"`
	TS      time.Time              `json:"ts"`
	Kind    string                 `json:"kind"`
	Actor   string                 `json:"actor"`
	Subject string                 `json:"subject"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Store is the persistence interface backing the plan state store,
// permission manager and trigger subsystem.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// ExecutionState operations
	SaveExecutionState(ctx context.Context, es *plan.ExecutionState) error
	GetExecutionState(ctx context.Context, planID string) (*plan.ExecutionState, error)
	ListExecutionStates(ctx context.Context, status *plan.PlanStatus, limit, offset int) ([]*plan.ExecutionState, error)
	DeleteExecutionState(ctx context.Context, planID string) error

	// PermissionGrant operations (permanent-scope grants only; session
	// grants stay in-memory in the permission manager)
	UpsertPermissionGrant(ctx context.Context, g *plan.PermissionGrant) error
	GetPermissionGrant(ctx context.Context, moduleID, permissionID string) (*plan.PermissionGrant, error)
	ListPermissionGrants(ctx context.Context, moduleID string) ([]*plan.PermissionGrant, error)
	RevokePermissionGrant(ctx context.Context, moduleID, permissionID string) error
	DeleteExpiredPermissionGrants(ctx context.Context, now time.Time) (int64, error)

	// Trigger operations
	CreateTrigger(ctx context.Context, t *TriggerRecord) error
	GetTrigger(ctx context.Context, id string) (*TriggerRecord, error)
	ListTriggers(ctx context.Context, enabledOnly bool) ([]*TriggerRecord, error)
	UpdateTriggerState(ctx context.Context, id string, enabled bool, consecutiveFailures int, lastFiredAt *time.Time) error
	DeleteTrigger(ctx context.Context, id string) error

	// Recording operations
	CreateRecording(ctx context.Context, r *RecordingRecord) error
	UpdateRecordingActions(ctx context.Context, id string, actionsJSON string, endedAt *time.Time) error
	GetRecording(ctx context.Context, id string) (*RecordingRecord, error)
	ListRecordings(ctx context.Context, limit, offset int) ([]*RecordingRecord, error)
	DeleteRecording(ctx context.Context, id string) error

	// Audit log operations
	AppendAuditLog(ctx context.Context, entry *AuditLogEntry) error
	ListAuditLog(ctx context.Context, kind *string, limit, offset int) ([]*AuditLogEntry, error)

	// Backup/restore
	Backup(ctx context.Context, destPath string) error
	Restore(ctx context.Context, srcPath string) error

	HealthCheck(ctx context.Context) error
}
