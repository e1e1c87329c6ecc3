package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/agentforge/agentd/pkg/plan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs pending schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new serializable transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error { return tx.Commit() }

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error { return tx.Rollback() }

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Backup writes a consistent snapshot of the database to destPath using
// SQLite's online VACUUM INTO, so it is safe to call against a live store.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}

// Restore replaces the current database file with srcPath's contents. The
// store must be closed and re-initialized by the caller afterward.
func (s *SQLiteStore) Restore(_ context.Context, srcPath string) error {
	if s.db != nil {
		return fmt.Errorf("cannot restore while store is open; call Close first")
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to restore database file: %w", err)
	}
	return nil
}

// SaveExecutionState upserts the plan row and replaces its per-action rows,
// in one transaction.
func (s *SQLiteStore) SaveExecutionState(ctx context.Context, es *plan.ExecutionState) error {
	results, err := json.Marshal(es.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	errs, err := json.Marshal(es.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	trail, err := json.Marshal(es.AuditTrail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_states (plan_id, plan_status, started_at, finished_at, results, errors, audit_trail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(plan_id) DO UPDATE SET
			plan_status = excluded.plan_status,
			finished_at = excluded.finished_at,
			results = excluded.results,
			errors = excluded.errors,
			audit_trail = excluded.audit_trail,
			updated_at = CURRENT_TIMESTAMP
	`, es.PlanID, es.PlanStatus, es.StartedAt, es.FinishedAt, results, errs, trail)
	if err != nil {
		return fmt.Errorf("failed to upsert execution state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_actions WHERE plan_id = ?`, es.PlanID); err != nil {
		return fmt.Errorf("failed to clear plan actions: %w", err)
	}

	for actionID, as := range es.Actions {
		result, err := json.Marshal(as.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal action result: %w", err)
		}
		var errorRecord []byte
		if as.ErrorRecord != nil {
			errorRecord, err = json.Marshal(as.ErrorRecord)
			if err != nil {
				return fmt.Errorf("failed to marshal action error: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_actions (plan_id, action_id, status, attempt, first_started_at, last_finished_at, result, error_record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, es.PlanID, actionID, as.Status, as.Attempt, as.FirstStartedAt, as.LastFinishedAt, result, errorRecord)
		if err != nil {
			return fmt.Errorf("failed to insert plan action %s: %w", actionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution state: %w", err)
	}
	return nil
}

// GetExecutionState reassembles an ExecutionState from its plan and action rows.
func (s *SQLiteStore) GetExecutionState(ctx context.Context, planID string) (*plan.ExecutionState, error) {
	es := &plan.ExecutionState{PlanID: planID}
	var results, errs, trail []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT plan_status, started_at, finished_at, results, errors, audit_trail
		FROM execution_states WHERE plan_id = ?
	`, planID).Scan(&es.PlanStatus, &es.StartedAt, &es.FinishedAt, &results, &errs, &trail)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution state not found: %s", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution state: %w", err)
	}

	if err := json.Unmarshal(results, &es.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	if err := json.Unmarshal(errs, &es.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode errors: %w", err)
	}
	if err := json.Unmarshal(trail, &es.AuditTrail); err != nil {
		return nil, fmt.Errorf("failed to decode audit trail: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, status, attempt, first_started_at, last_finished_at, result, error_record
		FROM plan_actions WHERE plan_id = ?
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan actions: %w", err)
	}
	defer rows.Close()

	es.Actions = make(map[string]*plan.ActionState)
	for rows.Next() {
		var actionID string
		as := &plan.ActionState{}
		var result, errorRecord []byte
		if err := rows.Scan(&actionID, &as.Status, &as.Attempt, &as.FirstStartedAt, &as.LastFinishedAt, &result, &errorRecord); err != nil {
			return nil, fmt.Errorf("failed to scan plan action: %w", err)
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &as.Result); err != nil {
				return nil, fmt.Errorf("failed to decode action result: %w", err)
			}
		}
		if len(errorRecord) > 0 {
			as.ErrorRecord = &plan.ErrorRecord{}
			if err := json.Unmarshal(errorRecord, as.ErrorRecord); err != nil {
				return nil, fmt.Errorf("failed to decode action error: %w", err)
			}
		}
		es.Actions[actionID] = as
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return es, nil
}

// ListExecutionStates lists plan rows' summary, optionally filtered by status.
func (s *SQLiteStore) ListExecutionStates(ctx context.Context, status *plan.PlanStatus, limit, offset int) ([]*plan.ExecutionState, error) {
	query := `SELECT plan_id FROM execution_states`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE plan_status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution states: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*plan.ExecutionState, 0, len(ids))
	for _, id := range ids {
		es, err := s.GetExecutionState(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, nil
}

// DeleteExecutionState removes a plan's state and its action rows (cascade).
func (s *SQLiteStore) DeleteExecutionState(ctx context.Context, planID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM execution_states WHERE plan_id = ?`, planID)
	if err != nil {
		return fmt.Errorf("failed to delete execution state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("execution state not found: %s", planID)
	}
	return nil
}

// UpsertPermissionGrant persists a permanent-scope grant.
func (s *SQLiteStore) UpsertPermissionGrant(ctx context.Context, g *plan.PermissionGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (module_id, permission_id, scope, granted_at, expires_at, risk_level)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id, permission_id) DO UPDATE SET
			scope = excluded.scope,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			risk_level = excluded.risk_level
	`, g.ModuleID, g.PermissionID, g.Scope, g.GrantedAt, g.ExpiresAt, g.RiskLevel)
	if err != nil {
		return fmt.Errorf("failed to upsert permission grant: %w", err)
	}
	return nil
}

// GetPermissionGrant retrieves a single grant.
func (s *SQLiteStore) GetPermissionGrant(ctx context.Context, moduleID, permissionID string) (*plan.PermissionGrant, error) {
	g := &plan.PermissionGrant{ModuleID: moduleID, PermissionID: permissionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, granted_at, expires_at, risk_level
		FROM permission_grants WHERE module_id = ? AND permission_id = ?
	`, moduleID, permissionID).Scan(&g.Scope, &g.GrantedAt, &g.ExpiresAt, &g.RiskLevel)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission grant not found: %s/%s", moduleID, permissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission grant: %w", err)
	}
	return g, nil
}

// ListPermissionGrants lists all grants held by a module.
func (s *SQLiteStore) ListPermissionGrants(ctx context.Context, moduleID string) ([]*plan.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, permission_id, scope, granted_at, expires_at, risk_level
		FROM permission_grants WHERE module_id = ?
	`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission grants: %w", err)
	}
	defer rows.Close()

	var out []*plan.PermissionGrant
	for rows.Next() {
		g := &plan.PermissionGrant{}
		if err := rows.Scan(&g.ModuleID, &g.PermissionID, &g.Scope, &g.GrantedAt, &g.ExpiresAt, &g.RiskLevel); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RevokePermissionGrant deletes a grant.
func (s *SQLiteStore) RevokePermissionGrant(ctx context.Context, moduleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM permission_grants WHERE module_id = ? AND permission_id = ?`, moduleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to revoke permission grant: %w", err)
	}
	return nil
}

// DeleteExpiredPermissionGrants removes grants whose expiry has passed.
func (s *SQLiteStore) DeleteExpiredPermissionGrants(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM permission_grants WHERE expires_at IS NOT NULL AND datetime(expires_at) <= datetime(?)
	`, now.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired permission grants: %w", err)
	}
	return result.RowsAffected()
}

// CreateTrigger persists a new trigger definition.
func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *TriggerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (id, name, kind, config, enabled, consecutive_failures, last_fired_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Kind, t.Config, t.Enabled, t.ConsecutiveFailures, t.LastFiredAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger by ID.
func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*TriggerRecord, error) {
	t := &TriggerRecord{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, kind, config, enabled, consecutive_failures, last_fired_at, created_at, updated_at
		FROM triggers WHERE id = ?
	`, id).Scan(&t.Name, &t.Kind, &t.Config, &t.Enabled, &t.ConsecutiveFailures, &t.LastFiredAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trigger not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}
	return t, nil
}

// ListTriggers lists triggers, optionally only the enabled ones, for
// reconstructing watchers on boot.
func (s *SQLiteStore) ListTriggers(ctx context.Context, enabledOnly bool) ([]*TriggerRecord, error) {
	query := `SELECT id, name, kind, config, enabled, consecutive_failures, last_fired_at, created_at, updated_at FROM triggers`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var out []*TriggerRecord
	for rows.Next() {
		t := &TriggerRecord{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind, &t.Config, &t.Enabled, &t.ConsecutiveFailures, &t.LastFiredAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTriggerState updates a trigger's enabled flag, failure streak and
// last-fired timestamp, without touching its configuration.
func (s *SQLiteStore) UpdateTriggerState(ctx context.Context, id string, enabled bool, consecutiveFailures int, lastFiredAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE triggers SET enabled = ?, consecutive_failures = ?, last_fired_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, enabled, consecutiveFailures, lastFiredAt, id)
	if err != nil {
		return fmt.Errorf("failed to update trigger state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("trigger not found: %s", id)
	}
	return nil
}

// DeleteTrigger removes a trigger definition.
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("trigger not found: %s", id)
	}
	return nil
}

// CreateRecording starts a new recording session row.
func (s *SQLiteStore) CreateRecording(ctx context.Context, r *RecordingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, name, started_at, ended_at, actions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.StartedAt, r.EndedAt, r.Actions, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// UpdateRecordingActions replaces the captured actions and, once the
// session is closed, stamps the end time.
func (s *SQLiteStore) UpdateRecordingActions(ctx context.Context, id string, actionsJSON string, endedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET actions = ?, ended_at = ? WHERE id = ?
	`, actionsJSON, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update recording: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}
	return nil
}

// GetRecording retrieves a recording session by ID.
func (s *SQLiteStore) GetRecording(ctx context.Context, id string) (*RecordingRecord, error) {
	r := &RecordingRecord{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, started_at, ended_at, actions, created_at
		FROM recordings WHERE id = ?
	`, id).Scan(&r.Name, &r.StartedAt, &r.EndedAt, &r.Actions, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return r, nil
}

// ListRecordings lists recording sessions, newest first.
func (s *SQLiteStore) ListRecordings(ctx context.Context, limit, offset int) ([]*RecordingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, started_at, ended_at, actions, created_at
		FROM recordings ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []*RecordingRecord
	for rows.Next() {
		r := &RecordingRecord{}
		if err := rows.Scan(&r.ID, &r.Name, &r.StartedAt, &r.EndedAt, &r.Actions, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecording removes a recording session.
func (s *SQLiteStore) DeleteRecording(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}
	return nil
}

// AppendAuditLog appends a durable audit entry.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	var payload []byte
	if entry.Payload != nil {
		var err error
		payload, err = json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, kind, actor, subject, payload)
		VALUES (?, ?, ?, ?, ?)
	`, entry.TS, entry.Kind, entry.Actor, entry.Subject, payload)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// ListAuditLog lists audit entries, newest first, optionally filtered by kind.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, kind *string, limit, offset int) ([]*AuditLogEntry, error) {
	query := `SELECT id, ts, kind, actor, subject, payload FROM audit_log`
	args := []interface{}{}
	if kind != nil {
		query += ` WHERE kind = ?`
		args = append(args, *kind)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditLogEntry
	for rows.Next() {
		e := &AuditLogEntry{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.Actor, &e.Subject, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
