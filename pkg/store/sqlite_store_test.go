package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return s
}

func TestStoreLifecycle(t *testing.T) {
	s, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := s.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	tables := []string{"schema_version", "execution_states", "plan_actions", "permission_grants", "triggers", "recordings", "audit_log"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestExecutionStateRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	p := &plan.Plan{
		PlanID:          "plan-1",
		ProtocolVersion: plan.CurrentProtocolVersion,
		Actions: []plan.Action{
			{ID: "a1", Module: "fs", Action: "read_file"},
			{ID: "a2", Module: "fs", Action: "write_file", DependsOn: []string{"a1"}},
		},
	}
	es := plan.NewExecutionState(p)
	es.Actions["a1"].Status = plan.ActionStatusSucceeded
	es.Results["a1"] = map[string]interface{}{"content": "hello"}
	es.AppendAudit(plan.AuditActionSucceeded, "scheduler", "a1", nil)

	if err := s.SaveExecutionState(ctx, es); err != nil {
		t.Fatalf("failed to save execution state: %v", err)
	}

	got, err := s.GetExecutionState(ctx, "plan-1")
	if err != nil {
		t.Fatalf("failed to get execution state: %v", err)
	}

	if got.PlanStatus != plan.PlanStatusPending {
		t.Errorf("expected pending status, got %s", got.PlanStatus)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(got.Actions))
	}
	if got.Actions["a1"].Status != plan.ActionStatusSucceeded {
		t.Errorf("expected a1 succeeded, got %s", got.Actions["a1"].Status)
	}
	if len(got.AuditTrail) != 1 {
		t.Errorf("expected 1 audit event, got %d", len(got.AuditTrail))
	}

	// Update and re-save, confirm the action rows are replaced, not duplicated.
	es.Actions["a2"].Status = plan.ActionStatusSucceeded
	es.PlanStatus = plan.PlanStatusCompleted
	if err := s.SaveExecutionState(ctx, es); err != nil {
		t.Fatalf("failed to re-save execution state: %v", err)
	}
	got, err = s.GetExecutionState(ctx, "plan-1")
	if err != nil {
		t.Fatalf("failed to get execution state after update: %v", err)
	}
	if got.PlanStatus != plan.PlanStatusCompleted {
		t.Errorf("expected completed status, got %s", got.PlanStatus)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("expected 2 actions after update, got %d", len(got.Actions))
	}

	list, err := s.ListExecutionStates(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list execution states: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 execution state, got %d", len(list))
	}

	if err := s.DeleteExecutionState(ctx, "plan-1"); err != nil {
		t.Fatalf("failed to delete execution state: %v", err)
	}
	if _, err := s.GetExecutionState(ctx, "plan-1"); err == nil {
		t.Error("expected error getting deleted execution state")
	}
}

func TestPermissionGrantCRUD(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	expired := now.Add(-time.Hour)

	grant := &plan.PermissionGrant{
		PermissionID: "fs.write",
		ModuleID:     "fs",
		Scope:        plan.GrantScopePermanent,
		GrantedAt:    now,
		RiskLevel:    plan.RiskMedium,
	}
	if err := s.UpsertPermissionGrant(ctx, grant); err != nil {
		t.Fatalf("failed to upsert grant: %v", err)
	}

	got, err := s.GetPermissionGrant(ctx, "fs", "fs.write")
	if err != nil {
		t.Fatalf("failed to get grant: %v", err)
	}
	if got.Scope != plan.GrantScopePermanent {
		t.Errorf("expected permanent scope, got %s", got.Scope)
	}

	expiredGrant := &plan.PermissionGrant{
		PermissionID: "fs.delete",
		ModuleID:     "fs",
		Scope:        plan.GrantScopePermanent,
		GrantedAt:    now,
		ExpiresAt:    &expired,
		RiskLevel:    plan.RiskHigh,
	}
	if err := s.UpsertPermissionGrant(ctx, expiredGrant); err != nil {
		t.Fatalf("failed to upsert expired grant: %v", err)
	}

	grants, err := s.ListPermissionGrants(ctx, "fs")
	if err != nil {
		t.Fatalf("failed to list grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}

	removed, err := s.DeleteExpiredPermissionGrants(ctx, now)
	if err != nil {
		t.Fatalf("failed to delete expired grants: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 expired grant removed, got %d", removed)
	}

	if err := s.RevokePermissionGrant(ctx, "fs", "fs.write"); err != nil {
		t.Fatalf("failed to revoke grant: %v", err)
	}
	if _, err := s.GetPermissionGrant(ctx, "fs", "fs.write"); err == nil {
		t.Error("expected error getting revoked grant")
	}
}

func TestTriggerCRUD(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	trig := &TriggerRecord{
		ID:        "trig-1",
		Name:      "nightly-backup",
		Kind:      "cron",
		Config:    `{"expr":"0 2 * * *"}`,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateTrigger(ctx, trig); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	got, err := s.GetTrigger(ctx, "trig-1")
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if got.Kind != "cron" {
		t.Errorf("expected kind cron, got %s", got.Kind)
	}

	fired := now.Add(time.Minute)
	if err := s.UpdateTriggerState(ctx, "trig-1", false, 2, &fired); err != nil {
		t.Fatalf("failed to update trigger state: %v", err)
	}

	enabled, err := s.ListTriggers(ctx, true)
	if err != nil {
		t.Fatalf("failed to list enabled triggers: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected 0 enabled triggers after disable, got %d", len(enabled))
	}

	all, err := s.ListTriggers(ctx, false)
	if err != nil {
		t.Fatalf("failed to list all triggers: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(all))
	}
	if all[0].ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", all[0].ConsecutiveFailures)
	}

	if err := s.DeleteTrigger(ctx, "trig-1"); err != nil {
		t.Fatalf("failed to delete trigger: %v", err)
	}
}

func TestRecordingCRUD(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	rec := &RecordingRecord{
		ID:        "rec-1",
		Name:      "onboarding-session",
		StartedAt: now,
		Actions:   `[]`,
		CreatedAt: now,
	}
	if err := s.CreateRecording(ctx, rec); err != nil {
		t.Fatalf("failed to create recording: %v", err)
	}

	ended := now.Add(time.Minute)
	actions := `[{"id":"p1_a1","module":"fs","action":"read_file"}]`
	if err := s.UpdateRecordingActions(ctx, "rec-1", actions, &ended); err != nil {
		t.Fatalf("failed to update recording: %v", err)
	}

	got, err := s.GetRecording(ctx, "rec-1")
	if err != nil {
		t.Fatalf("failed to get recording: %v", err)
	}
	if got.Actions != actions {
		t.Errorf("expected actions %q, got %q", actions, got.Actions)
	}
	if got.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}

	list, err := s.ListRecordings(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list recordings: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(list))
	}

	if err := s.DeleteRecording(ctx, "rec-1"); err != nil {
		t.Fatalf("failed to delete recording: %v", err)
	}
}

func TestAuditLog(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	entry := &AuditLogEntry{
		TS:      time.Now().UTC(),
		Kind:    plan.AuditPermissionGranted,
		Actor:   "security",
		Subject: "fs.write",
		Payload: map[string]interface{}{"risk": "medium"},
	}
	if err := s.AppendAuditLog(ctx, entry); err != nil {
		t.Fatalf("failed to append audit log: %v", err)
	}

	kind := plan.AuditPermissionGranted
	list, err := s.ListAuditLog(ctx, &kind, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit log: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(list))
	}
	if list[0].Payload["risk"] != "medium" {
		t.Errorf("expected risk medium in payload, got %v", list[0].Payload)
	}
}

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agentd.db")
	backupPath := filepath.Join(dir, "agentd.backup.db")

	s, err := NewSQLiteStore(Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	trig := &TriggerRecord{ID: "t1", Name: "t", Kind: "once", Config: "{}", Enabled: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateTrigger(ctx, trig); err != nil {
		t.Fatalf("failed to seed trigger: %v", err)
	}

	if err := s.Backup(ctx, backupPath); err != nil {
		t.Fatalf("failed to back up store: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	restorePath := filepath.Join(dir, "agentd.restored.db")
	restored, err := NewSQLiteStore(Config{Path: restorePath})
	if err != nil {
		t.Fatalf("failed to create restore target store: %v", err)
	}
	if err := restored.Restore(ctx, backupPath); err != nil {
		t.Fatalf("failed to restore store: %v", err)
	}
	if err := restored.Init(ctx); err != nil {
		t.Fatalf("failed to init restored store: %v", err)
	}
	defer restored.Close()

	got, err := restored.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to get trigger from restored store: %v", err)
	}
	if got.Name != "t" {
		t.Errorf("expected trigger name 't', got %q", got.Name)
	}
}
