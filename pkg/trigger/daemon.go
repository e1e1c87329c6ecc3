package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/scheduler"
	"github.com/agentforge/agentd/pkg/store"
	"github.com/agentforge/agentd/pkg/telemetry"
)

// triggerConfig is everything about a Definition beyond what
// store.TriggerRecord's own columns carry; it round-trips through
// TriggerRecord.Config as a JSON blob.
type triggerConfig struct {
	Condition      Condition              `json:"condition"`
	Priority       int                    `json:"priority"`
	PlanTemplate   map[string]interface{} `json:"plan_template"`
	ResourceLock   string                 `json:"resource_lock,omitempty"`
	ConflictPolicy ConflictPolicy         `json:"conflict_policy,omitempty"`
	FireCount      int                    `json:"fire_count"`
}

// runningTrigger is the daemon's in-memory bookkeeping for one active
// trigger.
type runningTrigger struct {
	def     *Definition
	watcher Watcher
}

// Daemon owns every registered trigger's watcher instance, the priority
// fire scheduler, the conflict resolver and the session propagator, and
// persists trigger definitions so they survive a restart (spec.md §4.9).
type Daemon struct {
	store     store.Store
	sched     *scheduler.Executor
	fireSched *FireScheduler
	conflicts *ConflictResolver
	sessions  *SessionPropagator
	bus       *eventbus.Bus
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics

	conflictTimeout time.Duration

	mu       sync.Mutex
	running  map[string]*runningTrigger
	cancel   context.CancelFunc
}

// NewDaemon builds a trigger Daemon. Call Boot to reconstruct watchers
// from the store and Run to start the fire-scheduler worker loop.
func NewDaemon(st store.Store, sched *scheduler.Executor, bus *eventbus.Bus, logger *telemetry.Logger, metrics *telemetry.Metrics) *Daemon {
	d := &Daemon{
		store:           st,
		sched:           sched,
		sessions:        NewSessionPropagator(),
		bus:             bus,
		logger:          logger,
		metrics:         metrics,
		conflictTimeout: 30 * time.Second,
		running:         make(map[string]*runningTrigger),
	}
	d.conflicts = NewConflictResolver(d.preempt)
	d.fireSched = NewFireScheduler(d.dispatchFire)
	return d
}

func (d *Daemon) preempt(planID string) {
	_ = d.sched.Cancel(context.Background(), planID)
	d.emit("trigger_preempted", "", planID, nil)
}

// Run starts the fire scheduler's worker loop; it blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.fireSched.Run(runCtx)
}

// Boot reconstructs and activates every enabled trigger persisted in the
// store, per spec.md §3's "runtime watcher instance is created on daemon
// boot or on explicit activation".
func (d *Daemon) Boot(ctx context.Context) error {
	records, err := d.store.ListTriggers(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	for _, rec := range records {
		def, err := decodeTriggerRecord(rec)
		if err != nil {
			d.logf("failed to decode persisted trigger %s: %v", rec.ID, err)
			continue
		}
		if err := d.activate(ctx, def); err != nil {
			d.logf("failed to activate trigger %s on boot: %v", rec.ID, err)
		}
	}
	return nil
}

// Register persists a new trigger definition in state StateInactive. It
// does not start a watcher; call Activate for that.
func (d *Daemon) Register(ctx context.Context, def *Definition) error {
	def.State = StateInactive
	rec, err := encodeTriggerRecord(def)
	if err != nil {
		return err
	}
	return d.store.CreateTrigger(ctx, rec)
}

// Activate starts def's watcher and marks it active, persisting the
// transition. A trigger in state inactive must not register a watcher
// until this is called (spec.md §3's invariant).
func (d *Daemon) Activate(ctx context.Context, def *Definition) error {
	if err := d.activate(ctx, def); err != nil {
		return err
	}
	now := time.Now().UTC()
	def.EnabledAt = &now
	return d.store.UpdateTriggerState(ctx, def.TriggerID, true, def.Health.ConsecutiveFailures, def.LastFiredAt)
}

func (d *Daemon) activate(ctx context.Context, def *Definition) error {
	watcher, err := BuildWatcher(def.TriggerID, def.Condition)
	if err != nil {
		return err
	}

	def.State = StateActive
	d.mu.Lock()
	d.running[def.TriggerID] = &runningTrigger{def: def, watcher: watcher}
	d.mu.Unlock()

	return watcher.Start(ctx, func(ev Event) {
		ev.TriggerID = def.TriggerID
		d.fireSched.Enqueue(def, ev)
	})
}

// Deactivate stops def's watcher and marks it disabled, atomically from
// the caller's point of view (spec.md §4.9: "deleting or deactivating a
// trigger atomically stops its watcher").
func (d *Daemon) Deactivate(ctx context.Context, triggerID string) error {
	d.mu.Lock()
	rt, ok := d.running[triggerID]
	delete(d.running, triggerID)
	d.mu.Unlock()

	if ok {
		if err := rt.watcher.Stop(); err != nil {
			return err
		}
		rt.def.State = StateDisabled
	}
	return d.store.UpdateTriggerState(ctx, triggerID, false, 0, nil)
}

// Delete deactivates and permanently removes a trigger.
func (d *Daemon) Delete(ctx context.Context, triggerID string) error {
	_ = d.Deactivate(ctx, triggerID)
	return d.store.DeleteTrigger(ctx, triggerID)
}

// dispatchFire is the FireScheduler's dispatch callback: it consults the
// conflict resolver, builds the fired plan from the trigger's template,
// submits it through the scheduler, binds the session context, and tracks
// health.
func (d *Daemon) dispatchFire(ctx context.Context, def *Definition, ev Event) {
	planID := fmt.Sprintf("trigger-%s-%d", def.TriggerID, ev.FiredAt.UnixNano())

	if def.ResourceLock != "" {
		result := d.conflicts.Acquire(def.ResourceLock, planID, def.Priority, def.ConflictPolicy, d.conflictTimeout)
		switch result {
		case AcquireRejected:
			d.emit("trigger_rejected", def.TriggerID, "", map[string]interface{}{"resource": def.ResourceLock})
			if d.metrics != nil {
				d.metrics.RecordConflictReject(def.ResourceLock, string(def.ConflictPolicy))
			}
			return
		case AcquireTimedOut:
			d.recordFailure(ctx, def, plan.NewTransientError(plan.CodeConflictRejected, "timed out waiting for resource lock", nil))
			return
		}
	}

	p, err := buildFiredPlan(planID, def, ev)
	if err != nil {
		d.recordFailure(ctx, def, err)
		if def.ResourceLock != "" {
			d.conflicts.Release(def.ResourceLock)
		}
		return
	}

	if _, err := d.sched.Schedule(ctx, p, scheduler.ScheduleOptions{}); err != nil {
		d.recordFailure(ctx, def, err)
		if def.ResourceLock != "" {
			d.conflicts.Release(def.ResourceLock)
		}
		return
	}

	d.sessions.Bind(planID, def, ev)
	d.recordSuccess(ctx, def)
	if d.metrics != nil {
		d.metrics.RecordTriggerFire(def.TriggerID)
	}
	d.emit("trigger_fired", def.TriggerID, planID, map[string]interface{}{"event_type": ev.EventType})

	go d.releaseOnTermination(context.Background(), def.ResourceLock, planID)
}

// releaseOnTermination polls the fired plan's state until it reaches a
// terminal status, then releases the resource lock and unbinds the
// session context. A channel-based completion signal from the executor
// would avoid the poll, but Executor's public surface only exposes
// GetState; this stays a simple, low-frequency poll rather than adding a
// new cross-package notification path for one caller.
func (d *Daemon) releaseOnTermination(ctx context.Context, resource, planID string) {
	defer d.conflicts.Release(resource)
	defer d.sessions.Unbind(planID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		es, err := d.sched.GetState(ctx, planID)
		if err != nil {
			return
		}
		if es.PlanStatus.IsTerminal() {
			return
		}
	}
}

func (d *Daemon) recordSuccess(ctx context.Context, def *Definition) {
	now := time.Now().UTC()
	def.LastFiredAt = &now
	def.FireCount++
	def.Health.OK = true
	def.Health.ConsecutiveFailures = 0
	def.Health.LastError = ""
	d.persist(ctx, def)
}

func (d *Daemon) recordFailure(ctx context.Context, def *Definition, err error) {
	def.Health.OK = false
	def.Health.ConsecutiveFailures++
	def.Health.LastError = err.Error()
	d.emit("watcher_failed", def.TriggerID, "", map[string]interface{}{"error": err.Error()})

	if def.Health.ConsecutiveFailures >= HealthFailureThreshold {
		def.State = StateDisabled
		_ = d.Deactivate(ctx, def.TriggerID)
		d.emit("trigger_auto_disabled", def.TriggerID, "", map[string]interface{}{
			"consecutive_failures": def.Health.ConsecutiveFailures,
		})
		return
	}
	d.persist(ctx, def)
}

func (d *Daemon) persist(ctx context.Context, def *Definition) {
	if err := d.store.UpdateTriggerState(ctx, def.TriggerID, def.State == StateActive, def.Health.ConsecutiveFailures, def.LastFiredAt); err != nil {
		d.logf("failed to persist trigger %s state: %v", def.TriggerID, err)
	}
}

func (d *Daemon) emit(kind, triggerID, planID string, payload map[string]interface{}) {
	if d.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["trigger_id"] = triggerID
	d.bus.Emit(context.Background(), eventbus.TopicPlans, kind, planID, "", payload)
}

func (d *Daemon) logf(format string, args ...interface{}) {
	if d.logger == nil {
		return
	}
	d.logger.Errorf(format, args...)
}

// Sessions exposes the session propagator for external callers (e.g. an
// API surface wanting to show a plan's originating trigger event).
func (d *Daemon) Sessions() *SessionPropagator { return d.sessions }

// buildFiredPlan stamps def's plan_template with the id a fire needs and
// parses it into a concrete Plan. The template is "untyped" per spec.md
// §3 — it may or may not already carry a plan_id; the trigger's own
// generated id always wins so repeated fires of the same trigger never
// collide.
func buildFiredPlan(planID string, def *Definition, ev Event) (*plan.Plan, error) {
	raw := make(map[string]interface{}, len(def.PlanTemplate)+1)
	for k, v := range def.PlanTemplate {
		raw[k] = v
	}
	raw["plan_id"] = planID
	if _, ok := raw["protocol_version"]; !ok {
		raw["protocol_version"] = plan.CurrentProtocolVersion
	}
	return plan.Parse(raw)
}

func encodeTriggerRecord(def *Definition) (*store.TriggerRecord, error) {
	cfg := triggerConfig{
		Condition:      def.Condition,
		Priority:       def.Priority,
		PlanTemplate:   def.PlanTemplate,
		ResourceLock:   def.ResourceLock,
		ConflictPolicy: def.ConflictPolicy,
		FireCount:      def.FireCount,
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger config: %w", err)
	}
	return &store.TriggerRecord{
		ID:                  def.TriggerID,
		Name:                def.Name,
		Kind:                string(def.Condition.Kind),
		Config:              string(blob),
		Enabled:             def.State == StateActive,
		ConsecutiveFailures: def.Health.ConsecutiveFailures,
		LastFiredAt:         def.LastFiredAt,
	}, nil
}

// DefinitionFromRecord decodes a persisted TriggerRecord back into a
// Definition, for callers (e.g. the CLI's activate/deactivate commands)
// that look a trigger up by id before acting on it.
func DefinitionFromRecord(rec *store.TriggerRecord) (*Definition, error) {
	return decodeTriggerRecord(rec)
}

func decodeTriggerRecord(rec *store.TriggerRecord) (*Definition, error) {
	var cfg triggerConfig
	if err := json.Unmarshal([]byte(rec.Config), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode trigger config: %w", err)
	}
	state := StateInactive
	if rec.Enabled {
		state = StateActive
	}
	return &Definition{
		TriggerID:      rec.ID,
		Name:           rec.Name,
		Condition:      cfg.Condition,
		Priority:       cfg.Priority,
		PlanTemplate:   cfg.PlanTemplate,
		ResourceLock:   cfg.ResourceLock,
		ConflictPolicy: cfg.ConflictPolicy,
		State:          state,
		LastFiredAt:    rec.LastFiredAt,
		FireCount:      cfg.FireCount,
		Health: Health{
			OK:                  rec.ConsecutiveFailures == 0,
			ConsecutiveFailures: rec.ConsecutiveFailures,
		},
	}, nil
}
