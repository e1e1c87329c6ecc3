package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/store"
)

// PermissionManager tracks per-module dotted-path permission grants. Session
// grants live only in the mutex-guarded map; permanent grants are mirrored
// to store.Store so they survive a restart.
type PermissionManager struct {
	mu      sync.RWMutex
	session map[string]map[string]*plan.PermissionGrant // moduleID -> permissionID -> grant
	store   store.Store
}

// NewPermissionManager creates a manager backed by st. st may be nil, in
// which case permanent grants behave like session grants (in-memory only).
func NewPermissionManager(st store.Store) *PermissionManager {
	return &PermissionManager{
		session: make(map[string]map[string]*plan.PermissionGrant),
		store:   st,
	}
}

// LoadPermanentGrants reconstructs the in-memory view from the store on boot.
func (m *PermissionManager) LoadPermanentGrants(ctx context.Context, moduleIDs []string) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, moduleID := range moduleIDs {
		grants, err := m.store.ListPermissionGrants(ctx, moduleID)
		if err != nil {
			return fmt.Errorf("failed to load permanent grants for %s: %w", moduleID, err)
		}
		for _, g := range grants {
			m.put(g)
		}
	}
	return nil
}

func (m *PermissionManager) put(g *plan.PermissionGrant) {
	bucket, ok := m.session[g.ModuleID]
	if !ok {
		bucket = make(map[string]*plan.PermissionGrant)
		m.session[g.ModuleID] = bucket
	}
	bucket[g.PermissionID] = g
}

// Grant records that moduleID may exercise permissionID, for the given
// scope and risk level. Permanent grants are persisted synchronously.
func (m *PermissionManager) Grant(ctx context.Context, moduleID, permissionID string, scope plan.GrantScope, risk plan.RiskLevel, ttl time.Duration) error {
	g := &plan.PermissionGrant{
		PermissionID: permissionID,
		ModuleID:     moduleID,
		Scope:        scope,
		GrantedAt:    time.Now().UTC(),
		RiskLevel:    risk,
	}
	if ttl > 0 {
		expires := g.GrantedAt.Add(ttl)
		g.ExpiresAt = &expires
	}

	if scope == plan.GrantScopePermanent && m.store != nil {
		if err := m.store.UpsertPermissionGrant(ctx, g); err != nil {
			return fmt.Errorf("failed to persist permanent grant: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(g)
	return nil
}

// Revoke removes a grant, from memory and (if persisted) the store.
func (m *PermissionManager) Revoke(ctx context.Context, moduleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.session[moduleID]; ok {
		delete(bucket, permissionID)
	}

	if m.store != nil {
		if err := m.store.RevokePermissionGrant(ctx, moduleID, permissionID); err != nil {
			return fmt.Errorf("failed to revoke persisted grant: %w", err)
		}
	}
	return nil
}

// Check reports whether moduleID currently holds every permission in
// required, none of them expired.
func (m *PermissionManager) Check(moduleID string, required []string) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	bucket := m.session[moduleID]

	for _, permissionID := range required {
		g, ok := bucket[permissionID]
		if !ok || g.Expired(now) {
			return Deny("permission_manager", plan.CodePermissionNotGranted,
				fmt.Sprintf("module %q does not hold permission %q", moduleID, permissionID),
				&plan.RecoveryHint{
					Module: "security",
					Action: "request_permission",
					Args:   map[string]interface{}{"module": moduleID, "permission": permissionID},
				})
		}
	}
	return Allow()
}

// CheckAction is a convenience wrapper reading the required permissions
// straight off the action.
func (m *PermissionManager) CheckAction(action *plan.Action) Decision {
	return m.Check(action.Module, action.PermissionRequired)
}

// PruneExpired removes expired grants from memory and, if persisted, the store.
func (m *PermissionManager) PruneExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	now := time.Now().UTC()
	var pruned int
	for _, bucket := range m.session {
		for id, g := range bucket {
			if g.Expired(now) {
				delete(bucket, id)
				pruned++
			}
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.DeleteExpiredPermissionGrants(ctx, now); err != nil {
			return pruned, fmt.Errorf("failed to prune persisted grants: %w", err)
		}
	}
	return pruned, nil
}
