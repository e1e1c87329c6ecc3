package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/agentforge/agentd/pkg/plan"
)

// Engine evaluates Rego policies against actions and plans as part of the
// scanner stage of the security guard pipeline.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in action/plan
// policies preloaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	store := inmem.New()

	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           store,
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateAction evaluates all enabled policies against a single action
// about to be dispatched.
func (e *Engine) EvaluateAction(ctx context.Context, action *plan.Action, pctx *PolicyContext) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if pctx == nil {
		pctx = &PolicyContext{Timestamp: time.Now(), Operation: "scan"}
	}

	var allViolations []PolicyViolation
	var warnings []PolicyViolation
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		input := &PolicyInput{
			Action:  action,
			Context: pctx,
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("action_id", action.ID).
				Msg("policy evaluation failed")
			warnings = append(warnings, PolicyViolation{
				Policy:    cp.policy.Name,
				ActionID:  action.ID,
				Message:   fmt.Sprintf("evaluation failed: %v", err),
				Severity:  SeverityWarning,
				DetectedAt: time.Now(),
			})
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	allowed := resultAllowed(allViolations)

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("action_id", action.ID).
		Int("violations", len(allViolations)).
		Dur("duration", duration).
		Msg("action policy evaluation completed")

	return &PolicyResult{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
		Context:           pctx,
	}, nil
}

// EvaluatePlan evaluates plan-level policies (e.g. a bound on total actions,
// required approval coverage) against an entire plan before admission.
func (e *Engine) EvaluatePlan(ctx context.Context, p *plan.Plan, pctx *PolicyContext) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if pctx == nil {
		pctx = &PolicyContext{Timestamp: time.Now(), Operation: "plan_validate"}
	}

	var allViolations []PolicyViolation
	var warnings []PolicyViolation
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		input := &PolicyInput{
			Plan:    p,
			Context: pctx,
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("plan_id", p.PlanID).
				Msg("policy evaluation failed")
			warnings = append(warnings, PolicyViolation{
				Policy:     cp.policy.Name,
				Message:    fmt.Sprintf("evaluation failed: %v", err),
				Severity:   SeverityWarning,
				DetectedAt: time.Now(),
			})
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	allowed := resultAllowed(allViolations)

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("plan_id", p.PlanID).
		Int("violations", len(allViolations)).
		Dur("duration", duration).
		Msg("plan policy evaluation completed")

	return &PolicyResult{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
		Context:           pctx,
	}, nil
}

func resultAllowed(violations []PolicyViolation) bool {
	for i := range violations {
		if violations[i].Severity == SeverityError || violations[i].Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// LoadPolicies loads policy files from disk, in addition to the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")

	return nil
}

// evaluatePolicy evaluates a single compiled policy against the given input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation

	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(regoSrc string) string {
	lines := strings.Split(regoSrc, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "agentd.policies"
}

// createViolation builds a PolicyViolation from a single deny entry.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *PolicyInput) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	if input.Action != nil {
		violation.ActionID = input.Action.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if actionID, ok := v["action_id"].(string); ok {
			violation.ActionID = actionID
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy parses and registers a policy.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled")

	return nil
}

// loadBuiltinPolicies loads the built-in action/plan policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(e.builtinPolicies)).Msg("built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies discards loaded policies and reloads the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")

	return nil
}
