package plan

import "fmt"

// Validate enforces the full structural contract of §4.1: unique ids
// (checked during BuildGraph), acyclic dependencies, every depends_on
// resolves, every (module, action) pair's params validate against the
// registered schema, and every rollback.action resolves to a sibling id.
// schemas may be nil, which behaves like an empty open-world registry:
// non-strict plans skip schema checks, strict plans fail validation.
func Validate(p *Plan, schemas *SchemaRegistry) (*Graph, error) {
	graph, err := BuildGraph(p.Actions)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(p.Actions))
	for _, a := range p.Actions {
		ids[a.ID] = struct{}{}
	}

	for i := range p.Actions {
		a := &p.Actions[i]

		if a.Rollback != nil && a.Rollback.Action != "" {
			if _, ok := ids[a.Rollback.Action]; !ok {
				return nil, NewPermanentError(
					CodeValidationError,
					fmt.Sprintf("rollback.action %s does not resolve to an action in this plan", a.Rollback.Action),
					nil,
				).WithResource(a.ID)
			}
		}

		if a.EffectiveTimeout(p.TimeoutSeconds) <= 0 {
			return nil, NewPermanentError(CodeValidationError, "timeout_s must be > 0", nil).WithResource(a.ID)
		}

		if schemas != nil {
			if err := schemas.Validate(a.Module, a.Action, a.Params, p.Strict); err != nil {
				return nil, err
			}
		} else if p.Strict {
			return nil, NewPermanentError(
				CodeValidationError,
				fmt.Sprintf("strict plan requires a params schema for %s.%s but none is registered", a.Module, a.Action),
				nil,
			).WithResource(a.ID)
		}
	}

	return graph, nil
}
