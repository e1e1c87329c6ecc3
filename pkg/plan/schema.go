package plan

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds one CUE schema per (module, action) pair, used by
// validate() to check an action's params before it ever reaches a
// provider. This mirrors the teacher's config.SchemaRegistry, keyed by
// module+action instead of by resource-config kind.
type SchemaRegistry struct {
	ctx     *cue.Context
	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates an empty registry. Modules register their own
// action schemas as they come online via Register.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

func schemaKey(module, action string) string { return module + "." + action }

// Register compiles and stores a CUE schema for (module, action). The
// schema text is expected to define a single top-level struct describing
// the shape of that action's params.
func (r *SchemaRegistry) Register(module, action, schemaCUE string) error {
	val := r.ctx.CompileString(schemaCUE)
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema for %s.%s: %w", module, action, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schemaKey(module, action)] = val
	return nil
}

// UnregisterModule removes every schema belonging to module, used when a
// provider is unregistered from the module registry.
func (r *SchemaRegistry) UnregisterModule(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := module + "."
	for k := range r.schemas {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.schemas, k)
		}
	}
}

// Has reports whether a schema is registered for (module, action).
func (r *SchemaRegistry) Has(module, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[schemaKey(module, action)]
	return ok
}

// Validate checks params against the schema registered for
// (module, action). Per §4.1, the registry is open-world: if no schema
// is registered and strict is false, params pass through unchecked; if
// strict is true, an unregistered (module, action) is itself a
// validation failure (the caller asked for schema-complete plans).
func (r *SchemaRegistry) Validate(module, action string, params map[string]interface{}, strict bool) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey(module, action)]
	r.mu.RUnlock()

	if !ok {
		if strict {
			return NewPermanentError(CodeValidationError,
				fmt.Sprintf("no params schema registered for %s.%s", module, action), nil)
		}
		return nil
	}

	dataVal := r.ctx.Encode(params)
	if err := dataVal.Err(); err != nil {
		return NewPermanentError(CodeValidationError,
			fmt.Sprintf("encode params for %s.%s", module, action), err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return NewPermanentError(CodeValidationError,
			fmt.Sprintf("params for %s.%s do not match schema", module, action), err)
	}

	return nil
}
