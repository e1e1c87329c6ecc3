// Package template resolves the `${...}` reference syntax used inside an
// action's params: references into prior action results, the process
// environment, and plan-level fields. Resolution happens once per
// action, immediately before dispatch, over a snapshot of results-so-far.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// refPattern matches a single ${...} reference anywhere in a string.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// unresolvedMarkerFmt formats the marker substituted for an unresolvable
// reference when strict mode is off.
const unresolvedMarkerFmt = "<unresolved:${%s}>"

// ErrUnresolvedReference is the error returned for a reference that
// cannot be resolved while strict is true.
type ErrUnresolvedReference struct {
	Reference string
}

func (e *ErrUnresolvedReference) Error() string {
	return fmt.Sprintf("unresolved template reference: ${%s}", e.Reference)
}

// Context is the snapshot a template is resolved against: completed
// action results/statuses, environment lookups, and plan-level fields.
// The executor builds one Context per action dispatch, containing only
// already-completed actions, which is what makes cyclic references
// structurally impossible.
type Context struct {
	// Results maps action id to its result value (already decoded JSON).
	Results map[string]interface{}

	// Statuses maps action id to its terminal status string.
	Statuses map[string]string

	// Plan carries plan-level fields addressable as ${plan.<field>}.
	Plan map[string]interface{}

	// Strict controls behavior on an unresolvable reference: true fails
	// the action, false substitutes the literal unresolved marker.
	Strict bool

	// Getenv is used instead of os.Getenv when set, for testability.
	Getenv func(string) string
}

func (c *Context) getenv(name string) string {
	if c.Getenv != nil {
		return c.Getenv(name)
	}
	return os.Getenv(name)
}

// Resolve walks value (a params tree: map, slice, string, or scalar) and
// substitutes every ${...} reference it finds inside strings. Non-string
// leaves pass through untouched.
func Resolve(value interface{}, ctx *Context) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case string:
		return resolveString(v, ctx)

	default:
		return v, nil
	}
}

// resolveString resolves every reference inside s. Per §4.2, when s is
// exactly one reference the resolved value's JSON type is preserved
// (e.g. a reference to a number or object stays a number or object
// rather than becoming its string form); otherwise references are
// substituted into the surrounding text as strings.
func resolveString(s string, ctx *Context) (interface{}, error) {
	matches := refPattern.FindStringSubmatchIndex(s)
	if matches == nil {
		return s, nil
	}

	if loc := refPattern.FindStringIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
		ref := s[loc[0]+2 : loc[1]-1]
		val, ok, err := resolveReference(ref, ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			if ctx.Strict {
				return nil, &ErrUnresolvedReference{Reference: ref}
			}
			return fmt.Sprintf(unresolvedMarkerFmt, ref), nil
		}
		return val, nil
	}

	var missing error
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		if missing != nil {
			return match
		}
		ref := match[2 : len(match)-1]
		val, ok, err := resolveReference(ref, ctx)
		if err != nil {
			missing = err
			return match
		}
		if !ok {
			if ctx.Strict {
				missing = &ErrUnresolvedReference{Reference: ref}
				return match
			}
			return fmt.Sprintf(unresolvedMarkerFmt, ref)
		}
		return stringify(val)
	})
	if missing != nil {
		return nil, missing
	}
	return out, nil
}

// resolveReference resolves a single dotted reference body (the text
// between ${ and }), returning ok=false when it cannot be resolved.
func resolveReference(ref string, ctx *Context) (interface{}, bool, error) {
	parts := strings.Split(ref, ".")
	if len(parts) < 2 {
		return nil, false, nil
	}

	switch parts[0] {
	case "actions":
		if len(parts) < 3 {
			return nil, false, nil
		}
		actionID := parts[1]
		switch parts[2] {
		case "status":
			status, ok := ctx.Statuses[actionID]
			if !ok {
				return nil, false, nil
			}
			return status, true, nil
		case "result":
			result, ok := ctx.Results[actionID]
			if !ok {
				return nil, false, nil
			}
			if len(parts) == 3 {
				return result, true, nil
			}
			return navigate(result, parts[3:])
		default:
			return nil, false, nil
		}

	case "env":
		name := strings.Join(parts[1:], ".")
		val := ctx.getenv(name)
		if val == "" {
			return nil, false, nil
		}
		return val, true, nil

	case "plan":
		return navigate(ctx.Plan, parts[1:])

	default:
		return nil, false, nil
	}
}

// navigate walks a decoded-JSON value through a dotted path of map keys
// and (for slices) numeric indices.
func navigate(value interface{}, path []string) (interface{}, bool, error) {
	current := value
	for _, segment := range path {
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[segment]
			if !ok {
				return nil, false, nil
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false, nil
			}
			current = v[idx]
		default:
			return nil, false, nil
		}
	}
	return current, true, nil
}

// stringify renders a resolved value for inline substitution into a
// larger string (i.e. when the reference is not the entire string).
func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// HasReference reports whether s contains at least one ${...} marker.
func HasReference(s string) bool {
	return refPattern.MatchString(s)
}
