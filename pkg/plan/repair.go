package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RepairChange describes a single, machine-readable correction Repair
// made to a raw plan candidate.
type RepairChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "dropped_unknown_field" | "coerced_type" | "inserted_default"
	Note string `json:"note"`
}

// knownTopLevelFields are the fields Repair will keep; everything else
// at the plan's top level is dropped as unknown.
var knownTopLevelFields = map[string]bool{
	"plan_id": true, "protocol_version": true, "description": true,
	"metadata": true, "execution_mode": true, "actions": true,
	"strict": true, "retry_defaults": true, "timeout_seconds": true,
}

var knownActionFields = map[string]bool{
	"id": true, "module": true, "action": true, "params": true,
	"depends_on": true, "on_error": true, "retry": true, "rollback": true,
	"timeout_s": true, "permission_required": true, "requires_approval": true,
	"sensitive": true,
}

// Repair is a best-effort, never-automatic corrector: it drops unknown
// top-level fields, coerces obvious numeric-as-string typos, and fills in
// missing defaults. It never changes semantics — only shape — and the
// caller decides whether to resubmit the result. It is never invoked by
// the executor itself.
func Repair(raw map[string]interface{}) (map[string]interface{}, []RepairChange) {
	var changes []RepairChange
	out := make(map[string]interface{}, len(raw))

	for k, v := range raw {
		if !knownTopLevelFields[k] {
			changes = append(changes, RepairChange{
				Path: k, Kind: "dropped_unknown_field",
				Note: fmt.Sprintf("top-level field %q is not part of the plan schema", k),
			})
			continue
		}
		out[k] = v
	}

	if _, ok := out["protocol_version"]; !ok {
		out["protocol_version"] = CurrentProtocolVersion
		changes = append(changes, RepairChange{Path: "protocol_version", Kind: "inserted_default", Note: "defaulted to current protocol version"})
	}
	if _, ok := out["execution_mode"]; !ok {
		out["execution_mode"] = string(ExecutionModeParallel)
		changes = append(changes, RepairChange{Path: "execution_mode", Kind: "inserted_default", Note: "defaulted to parallel"})
	}

	if rawActions, ok := out["actions"].([]interface{}); ok {
		repaired := make([]interface{}, len(rawActions))
		for i, ra := range rawActions {
			action, ok := ra.(map[string]interface{})
			if !ok {
				repaired[i] = ra
				continue
			}
			repaired[i] = repairAction(action, i, &changes)
		}
		out["actions"] = repaired
	}

	return out, changes
}

func repairAction(action map[string]interface{}, index int, changes *[]RepairChange) map[string]interface{} {
	out := make(map[string]interface{}, len(action))
	prefix := fmt.Sprintf("actions[%d]", index)

	for k, v := range action {
		if !knownActionFields[k] {
			*changes = append(*changes, RepairChange{
				Path: prefix + "." + k, Kind: "dropped_unknown_field",
				Note: fmt.Sprintf("action field %q is not part of the action schema", k),
			})
			continue
		}
		out[k] = v
	}

	if raw, ok := out["timeout_s"].(string); ok {
		if coerced, err := strconv.ParseFloat(raw, 64); err == nil {
			out["timeout_s"] = coerced
			*changes = append(*changes, RepairChange{
				Path: prefix + ".timeout_s", Kind: "coerced_type",
				Note: "timeout_s was a numeric string; coerced to a number",
			})
		}
	}

	if _, ok := out["on_error"]; !ok {
		out["on_error"] = string(OnErrorFail)
		*changes = append(*changes, RepairChange{Path: prefix + ".on_error", Kind: "inserted_default", Note: "defaulted to fail"})
	}

	return out
}

// Reencode round-trips a raw map through JSON to normalise numeric types
// (json.Number vs float64) prior to Parse, used by callers that built the
// raw map by hand rather than decoding it from wire JSON.
func Reencode(raw map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
