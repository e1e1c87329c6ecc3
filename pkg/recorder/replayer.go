package recorder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/store"
)

// Replayer merges a recorded session into a single sequential replay
// plan, per spec.md §4.10.
type Replayer struct {
	store store.Store
}

// NewReplayer builds a Replayer backed by st.
func NewReplayer(st store.Store) *Replayer {
	return &Replayer{store: st}
}

// Merge loads recordingID and concatenates its captured plans into one
// replay plan: each plan's action ids are prefixed "pN_" (N = sequence)
// to avoid collision, every depends_on and every ${actions.<id>.*}
// template reference is remapped through the same prefix, and any action
// that had no original dependencies gets a synthetic dependency on the
// last action of the preceding plan, so replay runs strictly in
// recording order. execution_mode is always sequential.
func (rp *Replayer) Merge(ctx context.Context, recordingID string) (*plan.Plan, error) {
	rec, err := rp.store.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recording %q: %w", recordingID, err)
	}

	entries, err := decodeEntries(rec.Actions)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("recording %q captured no plans", recordingID)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	merged := &plan.Plan{
		PlanID:          "replay_" + recordingID,
		ProtocolVersion: plan.CurrentProtocolVersion,
		Description:     fmt.Sprintf("replay of recording %q (%s)", rec.Name, recordingID),
		ExecutionMode:   plan.ExecutionModeSequential,
		Metadata: map[string]interface{}{
			"source":              "shadow_recorder",
			"recording_id":        recordingID,
			"original_plan_count": len(entries),
		},
	}

	var lastActionOfPrev string
	for _, e := range entries {
		if e.Plan == nil {
			continue
		}
		prefix := fmt.Sprintf("p%d_", e.Sequence)
		idMap := make(map[string]string, len(e.Plan.Actions))
		for _, a := range e.Plan.Actions {
			idMap[a.ID] = prefix + a.ID
		}

		var lastID string
		for _, a := range e.Plan.Actions {
			na := a
			na.ID = idMap[a.ID]
			na.Params = remapTemplateRefs(a.Params, idMap)

			remapped := make([]string, 0, len(a.DependsOn))
			for _, dep := range a.DependsOn {
				if mapped, ok := idMap[dep]; ok {
					remapped = append(remapped, mapped)
				}
			}
			if len(remapped) == 0 && lastActionOfPrev != "" {
				remapped = append(remapped, lastActionOfPrev)
			}
			na.DependsOn = remapped

			if na.Rollback != nil {
				rb := *na.Rollback
				if mapped, ok := idMap[rb.Action]; ok {
					rb.Action = mapped
				}
				na.Rollback = &rb
			}

			merged.Actions = append(merged.Actions, na)
			lastID = na.ID
		}
		if lastID != "" {
			lastActionOfPrev = lastID
		}
	}

	return merged, nil
}

// remapTemplateRefs rewrites every ${actions.<old>.*} reference in
// params to ${actions.<new>.*} per idMap, leaving everything else
// untouched. It returns a deep copy; the original params tree is never
// mutated.
func remapTemplateRefs(value interface{}, idMap map[string]string) map[string]interface{} {
	remapped, _ := remapValue(value, idMap).(map[string]interface{})
	if remapped == nil {
		return map[string]interface{}{}
	}
	return remapped
}

func remapValue(value interface{}, idMap map[string]string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = remapValue(item, idMap)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = remapValue(item, idMap)
		}
		return out
	case string:
		return remapString(v, idMap)
	default:
		return v
	}
}

func remapString(s string, idMap map[string]string) string {
	for oldID, newID := range idMap {
		s = strings.ReplaceAll(s, "actions."+oldID+".", "actions."+newID+".")
	}
	return s
}
