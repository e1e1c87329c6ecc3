package recorder

import (
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// Entry is one captured plan within a recording session, per spec.md
// §4.10: the original plan body, its sequence number within the
// session, when it was captured, its terminal status and action count.
type Entry struct {
	PlanID      string          `json:"plan_id"`
	Sequence    int             `json:"sequence"`
	AddedAt     time.Time       `json:"added_at"`
	Plan        *plan.Plan      `json:"plan"`
	FinalStatus plan.PlanStatus `json:"final_status"`
	ActionCount int             `json:"action_count"`
}
