package group

import (
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

// Status is the terminal status of a plan-group run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// Summary is the aggregate arithmetic testable property 3 pins down:
// total == len(PlanResults)+len(Errors), completed+failed == total.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Result is the plan-group executor's aggregated outcome.
type Result struct {
	GroupID     string                          `json:"group_id"`
	Status      Status                          `json:"status"`
	Summary     Summary                         `json:"summary"`
	PlanResults map[string]*plan.ExecutionState `json:"plan_results"`
	Errors      map[string]string               `json:"errors"`
	StartedAt   time.Time                       `json:"started_at"`
	FinishedAt  time.Time                       `json:"finished_at"`
}

// Options controls one group run.
type Options struct {
	GroupID       string
	MaxConcurrent int
	TimeoutS      float64
}
