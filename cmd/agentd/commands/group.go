package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/group"
	"github.com/agentforge/agentd/pkg/plan"
)

// groupSubmission is the on-disk shape for `agentd group submit`: an
// array of raw plan bodies plus the group-level options from spec.md
// §4.8 (max_concurrent, timeout_s).
type groupSubmission struct {
	GroupID       string                   `json:"group_id,omitempty"`
	MaxConcurrent int                      `json:"max_concurrent"`
	TimeoutS      float64                  `json:"timeout_s"`
	Plans         []map[string]interface{} `json:"plans"`
}

func newGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Fan out independent plans as a bounded-concurrency group",
	}
	cmd.AddCommand(newGroupSubmitCommand())
	return cmd
}

func newGroupSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <group.json>",
		Short: "Run N independent plans concurrently and print the aggregated result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read group file: %w", err)
			}
			var sub groupSubmission
			if err := json.Unmarshal(data, &sub); err != nil {
				return fmt.Errorf("failed to decode group JSON: %w", err)
			}
			if len(sub.Plans) == 0 {
				return fmt.Errorf("group must contain at least one plan")
			}

			plans := make([]*plan.Plan, 0, len(sub.Plans))
			for _, raw := range sub.Plans {
				p, err := parseAndValidate(app, raw)
				if err != nil {
					return err
				}
				plans = append(plans, p)
			}

			result := app.Group.Run(cmd.Context(), plans, group.Options{
				GroupID:       sub.GroupID,
				MaxConcurrent: sub.MaxConcurrent,
				TimeoutS:      sub.TimeoutS,
			})
			return printJSON(result)
		},
	}
	return cmd
}
