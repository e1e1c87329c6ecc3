package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/scheduler"
)

func newApprovalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Resolve an action suspended with requires_approval",
	}
	cmd.AddCommand(newApprovalResolveCommand())
	return cmd
}

func newApprovalResolveCommand() *cobra.Command {
	var editedParamsJSON string

	cmd := &cobra.Command{
		Use:   "resolve <plan_id> <action_id> <approve|reject>",
		Short: "Approve or reject an action awaiting approval",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			planID, actionID, outcome := args[0], args[1], args[2]

			var decision scheduler.ApprovalDecision
			switch outcome {
			case "approve":
				decision.Outcome = scheduler.ApprovalApprove
			case "reject":
				decision.Outcome = scheduler.ApprovalReject
			default:
				return fmt.Errorf("outcome must be %q or %q, got %q", "approve", "reject", outcome)
			}

			if editedParamsJSON != "" {
				var edited map[string]interface{}
				if err := json.Unmarshal([]byte(editedParamsJSON), &edited); err != nil {
					return fmt.Errorf("failed to decode --edited-params JSON: %w", err)
				}
				decision.EditedParams = edited
			}

			if err := app.Scheduler.ResumeApproval(planID, actionID, decision); err != nil {
				return err
			}
			fmt.Printf("action %s/%s resolved: %s\n", planID, actionID, outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&editedParamsJSON, "edited-params", "", "JSON object of params to substitute before the approved action dispatches")

	return cmd
}
