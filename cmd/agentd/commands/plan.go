package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/scheduler"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Submit, inspect and cancel plans",
		Long: `A plan is a DAG of typed actions submitted to the daemon for
validated, security-guarded, wave-scheduled execution (spec.md §2-4).`,
	}

	cmd.AddCommand(newPlanValidateCommand())
	cmd.AddCommand(newPlanSubmitCommand())
	cmd.AddCommand(newPlanGetCommand())
	cmd.AddCommand(newPlanCancelCommand())

	return cmd
}

func loadRawPlan(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode plan JSON: %w", err)
	}
	return raw, nil
}

// parseAndValidate runs a raw plan body through the full C1 pipeline:
// parse, migrate, validate against the app's schema registry.
func parseAndValidate(app *App, raw map[string]interface{}) (*plan.Plan, error) {
	p, err := plan.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := app.Migration.Migrate(p); err != nil {
		return nil, err
	}
	if _, err := plan.Validate(p, app.Schemas); err != nil {
		return nil, err
	}
	return p, nil
}

func newPlanValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.json>",
		Short: "Parse, migrate and validate a plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := loadRawPlan(args[0])
			if err != nil {
				return err
			}
			p, err := parseAndValidate(app, raw)
			if err != nil {
				return err
			}
			fmt.Printf("plan %q is valid: %d action(s), execution_mode=%s\n", p.PlanID, len(p.Actions), p.ExecutionMode)
			return nil
		},
	}
	return cmd
}

func newPlanSubmitCommand() *cobra.Command {
	var (
		user    string
		dryRun  bool
		workdir string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "submit <plan.json>",
		Short: "Submit a plan for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := loadRawPlan(args[0])
			if err != nil {
				return err
			}
			p, err := parseAndValidate(app, raw)
			if err != nil {
				return err
			}

			opts := scheduler.ScheduleOptions{User: user, DryRun: dryRun, WorkingDirectory: workdir}

			ctx := context.Background()
			if wait {
				es, err := app.Scheduler.Execute(ctx, p, opts)
				if err != nil {
					return err
				}
				return printJSON(es)
			}

			planID, err := app.Scheduler.Schedule(ctx, p, opts)
			if err != nil {
				return err
			}
			fmt.Printf("plan %s submitted\n", planID)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "cli", "submitter identity recorded in the audit trail")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate every dispatch instead of calling providers")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory handed to every action's execution context")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the plan reaches a terminal status and print its final state")

	return cmd
}

func newPlanGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <plan_id>",
		Short: "Print a plan's current execution state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			es, err := app.Scheduler.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(es)
		},
	}
	return cmd
}

func newPlanCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <plan_id>",
		Short: "Cancel an in-flight plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Scheduler.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info().Str("plan_id", args[0]).Msg("plan cancelled")
			return nil
		},
	}
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
