package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/trigger"
)

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Register and control reactive trigger definitions",
		Long: `A trigger is a persisted condition (cron, interval, filesystem-change,
process start/stop, resource threshold, or a composite of those) that
fires a plan template autonomously (spec.md §3, §4.9).`,
	}

	cmd.AddCommand(newTriggerListCommand())
	cmd.AddCommand(newTriggerRegisterCommand())
	cmd.AddCommand(newTriggerActivateCommand())
	cmd.AddCommand(newTriggerDeactivateCommand())
	cmd.AddCommand(newTriggerDeleteCommand())

	return cmd
}

func newTriggerListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted trigger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.Store.ListTriggers(cmd.Context(), false)
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
	return cmd
}

func newTriggerRegisterCommand() *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "register <trigger.json>",
		Short: "Register a trigger definition (and optionally activate its watcher)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read trigger file: %w", err)
			}
			var def trigger.Definition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("failed to decode trigger JSON: %w", err)
			}

			if err := app.Triggers.Register(cmd.Context(), &def); err != nil {
				return err
			}
			if activate {
				if err := app.Triggers.Activate(cmd.Context(), &def); err != nil {
					return err
				}
			}
			fmt.Printf("trigger %s registered (state=%s)\n", def.TriggerID, def.State)
			return nil
		},
	}

	cmd.Flags().BoolVar(&activate, "activate", true, "activate the trigger's watcher immediately after registering")

	return cmd
}

func newTriggerActivateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <trigger_id>",
		Short: "Start a registered trigger's watcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.Store.GetTrigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			def, err := trigger.DefinitionFromRecord(rec)
			if err != nil {
				return err
			}
			return app.Triggers.Activate(cmd.Context(), def)
		},
	}
	return cmd
}

func newTriggerDeactivateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <trigger_id>",
		Short: "Stop a trigger's watcher without deleting its definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Triggers.Deactivate(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newTriggerDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <trigger_id>",
		Short: "Stop a trigger's watcher and delete its persisted definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Triggers.Delete(cmd.Context(), args[0])
		},
	}
	return cmd
}
