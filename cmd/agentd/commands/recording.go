package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRecordingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recording",
		Short: "Record executed plans into a named session and replay them as one plan",
		Long: `A recording captures every plan executed while it is active into a
named session; replay merges the session back into a single sequential
plan with prefixed, remapped action ids (spec.md §4.10).`,
	}

	cmd.AddCommand(newRecordingStartCommand())
	cmd.AddCommand(newRecordingStopCommand())
	cmd.AddCommand(newRecordingListCommand())
	cmd.AddCommand(newRecordingReplayCommand())

	return cmd
}

func newRecordingStartCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a new recording session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if id == "" {
				id = uuid.NewString()
			}
			if err := app.Recorder.Start(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			fmt.Printf("recording %s started (name=%s)\n", id, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "recording id (generated if unset)")

	return cmd
}

func newRecordingStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <recording_id>",
		Short: "Stop an active recording session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Recorder.Stop(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newRecordingListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted recording sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.Store.ListRecordings(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum recordings to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")

	return cmd
}

func newRecordingReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <recording_id>",
		Short: "Merge a stopped recording into one replay plan and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.Replayer.Merge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	return cmd
}
