package commands

import (
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: reconstruct persisted triggers and serve their fires until interrupted",
		Long: `serve boots every persisted, enabled trigger definition (reconstructing
its watcher per spec.md §3's boot-time reconstruction requirement) and
then blocks, running the priority fire scheduler until the process
receives an interrupt or the passed context is cancelled. Transport
(HTTP/WebSocket) and CLI front ends for the other operations in this
package are separate collaborators (spec.md §1); this command only
keeps the reactive trigger half of the daemon alive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Triggers.Boot(cmd.Context()); err != nil {
				return err
			}
			app.Logger.Info("agentd serving; press ctrl-c to stop")
			app.Triggers.Run(cmd.Context())
			return nil
		},
	}
	return cmd
}
