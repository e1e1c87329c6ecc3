package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentforge/agentd/pkg/store"
)

func newRestoreCommand() *cobra.Command {
	var backupFile string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the daemon's state database from a backup file",
		Long: `WARNING: this replaces the current state database at --db. Every
in-flight plan's ExecutionState, every permission grant, trigger
definition and recording known to the daemon is overwritten by the
backup's contents.`,
		Example: `  agentd restore --from agentd-backup.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Restore deliberately bypasses the full composition root: the
			// store's Restore contract requires its database file to be
			// closed, so only an unopened SQLiteStore handle is built here
			// rather than the daemon's whole set of collaborators.
			st, err := store.NewSQLiteStore(store.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to reference store: %w", err)
			}

			if err := st.Restore(cmd.Context(), backupFile); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			log.Info().Str("from", backupFile).Str("db", dbPath).Msg("restore complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&backupFile, "from", "", "backup file to restore from")
	cmd.MarkFlagRequired("from")

	return cmd
}
