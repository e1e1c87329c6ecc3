package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBackupCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create an online backup of the daemon's SQLite state database",
		Long: `Backup performs a crash-consistent hot-copy of the plan state store
(SQLite VACUUM INTO) without suspending any in-flight plan.`,
		Example: `  agentd backup --out agentd-backup.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.Backup(cmd.Context(), outFile); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			log.Info().Str("out", outFile).Msg("backup complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "agentd-backup.db", "backup output file path")

	return cmd
}
