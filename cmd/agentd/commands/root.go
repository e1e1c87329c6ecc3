package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags shared by every subcommand.
	dbPath             string
	profilePath        string
	eventLogPath       string
	logLevelFlag       string
	defaultConcurrency int
	verbose            bool
	jsonOutput         bool
	microRunnerPath    string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "agentd - autonomous agent orchestration daemon",
		Long: `agentd is an orchestration daemon for LLM-authored agent plans: it parses,
validates and migrates plans, resolves template references, runs every
action dispatch through a security guard pipeline, bounds module
concurrency, executes each plan's DAG with retry/rollback/approval
support, fans groups of plans out concurrently, fires plans from
schedules and external conditions, records and replays executed
workflows, and generates the system prompt describing everything a
caller can currently do.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "agentd.db", "path to the daemon's SQLite state database")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "path to the active permission profile YAML (unset allows every module)")
	rootCmd.PersistentFlags().StringVar(&eventLogPath, "event-log", "", "path to the NDJSON event log (unset discards events)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&defaultConcurrency, "default-concurrency", 4, "default per-module concurrency limit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&microRunnerPath, "micro-runner-path", "micro-runner", "path to the micro-runner binary backing the host module")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newGroupCommand())
	rootCmd.AddCommand(newModuleCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newRecordingCommand())
	rootCmd.AddCommand(newPromptCommand())
	rootCmd.AddCommand(newApprovalCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
