// Package commands provides the CLI commands for Parley.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - streaming chat client for AI agent sessions",
	Long: `Parley connects to an agent backend and mirrors its event stream
into local session state: streamed responses, tool activity, plans,
and approval prompts.

Run 'parley chat' to start an interactive session, or 'parley sessions'
to list stored transcripts.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr instead of the log file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("parley %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging initializes the global logger from flags and config.
// The chat UI owns stdout, so logs default to a file under the state dir.
func setupLogging(cfg *config.Config) error {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	parsed := logging.ParseLevel(level)

	if printLogs {
		logging.Init(logging.Config{Level: parsed, Pretty: true})
		return nil
	}
	return logging.InitFile(logging.DefaultLogFile(config.GetPaths().State), parsed)
}
