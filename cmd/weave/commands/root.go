// Package commands provides the CLI commands for weave.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weavemesh/weave/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	prettyLog bool
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "weave - multi-agent session server and agent runner",
	Long: `weave lets independently developed agents discover each other and
exchange messages within a shared session over a long-lived event stream.

Run 'weave serve' to start a session server, or 'weave agent' to connect
an agent to one.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: prettyLog,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("weave %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
