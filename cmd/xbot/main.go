package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/cmd/xbot/commands"
	"github.com/sakaguchi/xbot/logger"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "xbot",
	Short: "xbot - Thread translation and republishing bot",
	Long: `xbot - Monitor social accounts, translate their threads, republish them.

The pipeline runs in three stages, each a durable job:
  scrape    - Fetch new threads from monitored handles
  translate - Translate stored threads via the configured provider
  publish   - Post translations as reply chains under pool credentials

Available commands:
  run      - Start the daemon (scheduler + pipeline)
  op       - Execute one operator command (/scrape, /publish, ...)
  queue    - Enqueue a pipeline job for the scheduler
  jobs     - Inspect and manipulate the job queue
  export   - Dump job records with completion state
  db       - Manage database operations
  config   - Inspect the resolved configuration
  version  - Show version information

Examples:
  xbot run                       # Start the daemon
  xbot op "/scrape some_handle"  # Fetch threads now
  xbot jobs ls --state failed    # List failed jobs
  xbot db stats                  # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs
		if err := logger.InitializeWithVerbosity(false, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.OpCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
