package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueueCmd enqueues pipeline jobs without running them, the deferred
// counterpart to `xbot op "/scrape ..."`.
var QueueCmd = &cobra.Command{
	Use:   "queue <scrape|translate|publish> <arg> [flags]",
	Short: "Enqueue a pipeline job for the scheduler",
	Long: `Enqueue a scrape, translate, or publish job. The job runs on the next
scheduler tick, or at the time given with --at.

Examples:
  xbot queue scrape some_handle
  xbot queue translate 1234567890
  xbot queue publish 1234567890 --dry-run
  xbot queue publish 1234567890 --at 2026-09-01T09:00:00Z`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		parts := append([]string{"/queue"}, args...)
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			parts = append(parts, "--at", at)
		}
		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			parts = append(parts, "--dry-run")
		}
		if credential, _ := cmd.Flags().GetString("credential"); credential != "" {
			parts = append(parts, "--credential", credential)
		}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetInt("title")
			parts = append(parts, "--title", fmt.Sprintf("%d", title))
		}

		reply, err := a.processor.Handle(cmd.Context(), strings.Join(parts, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	QueueCmd.Flags().String("at", "", "Run time as RFC3339, e.g. 2026-09-01T09:00:00Z")
	QueueCmd.Flags().Bool("dry-run", false, "Publish only: validate the plan without posting")
	QueueCmd.Flags().String("credential", "", "Publish only: pin a pool credential by name")
	QueueCmd.Flags().Int("title", 0, "Publish only: alternate title index")
}
