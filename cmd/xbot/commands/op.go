package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// OpCmd executes a single operator command against the local instance.
var OpCmd = &cobra.Command{
	Use:   "op <command...>",
	Short: "Execute one operator command",
	Long: `Execute one operator slash command and print the reply.

The operator grammar is shared with chat front ends:
  /scrape <handle>
  /translate <thread_id>
  /publish <thread_id> [--credential name] [--title n] [--dry-run]
  /queue <scrape|translate|publish> <arg> [--at time]
  /run
  /prompt <thread_id>
  /override <thread_id> <text> [| <text> ...]
  /retry <job_id>
  /done <job_id> <result_ref>
  /status
  /export [job_id]

Examples:
  xbot op "/scrape some_handle"
  xbot op /status`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reply, err := a.processor.Handle(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}
