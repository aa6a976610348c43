package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/sched"
)

// ExportCmd dumps job records joined with their completion state.
var ExportCmd = &cobra.Command{
	Use:   "export [job-id]",
	Short: "Dump job records with completion state",
	Long: `Export job records joined with their dedup records as JSON, for
backup or migration. With a job id, exports that single job; otherwise
exports all jobs, optionally filtered.

Examples:
  xbot export                        # All jobs to stdout
  xbot export 7f8a2c31-...           # One job
  xbot export --state succeeded      # Completed jobs only
  xbot export --out jobs.json        # Write to a file`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFilter, _ := cmd.Flags().GetString("state")
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var records []*sched.ExportRecord
		if len(args) == 1 {
			record, err := sched.Export(a.scheduler.Store(), a.scheduler.Dedup(), args[0])
			if err != nil {
				return fmt.Errorf("failed to export job: %w", err)
			}
			records = []*sched.ExportRecord{record}
		} else {
			var filter sched.ListFilter
			if stateFilter != "" {
				filter.States = []sched.JobState{sched.JobState(stateFilter)}
			}
			records, err = sched.ExportAll(a.scheduler.Store(), a.scheduler.Dedup(), filter)
			if err != nil {
				return fmt.Errorf("failed to export jobs: %w", err)
			}
		}

		data, err := sched.MarshalExport(records)
		if err != nil {
			return fmt.Errorf("failed to marshal export: %w", err)
		}

		if outPath != "" {
			if err := os.WriteFile(outPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}
			fmt.Printf("Exported %d record(s) to %s\n", len(records), outPath)
			return nil
		}

		fmt.Println(string(data))
		return nil
	},
}

func init() {
	ExportCmd.Flags().String("state", "", "Filter by state (pending, running, retrying, succeeded, failed)")
	ExportCmd.Flags().String("out", "", "Write export to a file instead of stdout")
}
