package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/sched"
)

// JobsCmd groups job queue inspection and manipulation.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manipulate the job queue",
	Long: `Inspect and manipulate the job queue.

Job management commands:
  xbot jobs ls              # List jobs
  xbot jobs show <id>       # Show job details
  xbot jobs retry <id>      # Force a job to run on the next tick
  xbot jobs done <id> <ref> # Record a job as completed out of band

State filters:
  pending   - Jobs waiting for their run time
  running   - Jobs currently executing
  retrying  - Jobs waiting out a backoff delay
  succeeded - Completed jobs
  failed    - Terminally failed jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists jobs.
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs ordered by run time, optionally filtered.

Examples:
  xbot jobs ls                   # List all jobs
  xbot jobs ls --state failed    # List only failed jobs
  xbot jobs ls --kind publish    # List only publish jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFilter, _ := cmd.Flags().GetString("state")
		kindFilter, _ := cmd.Flags().GetString("kind")
		return runJobsLs(stateFilter, kindFilter)
	},
}

// JobsShowCmd shows one job in detail.
var JobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsShow(args[0])
	},
}

// JobsRetryCmd forces a job back to pending so the next tick runs it.
var JobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Force a job to run on the next tick",
	Long: `Reset a failed, retrying, or pending job so the next tick runs it
immediately. Attempt counters and auth signals are cleared.

Example:
  xbot jobs retry 7f8a2c31-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRetry(args[0])
	},
}

// JobsDoneCmd records an out-of-band completion.
var JobsDoneCmd = &cobra.Command{
	Use:   "done <job-id> <result-ref>",
	Short: "Record a job as completed out of band",
	Long: `Mark a job succeeded with the given result reference, e.g. after
publishing by hand. The completion is recorded in the dedup index first, so
the work is never repeated even if the process dies mid-command.

Example:
  xbot jobs done 7f8a2c31-... published:1234567890`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsDone(args[0], args[1])
	},
}

func init() {
	JobsLsCmd.Flags().String("state", "", "Filter by state (pending, running, retrying, succeeded, failed)")
	JobsLsCmd.Flags().String("kind", "", "Filter by kind (scrape, translate, publish)")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsShowCmd)
	JobsCmd.AddCommand(JobsRetryCmd)
	JobsCmd.AddCommand(JobsDoneCmd)
}

func runJobsLs(stateFilter, kindFilter string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var filter sched.ListFilter
	if stateFilter != "" {
		filter.States = []sched.JobState{sched.JobState(stateFilter)}
	}
	if kindFilter != "" {
		filter.Kinds = []sched.JobKind{sched.JobKind(kindFilter)}
	}

	jobs, err := a.scheduler.Store().List(filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-10s %-30s %-8s %s\n", "JOB ID", "KIND", "STATE", "KEY", "ATTEMPTS", "RUN AT")
	fmt.Printf("%-36s %-10s %-10s %-30s %-8s %s\n", "------", "----", "-----", "---", "--------", "------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-10s %-10s %-30s %-8d %s\n",
			job.ID,
			job.Kind,
			job.State,
			truncate(job.PayloadKey, 30),
			job.AttemptCount,
			job.RunAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(jobID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.scheduler.Store().Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	fmt.Printf("  Kind: %s\n", job.Kind)
	fmt.Printf("  State: %s\n", job.State)
	fmt.Printf("  Payload key: %s\n", job.PayloadKey)
	fmt.Printf("  Attempts: %d\n", job.AttemptCount)
	fmt.Printf("  Auth signals: %d\n", job.AuthSignals)
	fmt.Printf("  Run at: %s\n", job.RunAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated: %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	if job.LastError != nil {
		fmt.Printf("  Last error: [%s] %s\n", job.LastError.Kind, job.LastError.Message)
	}
	fmt.Printf("  Payload: %s\n", string(job.Payload))

	if ref, ok, err := a.scheduler.Dedup().Lookup(job.DedupKey()); err == nil && ok {
		fmt.Printf("  Completed with result: %s\n", ref)
	}
	return nil
}

func runJobsRetry(jobID string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.scheduler.ForceRun(jobID)
	if err != nil {
		pterm.Error.Printf("Failed to reset job: %v\n", err)
		return err
	}

	pterm.Success.Printf("Job %s reset; it runs on the next tick\n", job.ID)
	return nil
}

func runJobsDone(jobID, resultRef string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.scheduler.ForceResult(jobID, resultRef)
	if err != nil {
		pterm.Error.Printf("Failed to record result: %v\n", err)
		return err
	}

	pterm.Success.Printf("Job %s recorded as succeeded with result %s\n", job.ID, resultRef)
	return nil
}
