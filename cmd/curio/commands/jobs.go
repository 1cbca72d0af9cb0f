package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/queue"
)

// JobsCmd groups the job administration commands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage background jobs",
	Long: `Inspect and manage background jobs.

Commands:
  curio jobs list              # List jobs by status or type
  curio jobs show <id>         # Show job details
  curio jobs cancel <id>       # Cancel a pending or processing job
  curio jobs retry-failed      # Requeue all failed jobs
  curio jobs stats             # Queue health snapshot`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List background jobs",
	Long: `List jobs filtered by status or type.

Examples:
  curio jobs list                        # pending jobs (default)
  curio jobs list --status failed
  curio jobs list --type catalog_bulk_sync --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsList(cmd, status, jobType, limit)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show details for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsShow(cmd, args[0])
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(cmd, args[0])
	},
}

var jobsRetryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue all failed jobs with a fresh retry budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRetryFailed(cmd)
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStats(cmd)
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().String("type", "", "Filter by job type")
	jobsListCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRetryFailedCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
}

func runJobsList(cmd *cobra.Command, status, jobType string, limit int) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var jobs []*queue.Job
	switch {
	case jobType != "":
		if !queue.IsValidType(jobType) {
			return errors.Newf("unknown job type: %q", jobType)
		}
		jobs, err = a.queue.JobsByType(queue.JobType(jobType), limit)
	case status != "":
		if !queue.IsValidStatus(status) {
			return errors.Newf("invalid status: %q", status)
		}
		jobs, err = a.queue.JobsByStatus(queue.Status(status), limit)
	default:
		jobs, err = a.queue.JobsByStatus(queue.StatusPending, limit)
	}
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	data := pterm.TableData{{"JOB ID", "TYPE", "STATUS", "PRIORITY", "PROGRESS", "RETRIES", "CREATED"}}
	for _, job := range jobs {
		progress := "-"
		if job.Progress.Total > 0 {
			progress = fmt.Sprintf("%d/%d (%.0f%%)",
				job.Progress.Current, job.Progress.Total, job.Progress.Percentage())
		}
		data = append(data, []string{
			job.ID,
			string(job.Type),
			string(job.Status),
			job.Priority.String(),
			progress,
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			job.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	pterm.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(cmd *cobra.Command, jobID string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.queue.GetJob(jobID)
	if err != nil {
		return errors.Wrap(err, "failed to get job")
	}

	pterm.Printf("Job ID: %s\n", job.ID)
	pterm.Printf("  Type:     %s\n", job.Type)
	pterm.Printf("  Status:   %s\n", job.Status)
	pterm.Printf("  Priority: %s\n", job.Priority)
	pterm.Println()

	if job.Progress.Total > 0 {
		pterm.Printf("Progress: %d/%d (%.1f%%)\n\n",
			job.Progress.Current, job.Progress.Total, job.Progress.Percentage())
	}

	pterm.Printf("Retries: %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.NotBefore != nil {
		pterm.Printf("Next attempt eligible: %s\n", job.NotBefore.Format("2006-01-02 15:04:05"))
	}
	pterm.Println()

	if len(job.Payload) > 0 {
		pterm.Printf("Payload: %s\n", string(job.Payload))
	}
	if job.Error != "" {
		pterm.Error.Printfln("Error: %s", job.Error)
	}
	if len(job.Result) > 0 {
		pterm.Printf("Result: %s\n", string(job.Result))
	}
	pterm.Println()

	pterm.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		pterm.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		pterm.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runJobsCancel(cmd *cobra.Command, jobID string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cancelled, err := a.queue.CancelJob(jobID, "cancelled via cli")
	if err != nil {
		return errors.Wrap(err, "failed to cancel job")
	}
	if !cancelled {
		pterm.Warning.Printfln("Job %s was not cancelled (unknown or already terminal)", jobID)
		return nil
	}

	pterm.Success.Printfln("Job %s cancelled", jobID)
	return nil
}

func runJobsRetryFailed(cmd *cobra.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	requeued, err := a.queue.RetryAllFailed()
	if err != nil {
		return errors.Wrap(err, "failed to retry jobs")
	}

	if requeued == 0 {
		pterm.Info.Println("No failed jobs to retry")
		return nil
	}
	pterm.Success.Printfln("Requeued %d failed job(s)", requeued)
	return nil
}

func runJobsStats(cmd *cobra.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.queue.Stats()
	if err != nil {
		return errors.Wrap(err, "failed to get queue stats")
	}

	data := pterm.TableData{
		{"METRIC", "VALUE"},
		{"Pending", fmt.Sprintf("%d", stats.Pending)},
		{"Processing", fmt.Sprintf("%d", stats.Processing)},
		{"Completed", fmt.Sprintf("%d", stats.Completed)},
		{"Failed", fmt.Sprintf("%d", stats.Failed)},
		{"Cancelled", fmt.Sprintf("%d", stats.Cancelled)},
		{"Queue depth", fmt.Sprintf("%d", stats.QueueDepth)},
		{"Avg wait", fmt.Sprintf("%.0f ms", stats.AvgWaitMs)},
		{"Avg processing", fmt.Sprintf("%.0f ms", stats.AvgProcessingMs)},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
