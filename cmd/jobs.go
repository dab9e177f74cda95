package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and administer extraction jobs",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs by priority",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		docID, _ := cmd.Flags().GetString("document")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		jobs, err := env.Queue.List(ctx, store.JobFilter{
			Status:     model.JobStatus(status),
			DocumentID: docID,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Queue.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return printJSON(os.Stdout, job)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Queue.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}
		formatQueueStats(os.Stdout, stats)
		return nil
	},
}

// -- jobs retry|reset|cancel --

type jobTransition func(ctx context.Context, env *appEnv, id string) (*model.Job, error)

func newJobTransitionCmd(use, short string, fn jobTransition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx, "cli", false)
			if err != nil {
				return err
			}
			defer env.Close()

			job, err := fn(ctx, env, args[0])
			if err != nil {
				return eris.Wrapf(err, "jobs %s", use)
			}
			fmt.Printf("job %s is now %s (attempts %d/%d)\n", job.ID, job.Status, job.Attempts, job.MaxAttempts)
			return nil
		},
	}
}

var (
	jobsRetryCmd = newJobTransitionCmd("retry", "Return a failed job with remaining attempts to pending",
		func(ctx context.Context, env *appEnv, id string) (*model.Job, error) { return env.Queue.Retry(ctx, id) })
	jobsResetCmd = newJobTransitionCmd("reset", "Return a processing or failed job to pending",
		func(ctx context.Context, env *appEnv, id string) (*model.Job, error) { return env.Queue.Reset(ctx, id) })
	jobsCancelCmd = newJobTransitionCmd("cancel", "Fail a pending or processing job without using an attempt",
		func(ctx context.Context, env *appEnv, id string) (*model.Job, error) {
			return env.Queue.Cancel(ctx, id)
		})
)

// -- jobs cleanup --

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed jobs older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli", false)
		if err != nil {
			return err
		}
		defer env.Close()

		days, _ := cmd.Flags().GetInt("days")
		if days == 0 {
			days = cfg.Queue.RetentionDays
		}

		n, err := env.Queue.Cleanup(ctx, days)
		if err != nil {
			return eris.Wrap(err, "jobs cleanup")
		}
		fmt.Printf("Deleted %d completed jobs older than %d days.\n", n, days)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	jobsListCmd.Flags().String("document", "", "filter by document id")
	jobsListCmd.Flags().Int("limit", 50, "max results")
	jobsListCmd.Flags().Int("offset", 0, "skip this many results")

	jobsCleanupCmd.Flags().Int("days", 0, "retention window in days (default from config)")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatsCmd, jobsRetryCmd, jobsResetCmd, jobsCancelCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}
