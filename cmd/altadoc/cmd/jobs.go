package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/output"
)

// newJobsCmd creates the jobs command group.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and manage ingestion jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsStatusCmd())
	cmd.AddCommand(newJobsStopCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			jobs, err := c.Jobs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(jobs) == 0 {
				out.Status("", "No jobs")
				return nil
			}
			for _, j := range jobs {
				out.Statusf("", "%s  %-10s  files=%d/%d  indexed=%d  failed=%d  %s",
					j.ID, j.Phase, j.Counters.FilesParsed, j.Counters.FilesSeen,
					j.Counters.Indexed, j.Counters.FailedFiles,
					j.StartedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to list")
	return cmd
}

func newJobsStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job with counters and file errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			job, err := c.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(job, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "Job %s", job.ID)
			out.Statusf("", "Archive: %s", job.ArchiveID)
			out.Statusf("", "Phase: %s", job.Phase)
			if job.StopRequested {
				out.Status("", "Stop requested")
			}
			ctr := job.Counters
			out.Statusf("", "Files: %d seen, %d parsed, %d failed", ctr.FilesSeen, ctr.FilesParsed, ctr.FailedFiles)
			out.Statusf("", "Chunks: %d chunked, %d embedded, %d indexed", ctr.Chunked, ctr.Embedded, ctr.Indexed)
			if job.LastError != "" {
				out.Statusf("", "Last error: %s", job.LastError)
			}
			for _, fe := range job.FileErrors {
				out.Statusf("", "  %s: %s", fe.Path, fe.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobsStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Request a graceful stop at the next batch boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.StopJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Stop requested for job %s", args[0])
			return nil
		},
	}
	return cmd
}
