package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/output"
	"github.com/altadoc/altadoc/internal/preflight"
)

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <archive-ref>",
		Short: "Ingest a document archive into the index",
		Long: `Ingest reads an archive from the object store (a prefix containing
manifest.yaml plus documents), parses and chunks every supported file,
and writes the chunks to the vector and keyword indexes.

Re-ingesting the same archive is a no-op; re-ingesting changed files
replaces their chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0])
		},
	}
	return cmd
}

// newResumeCmd creates the resume command.
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume an interrupted ingestion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, args[0])
		},
	}
	return cmd
}

func runIngest(cmd *cobra.Command, archiveRef string) error {
	out := output.New(cmd.OutOrStdout())

	if err := firstRunChecks(cmd, out); err != nil {
		return err
	}

	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.Statusf("📦", "Ingesting %s", archiveRef)
	job, err := c.Ingest(ctx, archiveRef)
	if err != nil {
		return err
	}
	return reportJob(out, job)
}

func runResume(cmd *cobra.Command, jobID string) error {
	out := output.New(cmd.OutOrStdout())

	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.Statusf("📦", "Resuming job %s", jobID)
	job, err := c.Resume(ctx, jobID)
	if err != nil {
		return err
	}
	return reportJob(out, job)
}

// firstRunChecks runs environment checks once per data directory. Failures
// direct the user to doctor for the full report.
func firstRunChecks(cmd *cobra.Command, out *output.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !preflight.NeedsCheck(cfg.Store.DataDir) {
		return nil
	}
	results := preflight.New().RunAll(cmd.Context(), cfg)
	if preflight.HasCriticalFailures(results) {
		out.Error("Environment checks failed; run 'altadoc doctor' for details")
		return errors.InvalidInput("environment checks failed", nil)
	}
	return preflight.MarkPassed(cfg.Store.DataDir)
}

// reportJob prints the job summary. A completed job with per-file failures
// surfaces as a Partial error so the exit code reflects the degradation.
func reportJob(out *output.Writer, job *domain.Job) error {
	ctr := job.Counters
	switch {
	case job.Phase == domain.JobPhaseCompleted && ctr.FailedFiles == 0:
		out.Successf("Job %s completed", job.ID)
	case job.Phase == domain.JobPhaseCompleted:
		out.Warningf("Job %s completed with %d failed file(s)", job.ID, ctr.FailedFiles)
	case job.StopRequested:
		out.Warningf("Job %s stopped; resume with 'altadoc resume %s'", job.ID, job.ID)
	default:
		out.Errorf("Job %s %s: %s", job.ID, job.Phase, job.LastError)
	}

	out.Statusf("", "Files: %d seen, %d parsed, %d failed", ctr.FilesSeen, ctr.FilesParsed, ctr.FailedFiles)
	out.Statusf("", "Chunks: %d chunked, %d embedded, %d indexed", ctr.Chunked, ctr.Embedded, ctr.Indexed)
	for _, fe := range job.FileErrors {
		out.Statusf("", "  %s: %s", fe.Path, fe.Message)
	}

	if job.Phase == domain.JobPhaseCompleted && ctr.FailedFiles > 0 {
		return errors.Partial(fmt.Sprintf("%d file(s) failed during ingestion", ctr.FailedFiles))
	}
	if job.Phase == domain.JobPhaseFailed && !job.StopRequested {
		return errors.Internal("job failed: "+job.LastError, nil)
	}
	return nil
}
