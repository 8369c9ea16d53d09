package cmd

import (
	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/output"
	"github.com/altadoc/altadoc/internal/preflight"
)

// newDoctorCmd creates the doctor command.
func newDoctorCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check index consistency and optionally repair it",
		Long: `Doctor checks the environment (disk space, file limits, object store,
embedder endpoint) and verifies that every chunk in the vector store is
present in the keyword index. A crash between the two index writes
leaves invisible vector-side orphans; --repair re-indexes them from the
stored payloads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Re-index chunks missing from the keyword index")
	return cmd
}

func runDoctor(cmd *cobra.Command, repair bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checks := preflight.New().RunAll(cmd.Context(), cfg)
	for _, r := range checks {
		switch r.Status {
		case preflight.StatusPass:
			out.Successf("%-18s %s", r.Name, r.Message)
		case preflight.StatusWarn:
			out.Warningf("%-18s %s", r.Name, r.Message)
		default:
			out.Errorf("%-18s %s", r.Name, r.Message)
		}
		if r.Details != "" {
			out.Statusf("", "   %s", r.Details)
		}
	}
	if preflight.HasCriticalFailures(checks) {
		return errors.InvalidInput("environment checks failed", nil)
	}
	out.Newline()

	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	report, err := c.Writer.Doctor(cmd.Context())
	if err != nil {
		return err
	}

	for _, cr := range report.Collections {
		if cr.Healthy() {
			out.Successf("%-20s vectors=%d lexical=%d", cr.Name, cr.VectorCount, cr.LexicalCount)
			continue
		}
		out.Warningf("%-20s vectors=%d lexical=%d, %d chunk(s) missing from keyword index",
			cr.Name, cr.VectorCount, cr.LexicalCount, len(cr.MissingLexical))
	}

	if report.Healthy() {
		out.Success("Indexes are consistent")
		return nil
	}

	if !repair {
		out.Warning("Run 'altadoc doctor --repair' to re-index the missing chunks")
		return nil
	}

	n, err := c.Writer.Repair(cmd.Context(), report)
	if err != nil {
		return err
	}
	if err := c.Writer.Save(); err != nil {
		return err
	}
	out.Successf("Repaired %d chunk(s)", n)
	return nil
}
