package cmd

import (
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/output"
	"github.com/altadoc/altadoc/internal/telemetry"
)

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var terms int
	var zero int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local query statistics",
		Long: `Stats reads the locally collected query telemetry: intent distribution,
latency histogram, frequent terms, and recent queries that produced no
answer. The zero-result list is the main input for extending the
synonym table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, terms, zero)
		},
	}

	cmd.Flags().IntVar(&terms, "terms", 15, "Top terms to show")
	cmd.Flags().IntVar(&zero, "zero-results", 10, "Zero-result queries to show")
	return cmd
}

func runStats(cmd *cobra.Command, termLimit, zeroLimit int) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := telemetry.NewStore(filepath.Join(cfg.Store.DataDir, "telemetry.db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	intents, err := store.IntentCounts()
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		out.Status("", "No queries recorded yet")
		return nil
	}

	out.Status("", "Queries by intent:")
	names := make([]string, 0, len(intents))
	for intent := range intents {
		names = append(names, string(intent))
	}
	sort.Strings(names)
	for _, name := range names {
		out.Statusf("", "  %-12s %d", name, intents[domain.Intent(name)])
	}

	latencies, err := store.LatencyCounts()
	if err != nil {
		return err
	}
	out.Newline()
	out.Status("", "Latency:")
	for _, bucket := range []telemetry.LatencyBucket{
		telemetry.BucketUnder100ms, telemetry.BucketUnder500ms,
		telemetry.BucketUnder1s, telemetry.BucketUnder3s, telemetry.BucketOver3s,
	} {
		if n, ok := latencies[bucket]; ok {
			out.Statusf("", "  %-9s %d", bucket, n)
		}
	}

	top, err := store.TopTerms(termLimit)
	if err != nil {
		return err
	}
	if len(top) > 0 {
		out.Newline()
		out.Status("", "Frequent terms:")
		for _, tc := range top {
			out.Statusf("", "  %-24s %d", tc.Term, tc.Count)
		}
	}

	zeroes, err := store.ZeroResultQueries(zeroLimit)
	if err != nil {
		return err
	}
	if len(zeroes) > 0 {
		out.Newline()
		out.Status("", "Recent zero-result queries:")
		for _, q := range zeroes {
			out.Statusf("", "  %s", q)
		}
	}
	return nil
}
