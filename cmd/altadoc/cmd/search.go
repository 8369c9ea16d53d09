package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/output"
	"github.com/altadoc/altadoc/internal/store"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		project     string
		object      string
		disciplines []string
		docNo       string
		limit       int
		jsonOutput  bool
		showScores  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents and assemble a cited answer",
		Long: `Search runs the hybrid query pipeline: keyword and vector retrieval
over every text collection, score fusion, cross-encoder re-ranking, and
answer assembly with citations.

Queries may be Russian, English, or mixed. Document references such as
"ГОСТ 21.201-2011 п. 4.2" are resolved directly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			filter := buildFilter(project, object, disciplines, docNo)
			return runSearch(cmd, q, filter, limit, jsonOutput, showScores)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Restrict to a project ID")
	cmd.Flags().StringVar(&object, "object", "", "Restrict to an industrial object ID")
	cmd.Flags().StringSliceVar(&disciplines, "discipline", nil, "Restrict to disciplines (process, piping, electrical, ...)")
	cmd.Flags().StringVar(&docNo, "doc", "", "Restrict to a document number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&showScores, "scores", false, "Show per-source score breakdown")

	return cmd
}

// buildFilter assembles the metadata filter from the flag values.
func buildFilter(project, object string, disciplines []string, docNo string) *store.Filter {
	f := &store.Filter{Equals: map[string]string{}, In: map[string][]string{}}
	if project != "" {
		f.Equals["project_id"] = project
	}
	if object != "" {
		f.Equals["object_id"] = object
	}
	if docNo != "" {
		f.Equals["doc_no"] = docNo
	}
	if len(disciplines) > 0 {
		f.In["discipline"] = disciplines
	}
	if f.Empty() {
		return nil
	}
	return f
}

func runSearch(cmd *cobra.Command, q string, filter *store.Filter, limit int, jsonOutput, showScores bool) error {
	out := output.New(cmd.OutOrStdout())

	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ans, result, err := c.Search(cmd.Context(), q, filter, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(ans, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
	out.Newline()
	out.Statusf("", "Intent: %s, confidence: %.2f", ans.Intent, ans.Confidence)
	if len(ans.Degraded) > 0 {
		out.Warningf("Degraded: collections unavailable: %s", strings.Join(ans.Degraded, ", "))
	}

	if showScores {
		out.Newline()
		for i, cand := range result.Candidates {
			common := &cand.Chunk.Common
			out.Statusf("", "%2d. %-24s %s  final=%.3f (bm25=%.3f dense=%.3f rerank=%.3f)",
				i+1, common.DocNo, cand.Collection, cand.Final, cand.BM25, cand.Dense, cand.Rerank)
		}
	}
	return nil
}
