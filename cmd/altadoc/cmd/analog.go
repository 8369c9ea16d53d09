package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/analog"
	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/output"
)

// newAnalogCmd creates the analog command.
func newAnalogCmd() *cobra.Command {
	var (
		params     []string
		tolerance  float64
		limit      int
		project    string
		exclude    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analog <equipment-type>",
		Short: "Find equipment with comparable numeric parameters",
		Long: `Analog searches the indexed documents for equipment similar to a given
specification. Each --param becomes a tolerance range filter on the
indexed numeric facts; candidates are re-scored by parameter closeness.

Example:
  altadoc analog "центробежный насос" --param power_kw=110:kW --param flow_m3h=200:m3/h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facts, err := parseParams(params)
			if err != nil {
				return err
			}
			q := analog.Query{
				EquipmentType:     args[0],
				Params:            facts,
				Filter:            buildFilter(project, "", nil, ""),
				Limit:             limit,
				Tolerance:         tolerance,
				ExcludeSourceHash: exclude,
			}
			return runAnalog(cmd, q, jsonOutput)
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "Numeric parameter as name=value[:unit] (repeatable)")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Relative tolerance for range filters (default 0.20)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum matches")
	cmd.Flags().StringVar(&project, "project", "", "Restrict to a project ID")
	cmd.Flags().StringVar(&exclude, "exclude-source", "", "Exclude chunks with this source hash (the query's own document)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// parseParams parses repeated name=value[:unit] flags into numeric facts.
func parseParams(raw []string) (map[string]domain.NumericFact, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	facts := make(map[string]domain.NumericFact, len(raw))
	for _, p := range raw {
		name, rest, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("malformed --param %q, want name=value[:unit]", p), nil)
		}
		value, unit, _ := strings.Cut(rest, ":")
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("malformed --param %q: %q is not a number", p, value), err)
		}
		facts[name] = domain.NumericFact{Value: v, Unit: unit}
	}
	return facts, nil
}

func runAnalog(cmd *cobra.Command, q analog.Query, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	c, err := openCore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	matches, err := c.AnalogSearch(cmd.Context(), q)
	if err != nil {
		return err
	}

	if jsonOutput {
		type jsonMatch struct {
			DocNo         string   `json:"doc_no"`
			DocTitle      string   `json:"doc_title,omitempty"`
			Section       string   `json:"section,omitempty"`
			Score         float64  `json:"score"`
			ParamSim      float64  `json:"param_similarity"`
			MatchedParams []string `json:"matched_params,omitempty"`
			Excerpt       string   `json:"excerpt"`
		}
		rows := make([]jsonMatch, len(matches))
		for i, m := range matches {
			common := &m.Candidate.Chunk.Common
			rows[i] = jsonMatch{
				DocNo:         common.DocNo,
				DocTitle:      common.DocTitle,
				Section:       common.Section,
				Score:         m.Score,
				ParamSim:      m.ParamSim,
				MatchedParams: m.MatchedParams,
				Excerpt:       trimExcerpt(common.Content, 200),
			}
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(matches) == 0 {
		out.Warning("No comparable equipment found")
		return nil
	}

	for i, m := range matches {
		common := &m.Candidate.Chunk.Common
		out.Statusf("", "%2d. %s  score=%.3f param_sim=%.3f", i+1, common.DocNo, m.Score, m.ParamSim)
		if len(m.MatchedParams) > 0 {
			out.Statusf("", "    matched: %s", strings.Join(m.MatchedParams, ", "))
		}
		out.Statusf("", "    %s", trimExcerpt(common.Content, 160))
	}
	return nil
}

// trimExcerpt cuts content for console display, on a rune boundary.
func trimExcerpt(content string, limit int) string {
	text := strings.Join(strings.Fields(content), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
