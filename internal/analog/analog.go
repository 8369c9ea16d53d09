// Package analog finds equipment comparable to a given specification: a
// hybrid search over the query built from the equipment type and its
// numeric parameters, constrained by tolerance ranges on the indexed
// numeric facts, then re-scored by parameter closeness.
package analog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/search"
	"github.com/altadoc/altadoc/internal/store"
)

// DefaultTolerance is the relative width of the numeric range filters.
const DefaultTolerance = 0.20

// DefaultLimit bounds returned analogs.
const DefaultLimit = 10

// suppressionFloor discards candidates below it when their content also
// lacks any equipment keyword; weak text matches on non-equipment chunks
// are the dominant false-positive source.
const suppressionFloor = 0.3

// equipmentKeywords is the bilingual whitelist used by the suppression
// rule. Matching is by substring on lowercased content, so Russian
// inflections pass.
var equipmentKeywords = []string{
	"насос", "pump", "клапан", "valve", "задвижк", "арматур",
	"компрессор", "compressor", "вентилятор", "fan",
	"двигател", "motor", "привод", "drive",
	"трансформатор", "transformer", "теплообменник", "exchanger",
	"резервуар", "tank", "емкост", "ёмкост", "котел", "котёл", "boiler",
	"фильтр", "filter", "агрегат", "unit", "аппарат",
}

// Query describes the equipment being matched.
type Query struct {
	EquipmentType string
	Params        map[string]domain.NumericFact
	Filter        *store.Filter
	Limit         int

	// Tolerance overrides DefaultTolerance when positive.
	Tolerance float64

	// ExcludeSourceHash drops chunks of the document the specification
	// came from, so an equipment row never matches itself.
	ExcludeSourceHash string
}

// Match is one analog candidate with its parameter-similarity breakdown.
type Match struct {
	Candidate *search.Candidate
	ParamSim  float64
	Score     float64

	// MatchedParams lists the parameter names present in both the query
	// and the chunk's numeric facts.
	MatchedParams []string
}

// Searcher runs analog lookups over the text, table, and IFC collections.
// Drawings are excluded: their embeddings live in a different space and
// they carry no numeric facts.
type Searcher struct {
	rewriter *query.Rewriter
	engine   *search.Engine
	logger   *slog.Logger
}

// NewSearcher creates the analog searcher on top of the shared query
// engine.
func NewSearcher(rewriter *query.Rewriter, engine *search.Engine, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{rewriter: rewriter, engine: engine, logger: logger}
}

// Search returns analog matches sorted by analog score.
func (s *Searcher) Search(ctx context.Context, q Query) ([]Match, error) {
	if q.EquipmentType == "" {
		return nil, errors.InvalidInput("equipment type is empty", nil)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	tolerance := q.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	plan := s.rewriter.Analyze(queryText(q))
	filter := rangeFilter(q.Filter, q.Params, tolerance)

	collections := []string{domain.CollectionText, domain.CollectionTable, domain.CollectionIFC}
	result, err := s.engine.Rank(ctx, plan, filter, collections)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		if q.ExcludeSourceHash != "" && c.Chunk.Common.SourceHash == q.ExcludeSourceHash {
			continue
		}
		sim, matched := paramSimilarity(q.Params, c.Chunk.Common.Numeric)
		if c.Final < suppressionFloor && !mentionsEquipment(c.Chunk.Common.Content) {
			continue
		}
		matches = append(matches, Match{
			Candidate:     c,
			ParamSim:      sim,
			Score:         (c.Final + sim) / 2,
			MatchedParams: matched,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.Chunk.Common.DocNo != b.Candidate.Chunk.Common.DocNo {
			return a.Candidate.Chunk.Common.DocNo < b.Candidate.Chunk.Common.DocNo
		}
		return a.Candidate.Chunk.Common.ChunkID < b.Candidate.Chunk.Common.ChunkID
	})
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	s.logger.Debug("analog search",
		slog.String("equipment", q.EquipmentType),
		slog.Int("params", len(q.Params)),
		slog.Int("matches", len(matches)))
	return matches, nil
}

// queryText flattens the specification into retrieval text, parameters in
// deterministic order.
func queryText(q Query) string {
	parts := []string{q.EquipmentType}
	names := make([]string, 0, len(q.Params))
	for name := range q.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fact := q.Params[name]
		parts = append(parts, fmt.Sprintf("%s %s %s", name, formatValue(fact.Value), fact.Unit))
	}
	return strings.Join(parts, " ")
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// rangeFilter widens each query parameter into an inclusive range on the
// indexed numeric facts and merges it with the caller's filter.
func rangeFilter(base *store.Filter, params map[string]domain.NumericFact, tolerance float64) *store.Filter {
	if len(params) == 0 {
		return base
	}
	out := &store.Filter{Ranges: make(map[string]store.NumericRange, len(params))}
	if base != nil {
		out.Equals = base.Equals
		out.In = base.In
		for k, v := range base.Ranges {
			out.Ranges[k] = v
		}
	}
	for name, fact := range params {
		lo := fact.Value * (1 - tolerance)
		hi := fact.Value * (1 + tolerance)
		if lo > hi {
			lo, hi = hi, lo // negative values invert the bounds
		}
		out.Ranges[name] = store.NumericRange{Min: &lo, Max: &hi}
	}
	return out
}

// paramSimilarity is the mean closeness over parameters present on both
// sides: max(0, 1 - |Δ|/|v|) per parameter against the query value.
func paramSimilarity(want map[string]domain.NumericFact, have map[string]domain.NumericFact) (float64, []string) {
	if len(want) == 0 || len(have) == 0 {
		return 0, nil
	}
	var matched []string
	sum := 0.0
	for name, w := range want {
		h, ok := have[name]
		if !ok || w.Value == 0 {
			continue
		}
		matched = append(matched, name)
		delta := math.Abs(h.Value - w.Value)
		sum += math.Max(0, 1-delta/math.Abs(w.Value))
	}
	if len(matched) == 0 {
		return 0, nil
	}
	sort.Strings(matched)
	return sum / float64(len(matched)), matched
}

func mentionsEquipment(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range equipmentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
