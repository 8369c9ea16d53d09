package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/store"
)

// DefaultQueryDeadline bounds one whole query, fan-out and re-ranking
// included. Exceeding it fails the query; partial results are not
// returned.
const DefaultQueryDeadline = 10 * time.Second

// EngineConfig tunes the query pipeline.
type EngineConfig struct {
	Floor    float64       // similarity floor; 0 means DefaultFloor
	Deadline time.Duration // 0 means DefaultQueryDeadline
}

// Engine runs the full query pipeline: analyse, retrieve, re-rank, floor.
type Engine struct {
	rewriter  *query.Rewriter
	retriever *Retriever
	reranker  Reranker
	config    EngineConfig
	logger    *slog.Logger
}

// NewEngine assembles the pipeline. A nil reranker gets the no-op
// implementation.
func NewEngine(rewriter *query.Rewriter, retriever *Retriever, reranker Reranker, cfg EngineConfig, logger *slog.Logger) *Engine {
	if reranker == nil {
		reranker = &NoOpReranker{}
	}
	if cfg.Floor == 0 {
		cfg.Floor = DefaultFloor
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = DefaultQueryDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rewriter: rewriter, retriever: retriever, reranker: reranker, config: cfg, logger: logger}
}

// Search answers one query. limit caps the returned candidates and never
// exceeds FinalTopK. The returned plan carries the intent and references
// for the answer layer.
func (e *Engine) Search(ctx context.Context, rawQuery string, filter *store.Filter, limit int) (*query.Plan, *Result, error) {
	if rawQuery == "" {
		return nil, nil, errors.InvalidInput("query is empty", nil)
	}
	if limit <= 0 || limit > FinalTopK {
		limit = FinalTopK
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Deadline)
	defer cancel()

	plan := e.rewriter.Analyze(rawQuery)
	result, err := e.Rank(ctx, plan, filter, nil)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]*Candidate, 0, limit)
	for _, c := range result.Candidates {
		if c.Final < e.config.Floor {
			break // sorted descending; the rest are below the floor too
		}
		kept = append(kept, c)
		if len(kept) >= limit {
			break
		}
	}
	result.Candidates = kept

	e.logger.Debug("query ranked",
		slog.String("intent", string(plan.Intent)),
		slog.Int("results", len(kept)),
		slog.Int("failed_collections", len(result.FailedCollections)))
	return plan, result, nil
}

// Rank runs retrieval plus re-ranking for an existing plan over the given
// collections (nil means all) and returns candidates sorted by final
// score, without floor or truncation. The analog pipeline re-scores the
// full pool itself.
func (e *Engine) Rank(ctx context.Context, plan *query.Plan, filter *store.Filter, collections []string) (*Result, error) {
	result, err := e.retriever.Retrieve(ctx, plan, filter, collections)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Timeout("query deadline exceeded during retrieval", err)
		}
		return nil, err
	}

	if err := e.rerank(ctx, plan.Normalized, result.Candidates); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Timeout("query deadline exceeded during re-ranking", err)
		}
		return nil, err
	}

	sort.Slice(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Final != b.Final {
			return a.Final > b.Final
		}
		if a.Chunk.Common.DocNo != b.Chunk.Common.DocNo {
			return a.Chunk.Common.DocNo < b.Chunk.Common.DocNo
		}
		return a.Chunk.Common.ChunkID < b.Chunk.Common.ChunkID
	})
	return result, nil
}

// rerank scores the candidates with the cross-encoder, min-max normalises
// the raw scores, and combines them with the fused score.
func (e *Engine) rerank(ctx context.Context, queryText string, candidates []*Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = candidateText(c)
	}
	scored, err := e.reranker.Rerank(ctx, queryText, docs)
	if err != nil {
		return err
	}

	raw := make([]float64, len(candidates))
	for _, s := range scored {
		if s.Index >= 0 && s.Index < len(raw) {
			raw[s.Index] = s.Score
		}
	}
	normalized := minMaxNormalize(raw)

	for i, c := range candidates {
		c.Rerank = normalized[i]
		c.Final = 0.3*c.Fused + 0.7*c.Rerank
	}
	return nil
}

// minMaxNormalize maps raw scores into [0,1] per call. A degenerate call
// where all scores are equal maps everything to 1 so the fused order
// decides.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}
	minV, maxV := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minV {
			minV = s
		}
		if s > maxV {
			maxV = s
		}
	}
	out := make([]float64, len(scores))
	if maxV == minV {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - minV) / (maxV - minV)
	}
	return out
}
