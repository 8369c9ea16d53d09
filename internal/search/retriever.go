package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/embed"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/store"
)

// Retriever fans a query plan out across collections and fuses the
// keyword, dense, and direct-reference results into one candidate pool.
type Retriever struct {
	collections *store.Collections
	embedder    embed.Embedder
	logger      *slog.Logger
}

// NewRetriever creates the hybrid retriever.
func NewRetriever(collections *store.Collections, embedder embed.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{collections: collections, embedder: embedder, logger: logger}
}

// pool accumulates fusion contributions from concurrent searches.
type pool struct {
	mu     sync.Mutex
	byKey  map[dedupKey]*Candidate
	failed map[string]bool
}

func newPool() *pool {
	return &pool{byKey: make(map[dedupKey]*Candidate), failed: make(map[string]bool)}
}

func (p *pool) fail(collection string) {
	p.mu.Lock()
	p.failed[collection] = true
	p.mu.Unlock()
}

// addDense merges one dense hit. score is cosine similarity in [0,1],
// already multiplied by the rewrite confidence.
func (p *pool) addDense(ch *domain.Chunk, collection string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.candidate(ch, collection, SearchDense)
	c.Dense = clip01(c.Dense + score)
}

func (p *pool) addLexical(ch *domain.Chunk, collection string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.candidate(ch, collection, SearchLexical)
	c.BM25 = clip01(c.BM25 + score)
}

func (p *pool) addReference(ch *domain.Chunk, collection string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.candidate(ch, collection, SearchReference)
	c.SearchType = SearchReference
}

func (p *pool) candidate(ch *domain.Chunk, collection string, st SearchType) *Candidate {
	key := keyOf(ch)
	c, ok := p.byKey[key]
	if !ok {
		c = &Candidate{Chunk: ch, Collection: collection, SearchType: st}
		p.byKey[key] = c
	} else if c.SearchType != st && c.SearchType != SearchReference {
		c.SearchType = SearchHybrid
	}
	return c
}

// Retrieve runs the full fan-out for one query plan and returns up to
// RerankTopK candidates sorted by fused score. A collection that fails on
// both paths is reported in the result, not turned into a query error.
func (r *Retriever) Retrieve(ctx context.Context, plan *query.Plan, filter *store.Filter, collectionNames []string) (*Result, error) {
	cols, err := r.targetCollections(collectionNames)
	if err != nil {
		return nil, err
	}

	// One embedding call covers every rewrite.
	texts := make([]string, len(plan.Rewrites))
	for i, rw := range plan.Rewrites {
		texts[i] = rw.Text
	}
	vectors, embedErr := r.embedder.EmbedBatch(ctx, texts)
	if embedErr != nil {
		r.logger.Warn("query embedding failed; dense path skipped",
			slog.String("error", embedErr.Error()))
	}

	p := newPool()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentSearches)

	for _, col := range cols {
		for i, rw := range plan.Rewrites {
			g.Go(func() error {
				r.lexicalSearch(gctx, p, col, rw, filter)
				return gctx.Err()
			})
			if embedErr == nil {
				vec := vectors[i]
				g.Go(func() error {
					r.denseSearch(gctx, p, col, rw, vec, filter)
					return gctx.Err()
				})
			}
		}
		for _, ref := range plan.References {
			g.Go(func() error {
				r.referenceLookup(gctx, p, col, ref, filter)
				return gctx.Err()
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return p.finish(), nil
}

func (r *Retriever) targetCollections(names []string) ([]*store.Collection, error) {
	if len(names) == 0 {
		return r.collections.All(), nil
	}
	cols := make([]*store.Collection, 0, len(names))
	for _, name := range names {
		col, err := r.collections.Get(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// lexicalSearch contributes keyword hits, normalised by the top hit's
// score so BM25 magnitudes are comparable across collections.
func (r *Retriever) lexicalSearch(ctx context.Context, p *pool, col *store.Collection, rw query.Rewrite, filter *store.Filter) {
	hits, err := col.Lexical.Search(ctx, rw.Text, filter, PerCollectionLimit)
	if err != nil {
		r.logger.Warn("lexical search failed",
			slog.String("collection", col.Name),
			slog.String("error", err.Error()))
		p.fail(col.Name)
		return
	}
	if len(hits) == 0 {
		return
	}
	top := hits[0].Score
	if top <= 0 {
		return
	}
	for _, hit := range hits {
		ch, ok := col.Vector.Get(hit.ChunkID)
		if !ok {
			continue // lexical orphan; doctor reports these
		}
		p.addLexical(ch, col.Name, (hit.Score/top)*rw.Confidence)
	}
}

func (r *Retriever) denseSearch(ctx context.Context, p *pool, col *store.Collection, rw query.Rewrite, vector []float32, filter *store.Filter) {
	hits, err := col.Vector.Search(ctx, vector, filter, PerCollectionLimit)
	if err != nil {
		r.logger.Warn("dense search failed",
			slog.String("collection", col.Name),
			slog.String("error", err.Error()))
		p.fail(col.Name)
		return
	}
	for _, hit := range hits {
		ch, ok := col.Vector.Get(hit.ChunkID)
		if !ok {
			continue
		}
		p.addDense(ch, col.Name, clip01(hit.Score)*rw.Confidence)
	}
}

// referenceLookup pulls chunks of the cited document, and chunks tagged
// as citing it, directly into the pool at full score. The empty query
// makes each lookup a pure filter match.
func (r *Retriever) referenceLookup(ctx context.Context, p *pool, col *store.Collection, ref domain.DocReference, filter *store.Filter) {
	filters := []*store.Filter{
		withEquality(filter, "doc_no", ref.DocID()),
		withEquality(filter, "tags", "ref:"+ref.DocID()),
	}
	for _, refFilter := range filters {
		hits, err := col.Lexical.Search(ctx, "", refFilter, ReferenceLimit)
		if err != nil {
			r.logger.Warn("reference lookup failed",
				slog.String("collection", col.Name),
				slog.String("reference", ref.String()),
				slog.String("error", err.Error()))
			p.fail(col.Name)
			return
		}
		for _, hit := range hits {
			ch, ok := col.Vector.Get(hit.ChunkID)
			if !ok {
				continue
			}
			p.addReference(ch, col.Name)
		}
	}
}

// withEquality returns a copy of the filter with one extra equality; the
// original is shared across goroutines and never mutated.
func withEquality(f *store.Filter, field, value string) *store.Filter {
	out := &store.Filter{Equals: map[string]string{field: value}}
	if f == nil {
		return out
	}
	for k, v := range f.Equals {
		out.Equals[k] = v
	}
	out.In = f.In
	out.Ranges = f.Ranges
	return out
}

// finish computes fused scores and returns candidates sorted by fused
// score with a deterministic (doc_no, chunk_id) tie-break.
func (p *pool) finish() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*Candidate, 0, len(p.byKey))
	for _, c := range p.byKey {
		if c.SearchType == SearchReference {
			c.Fused = 1.0
		} else {
			c.Fused = WeightBM25*c.BM25 + WeightDense*c.Dense
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		if a.Chunk.Common.DocNo != b.Chunk.Common.DocNo {
			return a.Chunk.Common.DocNo < b.Chunk.Common.DocNo
		}
		return a.Chunk.Common.ChunkID < b.Chunk.Common.ChunkID
	})
	if len(candidates) > RerankTopK {
		candidates = candidates[:RerankTopK]
	}

	failed := make([]string, 0, len(p.failed))
	for name := range p.failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	return &Result{Candidates: candidates, FailedCollections: failed}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
