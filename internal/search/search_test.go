package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/embed"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/store"
)

type fixture struct {
	engine      *Engine
	retriever   *Retriever
	collections *store.Collections
	embedder    embed.Embedder
	rewriter    *query.Rewriter
}

func seedChunk(id, docNo, content string, tags []string, discipline domain.Discipline) domain.Chunk {
	return domain.Chunk{
		Common: domain.CommonPayload{
			ChunkID:    id,
			ChunkType:  domain.ChunkText,
			ProjectID:  "p1",
			DocNo:      docNo,
			DocTitle:   docNo,
			Discipline: discipline,
			SourceHash: "h-" + id,
			Language:   "ru",
			Content:    content,
			Tags:       tags,
		},
		Text: &domain.TextFields{TokenCount: 10},
	}
}

func newFixture(t *testing.T, floor float64) *fixture {
	t.Helper()
	ctx := context.Background()

	collections, err := store.OpenCollections(ctx, t.TempDir(), embed.StaticDimensions, "static")
	require.NoError(t, err)
	t.Cleanup(func() { _ = collections.Close() })

	embedder := embed.NewStaticEmbedder()

	chunks := []domain.Chunk{
		seedChunk("c-gost", "ГОСТ 21.201-2011",
			"условные графические обозначения трубопроводной арматуры на схемах",
			[]string{"ref:ГОСТ 21.201-2011"}, domain.Discipline("process")),
		seedChunk("c-pump", "СП 101.13330",
			"насос должен обеспечивать расход 50 m3/h при напоре 32 m",
			nil, domain.Discipline("process")),
		seedChunk("c-cable", "РД 34.20",
			"кабельные линии наружного освещения прокладываются в траншеях",
			nil, domain.Discipline("elec")),
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Common.Content
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	col, err := collections.Get(domain.CollectionText)
	require.NoError(t, err)
	require.NoError(t, col.Vector.Upsert(ctx, chunks, vectors))
	require.NoError(t, col.Lexical.Index(ctx, chunks))

	rewriter, err := query.NewRewriter(16)
	require.NoError(t, err)

	retriever := NewRetriever(collections, embedder, nil)
	engine := NewEngine(rewriter, retriever, &NoOpReranker{}, EngineConfig{Floor: floor}, nil)
	return &fixture{
		engine:      engine,
		retriever:   retriever,
		collections: collections,
		embedder:    embedder,
		rewriter:    rewriter,
	}
}

func TestSearchRanksRelevantChunkFirst(t *testing.T) {
	f := newFixture(t, 0.05)
	plan, result, err := f.engine.Search(context.Background(), "расход насоса", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)

	assert.Equal(t, "c-pump", result.Candidates[0].ID())
	assert.Equal(t, domain.IntentGeneral, plan.Intent)
	for _, c := range result.Candidates {
		assert.GreaterOrEqual(t, c.Final, 0.05)
		assert.LessOrEqual(t, c.Final, 1.0)
	}
}

func TestSearchReferenceLookup(t *testing.T) {
	f := newFixture(t, 0.05)
	plan, result, err := f.engine.Search(context.Background(), "ГОСТ 21.201-2011", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)

	require.Len(t, plan.References, 1)
	top := result.Candidates[0]
	assert.Equal(t, "c-gost", top.ID())
	assert.Equal(t, SearchReference, top.SearchType)
	assert.Equal(t, 1.0, top.Fused)
}

func TestSearchFilterRestrictsDiscipline(t *testing.T) {
	f := newFixture(t, 0.0001)
	filter := &store.Filter{Equals: map[string]string{"discipline": "elec"}}

	_, result, err := f.engine.Search(context.Background(), "кабельные линии освещения", filter, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)
	for _, c := range result.Candidates {
		assert.Equal(t, domain.Discipline("elec"), c.Chunk.Common.Discipline)
	}
}

func TestSearchFloorDropsEverything(t *testing.T) {
	f := newFixture(t, 0.999)
	_, result, err := f.engine.Search(context.Background(), "кабельные линии", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, 0.05)
	_, _, err := f.engine.Search(context.Background(), "", nil, 5)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestRetrieveMergesPathsIntoHybrid(t *testing.T) {
	f := newFixture(t, 0)
	plan := f.rewriter.Analyze("насос расход напор")

	result, err := f.retriever.Retrieve(context.Background(), plan, nil, []string{domain.CollectionText})
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)

	top := result.Candidates[0]
	assert.Equal(t, "c-pump", top.ID())
	assert.Equal(t, SearchHybrid, top.SearchType)
	assert.Greater(t, top.BM25, 0.0)
	assert.Greater(t, top.Dense, 0.0)
	assert.InDelta(t, WeightBM25*top.BM25+WeightDense*top.Dense, top.Fused, 1e-9)
	assert.Empty(t, result.FailedCollections)
}

func TestRetrieveDeterministicOrder(t *testing.T) {
	f := newFixture(t, 0)
	plan := f.rewriter.Analyze("трубопроводной арматуры")

	a, err := f.retriever.Retrieve(context.Background(), plan, nil, nil)
	require.NoError(t, err)
	b, err := f.retriever.Retrieve(context.Background(), plan, nil, nil)
	require.NoError(t, err)

	require.Equal(t, len(a.Candidates), len(b.Candidates))
	for i := range a.Candidates {
		assert.Equal(t, a.Candidates[i].ID(), b.Candidates[i].ID())
	}
}

func TestMinMaxNormalize(t *testing.T) {
	out := minMaxNormalize([]float64{2, 6, 4})
	assert.Equal(t, []float64{0, 1, 0.5}, out)

	// Equal scores must not divide by zero; fused order decides.
	out = minMaxNormalize([]float64{3, 3})
	assert.Equal(t, []float64{1, 1}, out)

	assert.Empty(t, minMaxNormalize(nil))
}

func TestCandidateTextLayout(t *testing.T) {
	c := &Candidate{Chunk: &domain.Chunk{Common: domain.CommonPayload{
		DocTitle: "СП 101.13330",
		Section:  "5 Насосные станции",
		Clause:   "5.2",
		Content:  "насос должен обеспечивать расход",
	}}}
	text := candidateText(c)
	assert.True(t, strings.HasPrefix(text, "СП 101.13330\n"))
	assert.Contains(t, text, "5 Насосные станции")
	assert.Contains(t, text, "насос должен")

	c.Chunk.Common.Content = strings.Repeat("я", maxRerankDocChars*2)
	long := candidateText(c)
	assert.LessOrEqual(t, len([]rune(long)), maxRerankDocChars)
}

func TestHTTPRerankerScoresInInputOrder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// First call fails transiently to exercise the retry path.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		scores := make([]float64, len(req.Documents))
		for i := range scores {
			scores[i] = float64(len(req.Documents) - i)
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: scores})
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPRerankerConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	defer func() { _ = r.Close() }()

	results, err := r.Rerank(context.Background(), "насос", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 3.0, results[0].Score)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestHTTPRerankerClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPRerankerConfig{Endpoint: srv.URL})
	_, err := r.Rerank(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}
