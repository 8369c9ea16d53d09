package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "центробежный насос 50 м3/ч")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "центробежный насос 50 м3/ч")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
}

func TestStaticEmbedderUnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "pump performance curve")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	pump1, _ := e.Embed(ctx, "центробежный насос для воды")
	pump2, _ := e.Embed(ctx, "центробежный насос для перекачки воды")
	valve, _ := e.Embed(ctx, "задвижка стальная фланцевая")

	assert.Greater(t, dot(pump1, pump2), dot(pump1, valve))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)

	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func newOllamaStub(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "bge-m3:latest"}},
			})
		case "/api/embed":
			if calls != nil {
				calls.Add(1)
			}
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			n := 1
			if arr, ok := req.Input.([]any); ok {
				n = len(arr)
			}
			embeddings := make([][]float64, n)
			for i := range embeddings {
				vec := make([]float64, dims)
				vec[0] = 1
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEmbedderBatch(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaStub(t, 8, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Model:      "bge-m3",
		Dimensions: 8,
		BatchSize:  2,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "", "e"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// Empty input embeds to a zero vector without an API call.
	for _, x := range vecs[3] {
		assert.Zero(t, x)
	}
	// 4 non-empty texts at batch size 2 is two calls.
	assert.Equal(t, int64(2), calls.Load())

	// Returned vectors are unit-normalised.
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestOllamaEmbedderModelDiscovery(t *testing.T) {
	srv := newOllamaStub(t, 8, nil)
	defer srv.Close()

	// Base name matches the served "bge-m3:latest" tag.
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "bge-m3",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))

	_, err = NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	assert.Error(t, err)
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaStub(t, 8, &calls)
	defer srv.Close()

	inner, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Model:      "bge-m3",
		Dimensions: 8,
	})
	require.NoError(t, err)

	e, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	_, err = e.Embed(ctx, "насос")
	require.NoError(t, err)
	_, err = e.Embed(ctx, "насос")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	// Batch with one cached and one new text embeds only the miss.
	vecs, err := e.EmbedBatch(ctx, []string{"насос", "клапан"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFactorySelectsProvider(t *testing.T) {
	e, err := New(context.Background(), FactoryConfig{Provider: "static"})
	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())

	_, err = New(context.Background(), FactoryConfig{Provider: "bogus"})
	assert.Error(t, err)
}
