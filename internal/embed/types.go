// Package embed generates dense vectors for chunks and queries. The
// production provider is an Ollama server running a multilingual model
// (bge-m3 by default); the static provider exists for tests and air-gapped
// smoke runs. All vectors are unit-normalised so cosine similarity reduces
// to a dot product in the vector store.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultModel is multilingual; Russian and English queries land in the
	// same vector space, which the bilingual archives depend on.
	DefaultModel = "bge-m3"

	DefaultHost      = "http://localhost:11434"
	DefaultBatchSize = 64
	MaxBatchSize     = 256
	DefaultTimeout   = 60 * time.Second

	// StaticDimensions is the vector width of the static test embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks whether the embedder is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
