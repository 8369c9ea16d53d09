package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"
)

// StaticEmbedder is a deterministic, offline embedder. It hashes word
// features into a fixed-width vector, so identical texts always embed
// identically and near-duplicate texts land near each other. Quality is far
// below a real model; it exists for tests and for smoke-checking a
// deployment with no Ollama reachable.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dims: StaticDimensions}
}

// Embed generates a deterministic embedding for text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(text), nil
}

// EmbedBatch generates deterministic embeddings for texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *StaticEmbedder) embedOne(text string) []float32 {
	v := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return v
	}

	for _, w := range words {
		// Word plus character trigrams, so inflected forms overlap.
		features := []string{w}
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			features = append(features, string(runes[i:i+3]))
		}
		for _, f := range features {
			sum := sha256.Sum256([]byte(f))
			idx := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dims)
			sign := float32(1)
			if sum[4]&1 == 1 {
				sign = -1
			}
			v[idx] += sign
		}
	}
	return normalizeVector(v)
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true; the static embedder has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }
