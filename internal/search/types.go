// Package search provides hybrid retrieval combining keyword and vector
// search. Per-source contributions are fused with fixed weights, the top
// candidates pass through a cross-encoder re-ranker, and a similarity
// floor drops weak evidence before it reaches the answer layer.
package search

import (
	"github.com/altadoc/altadoc/internal/domain"
)

// SearchType records which retrieval path produced a candidate.
type SearchType string

const (
	SearchDense     SearchType = "dense"
	SearchLexical   SearchType = "lexical"
	SearchHybrid    SearchType = "hybrid"
	SearchReference SearchType = "reference"
)

// Fusion weights. The remaining 0.3 of the final score belongs to the
// re-ranker.
const (
	WeightBM25  = 0.3
	WeightDense = 0.4
)

const (
	// RerankTopK bounds how many fused candidates reach the cross-encoder.
	RerankTopK = 50

	// FinalTopK bounds what the answer layer sees.
	FinalTopK = 10

	// DefaultFloor drops candidates whose final score is below it.
	DefaultFloor = 0.7

	// PerCollectionLimit is the fetch depth per collection per rewrite,
	// for each of the dense and keyword paths.
	PerCollectionLimit = 30

	// ReferenceLimit caps hits per extracted document reference.
	ReferenceLimit = 10

	// MaxConcurrentSearches caps per-query fan-out across rewrites,
	// collections, and the two retrieval paths.
	MaxConcurrentSearches = 32
)

// Candidate is one retrieval result as it moves through fusion and
// re-ranking. BM25 and Dense hold the accumulated per-source
// contributions, each clipped to [0,1] before weighting.
type Candidate struct {
	Chunk      *domain.Chunk
	Collection string
	SearchType SearchType

	BM25   float64
	Dense  float64
	Fused  float64
	Rerank float64
	Final  float64
}

// ID returns the chunk ID of the candidate.
func (c *Candidate) ID() string { return c.Chunk.Common.ChunkID }

// dedupKey identifies one logical evidence unit across retrieval paths.
// Distinct chunk IDs citing the same clause stay distinct candidates.
type dedupKey struct {
	docNo   string
	section string
	clause  string
	chunkID string
}

func keyOf(ch *domain.Chunk) dedupKey {
	return dedupKey{
		docNo:   ch.Common.DocNo,
		section: ch.Common.Section,
		clause:  ch.Common.Clause,
		chunkID: ch.Common.ChunkID,
	}
}

// Result is the outcome of one retrieval, including which collections
// failed so the answer layer can downgrade confidence instead of
// aborting.
type Result struct {
	Candidates        []*Candidate
	FailedCollections []string
}
