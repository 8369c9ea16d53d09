// Package store is the persistence layer: a Bleve BM25 index and an HNSW
// vector index per collection, plus SQLite for archives, documents, and
// jobs. The two indexes are written together by the dual-index writer;
// nothing in this package enforces cross-index consistency on its own.
package store

import (
	"context"
	"fmt"

	"github.com/altadoc/altadoc/internal/domain"
)

// Hit is one scored result from either index.
type Hit struct {
	ChunkID string
	Score   float64
}

// NumericRange bounds one numeric fact. Nil means unbounded on that side.
type NumericRange struct {
	Min *float64
	Max *float64
}

// Filter restricts search to chunks matching every listed condition.
type Filter struct {
	// Equals requires exact match on a metadata field.
	Equals map[string]string

	// In requires the field value to be one of the listed values.
	In map[string][]string

	// Ranges requires a numeric fact within bounds, keyed by fact name.
	Ranges map[string]NumericRange
}

// Empty reports whether the filter imposes no conditions.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Equals) == 0 && len(f.In) == 0 && len(f.Ranges) == 0)
}

// Matches evaluates the filter against a chunk payload.
func (f *Filter) Matches(p *domain.CommonPayload) bool {
	if f.Empty() {
		return true
	}
	for field, want := range f.Equals {
		if payloadField(p, field) != want {
			return false
		}
	}
	for field, values := range f.In {
		got := payloadField(p, field)
		ok := false
		for _, v := range values {
			if got == v {
				ok = true
				break
			}
		}
		if !ok && field == "tags" {
			for _, tag := range p.Tags {
				for _, v := range values {
					if tag == v {
						ok = true
					}
				}
			}
		}
		if !ok {
			return false
		}
	}
	for fact, r := range f.Ranges {
		nf, ok := p.Numeric[fact]
		if !ok {
			return false
		}
		if r.Min != nil && nf.Value < *r.Min {
			return false
		}
		if r.Max != nil && nf.Value > *r.Max {
			return false
		}
	}
	return true
}

// payloadField resolves the filterable metadata fields by name. The names
// double as Bleve field names so both indexes filter identically.
func payloadField(p *domain.CommonPayload, field string) string {
	switch field {
	case "project_id":
		return p.ProjectID
	case "object_id":
		return p.ObjectID
	case "discipline":
		return string(p.Discipline)
	case "doc_no":
		return p.DocNo
	case "revision":
		return p.Revision
	case "language":
		return p.Language
	case "chunk_type":
		return string(p.ChunkType)
	case "vendor":
		return p.Vendor
	case "confidentiality":
		return string(p.Confidentiality)
	case "section":
		return p.Section
	case "clause":
		return p.Clause
	case "source_hash":
		return p.SourceHash
	case "tags":
		if len(p.Tags) > 0 {
			return p.Tags[0]
		}
		return ""
	default:
		return ""
	}
}

// LexicalStore is the BM25 side of a collection.
type LexicalStore interface {
	// Index upserts chunks into the keyword index.
	Index(ctx context.Context, chunks []domain.Chunk) error

	// Search runs a BM25 query restricted by the filter.
	Search(ctx context.Context, query string, filter *Filter, limit int) ([]Hit, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes all chunks matching the filter, returning the
	// number removed.
	DeleteByFilter(ctx context.Context, filter *Filter) (int, error)

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	// Close releases the index.
	Close() error
}

// VectorStore is the dense side of a collection. It also serves as the
// payload store: a chunk's full metadata and content are retrievable by ID.
type VectorStore interface {
	// Upsert inserts or replaces chunks with their vectors.
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error

	// Search finds the nearest chunks to the query vector, restricted by
	// the filter.
	Search(ctx context.Context, vector []float32, filter *Filter, limit int) ([]Hit, error)

	// Get returns the stored chunk by ID.
	Get(id string) (*domain.Chunk, bool)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored chunks.
	Count() int

	// Save persists the index to disk.
	Save() error

	// Close persists and releases the index.
	Close() error
}

// ErrDimensionMismatch is returned when a vector's width does not match the
// collection it is written to.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
