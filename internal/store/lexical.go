package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// docAnalyzerName is the bilingual content analyzer: unicode segmentation
// plus lowercasing handles Cyrillic and Latin tokens alike.
const docAnalyzerName = "doc_analyzer"

const deleteBatchSize = 500

// BleveLexicalIndex wraps a Bleve index for one collection.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalStore = (*BleveLexicalIndex)(nil)

// NewBleveLexicalIndex opens or creates the index at path. An empty path
// creates an in-memory index for tests.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	m := bleve.NewIndexMapping()

	if err := m.AddCustomAnalyzer(docAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, err
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = docAnalyzerName
	contentField.Store = false

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("section", contentField)
	doc.AddFieldMappingsAt("keywords", contentField)
	for _, f := range []string{
		"project_id", "object_id", "discipline", "doc_no", "revision",
		"language", "chunk_type", "vendor", "confidentiality", "clause",
		"source_hash", "tags",
	} {
		doc.AddFieldMappingsAt(f, keywordField)
	}
	// Numeric fact fields (num_*) fall through to the dynamic mapping and
	// index as numbers.

	m.DefaultMapping = doc
	m.DefaultAnalyzer = docAnalyzerName
	return m, nil
}

// bleveDoc flattens a chunk for indexing.
func bleveDoc(ch domain.Chunk) map[string]any {
	p := ch.Common
	doc := map[string]any{
		"content":         p.Content,
		"project_id":      p.ProjectID,
		"object_id":       p.ObjectID,
		"discipline":      string(p.Discipline),
		"doc_no":          p.DocNo,
		"revision":        p.Revision,
		"language":        p.Language,
		"chunk_type":      string(p.ChunkType),
		"vendor":          p.Vendor,
		"confidentiality": string(p.Confidentiality),
		"section":         p.Section,
		"clause":          p.Clause,
		"source_hash":     p.SourceHash,
	}
	if len(p.Tags) > 0 {
		doc["tags"] = p.Tags
	}
	if len(p.Keywords) > 0 {
		doc["keywords"] = p.Keywords
	}
	for name, fact := range p.Numeric {
		doc["num_"+name] = fact.Value
	}
	return doc
}

// Index upserts chunks in one batch.
func (s *BleveLexicalIndex) Index(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, ch := range chunks {
		if err := batch.Index(ch.ID(), bleveDoc(ch)); err != nil {
			return fmt.Errorf("batch chunk %s: %w", ch.ID(), err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.Transient("lexical batch write", err)
	}
	return nil
}

// Search runs a BM25 match query over content, restricted by the filter.
// An empty query string matches everything, for filter-only lookups such
// as direct reference retrieval.
func (s *BleveLexicalIndex) Search(ctx context.Context, queryStr string, filter *Filter, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.Internal("lexical index is closed", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	var base query.Query
	if queryStr == "" {
		base = bleve.NewMatchAllQuery()
	} else {
		match := bleve.NewMatchQuery(queryStr)
		match.SetField("content")
		match.Analyzer = docAnalyzerName
		base = match
	}

	full := withFilter(base, filter)
	req := bleve.NewSearchRequestOptions(full, limit, 0, false)
	req.Fields = []string{}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Transient("lexical search", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// withFilter wraps base in a conjunction with the filter's conditions.
func withFilter(base query.Query, filter *Filter) query.Query {
	if filter.Empty() {
		return base
	}
	conj := bleve.NewConjunctionQuery(base)
	for field, value := range filter.Equals {
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		conj.AddQuery(tq)
	}
	for field, values := range filter.In {
		disj := bleve.NewDisjunctionQuery()
		for _, v := range values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			disj.AddQuery(tq)
		}
		conj.AddQuery(disj)
	}
	for fact, r := range filter.Ranges {
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(r.Min, r.Max, &inclusive, &inclusive)
		nq.SetField("num_" + fact)
		conj.AddQuery(nq)
	}
	return conj
}

// Delete removes chunks by ID.
func (s *BleveLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.Transient("lexical batch delete", err)
	}
	return nil
}

// DeleteByFilter removes every chunk matching the filter.
func (s *BleveLexicalIndex) DeleteByFilter(ctx context.Context, filter *Filter) (int, error) {
	if filter.Empty() {
		return 0, errors.InvalidInput("refusing to delete with an empty filter", nil)
	}

	deleted := 0
	for {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return deleted, errors.Internal("lexical index is closed", nil)
		}
		full := withFilter(bleve.NewMatchAllQuery(), filter)
		req := bleve.NewSearchRequestOptions(full, deleteBatchSize, 0, false)
		req.Fields = []string{}
		res, err := s.index.SearchInContext(ctx, req)
		s.mu.RUnlock()
		if err != nil {
			return deleted, errors.Transient("lexical filtered search", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		ids := make([]string, 0, len(res.Hits))
		for _, h := range res.Hits {
			ids = append(ids, h.ID)
		}
		if err := s.Delete(ctx, ids); err != nil {
			return deleted, err
		}
		deleted += len(ids)

		slog.Debug("lexical delete batch",
			slog.Int("deleted", len(ids)),
			slog.Int("total", deleted))
	}
}

// Has reports whether a chunk ID is present in the index. Used by the
// doctor pass to verify cross-index membership.
func (s *BleveLexicalIndex) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, errors.Internal("lexical index is closed", nil)
	}
	doc, err := s.index.Document(id)
	if err != nil {
		return false, errors.Transient("lexical document lookup", err)
	}
	return doc != nil, nil
}

// Count returns the number of indexed chunks.
func (s *BleveLexicalIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.Internal("lexical index is closed", nil)
	}
	return s.index.DocCount()
}

// Close releases the index.
func (s *BleveLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}
