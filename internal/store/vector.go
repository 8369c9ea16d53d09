package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// VectorConfig configures one HNSW collection.
type VectorConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// HNSWVectorIndex is an in-memory HNSW graph with a payload map, persisted
// as two files: the exported graph and a gob of IDs plus chunk payloads.
// Deletion is lazy — the node stays in the graph but loses its ID mapping —
// because removing nodes destabilises small graphs.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig
	path   string // empty = memory only

	idMap   map[string]uint64
	keyMap  map[uint64]string
	chunks  map[string]domain.Chunk
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWVectorIndex)(nil)

// vectorMeta is the gob sidecar.
type vectorMeta struct {
	IDMap   map[string]uint64
	Chunks  map[string]domain.Chunk
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWVectorIndex opens or creates the vector index rooted at dir. An
// empty dir keeps the index in memory for tests.
func NewHNSWVectorIndex(dir string, cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.InvalidInput("vector dimensions must be positive", nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 48
	}

	s := &HNSWVectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
		path:   dir,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		chunks: make(map[string]domain.Chunk),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vector index directory: %w", err)
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

func (s *HNSWVectorIndex) graphPath() string { return filepath.Join(s.path, "vectors.hnsw") }
func (s *HNSWVectorIndex) metaPath() string  { return filepath.Join(s.path, "vectors.meta") }

func (s *HNSWVectorIndex) load() error {
	f, err := os.Open(s.graphPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return errors.Integrity("vector graph is corrupt; re-ingest the collection", err).
			WithDetail("path", s.graphPath())
	}

	mf, err := os.Open(s.metaPath())
	if err != nil {
		return errors.Integrity("vector metadata missing alongside graph", err).
			WithDetail("path", s.metaPath())
	}
	defer func() { _ = mf.Close() }()

	var meta vectorMeta
	if err := gob.NewDecoder(bufio.NewReader(mf)).Decode(&meta); err != nil {
		return errors.Integrity("vector metadata is corrupt; re-ingest the collection", err).
			WithDetail("path", s.metaPath())
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return errors.Integrity("stored vector dimension does not match configuration", nil).
			WithDetail("stored", fmt.Sprintf("%d", meta.Config.Dimensions)).
			WithDetail("configured", fmt.Sprintf("%d", s.config.Dimensions))
	}

	s.idMap = meta.IDMap
	s.chunks = meta.Chunks
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Upsert inserts or replaces chunks with their vectors.
func (s *HNSWVectorIndex) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.Internal(
			fmt.Sprintf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors)), nil)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, ch := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := ch.ID()
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
		}
		key := s.nextKey
		s.nextKey++

		s.graph.Add(hnsw.MakeNode(key, vectors[i]))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.chunks[id] = ch
	}
	return nil
}

// Search finds the nearest chunks to the query vector. When a filter is
// present the graph is over-fetched and results are filtered on payload,
// since HNSW cannot filter during traversal.
func (s *HNSWVectorIndex) Search(ctx context.Context, vector []float32, filter *Filter, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.Internal("vector index is closed", nil)
	}
	if len(vector) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}
	if limit <= 0 {
		limit = 10
	}
	if s.graph.Len() == 0 {
		return []Hit{}, nil
	}

	fetch := limit
	if !filter.Empty() {
		fetch = limit * 4
	}
	// Lazy-deleted orphans also eat into the fetch budget.
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := s.graph.Search(vector, fetch)

	hits := make([]Hit, 0, limit)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // lazy-deleted
		}
		ch, ok := s.chunks[id]
		if !ok {
			continue
		}
		if !filter.Matches(&ch.Common) {
			continue
		}
		distance := s.graph.Distance(vector, node.Value)
		hits = append(hits, Hit{ChunkID: id, Score: 1 - float64(distance)})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// Get returns the stored chunk by ID.
func (s *HNSWVectorIndex) Get(id string) (*domain.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[id]
	if !ok {
		return nil, false
	}
	return &ch, true
}

// Delete removes chunks by ID (lazily: mapping and payload only).
func (s *HNSWVectorIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("vector index is closed", nil)
	}
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.chunks, id)
		}
	}
	return nil
}

// Count returns the number of live chunks.
func (s *HNSWVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// AllIDs returns the IDs of all live chunks, for consistency checks.
func (s *HNSWVectorIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the graph and metadata atomically (temp file plus rename).
func (s *HNSWVectorIndex) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.path == "" {
		return nil
	}
	if s.closed {
		return errors.Internal("vector index is closed", nil)
	}

	if err := writeAtomic(s.graphPath(), func(w *bufio.Writer) error {
		return s.graph.Export(w)
	}); err != nil {
		return fmt.Errorf("save vector graph: %w", err)
	}

	meta := vectorMeta{
		IDMap:   s.idMap,
		Chunks:  s.chunks,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := writeAtomic(s.metaPath(), func(w *bufio.Writer) error {
		return gob.NewEncoder(w).Encode(&meta)
	}); err != nil {
		return fmt.Errorf("save vector metadata: %w", err)
	}

	slog.Debug("vector index saved",
		slog.String("path", s.path),
		slog.Int("chunks", len(s.idMap)))
	return nil
}

func writeAtomic(path string, write func(*bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Close persists and releases the index.
func (s *HNSWVectorIndex) Close() error {
	if err := s.Save(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
