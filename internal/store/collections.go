package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// Collection is the paired lexical and vector index of one chunk family.
type Collection struct {
	Name    string
	Lexical LexicalStore
	Vector  VectorStore
}

// Collections owns every open collection plus the metadata store.
type Collections struct {
	byName map[string]*Collection
	meta   *MetadataStore
}

// OpenCollections opens the metadata store and all text collections under
// dataDir, binding each to the embedding contract. A collection previously
// bound to a different model or dimension refuses to open.
func OpenCollections(ctx context.Context, dataDir string, dims int, model string) (*Collections, error) {
	meta, err := NewMetadataStore(filepath.Join(dataDir, "altadoc.db"))
	if err != nil {
		return nil, err
	}

	c := &Collections{byName: make(map[string]*Collection), meta: meta}
	for _, name := range domain.TextCollections() {
		if err := meta.BindCollection(ctx, CollectionMeta{Name: name, Dimension: dims, Model: model}); err != nil {
			_ = c.Close()
			return nil, err
		}

		dir := filepath.Join(dataDir, "collections", name)
		lexical, err := NewBleveLexicalIndex(filepath.Join(dir, "bleve"))
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("open collection %s: %w", name, err)
		}
		vector, err := NewHNSWVectorIndex(filepath.Join(dir, "vectors"), VectorConfig{Dimensions: dims})
		if err != nil {
			_ = lexical.Close()
			_ = c.Close()
			return nil, fmt.Errorf("open collection %s: %w", name, err)
		}
		c.byName[name] = &Collection{Name: name, Lexical: lexical, Vector: vector}
	}
	return c, nil
}

// Meta returns the metadata store.
func (c *Collections) Meta() *MetadataStore { return c.meta }

// Get returns a collection by name.
func (c *Collections) Get(name string) (*Collection, error) {
	col, ok := c.byName[name]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("collection %s", name))
	}
	return col, nil
}

// All returns every open collection in a stable order.
func (c *Collections) All() []*Collection {
	out := make([]*Collection, 0, len(c.byName))
	for _, name := range domain.TextCollections() {
		if col, ok := c.byName[name]; ok {
			out = append(out, col)
		}
	}
	return out
}

// Save persists every vector index.
func (c *Collections) Save() error {
	for _, col := range c.byName {
		if err := col.Vector.Save(); err != nil {
			return fmt.Errorf("save collection %s: %w", col.Name, err)
		}
	}
	return nil
}

// Close saves and closes everything; the first error wins but all
// collections are still closed.
func (c *Collections) Close() error {
	var firstErr error
	for _, col := range c.byName {
		if err := col.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := col.Lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.meta != nil {
		if err := c.meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
