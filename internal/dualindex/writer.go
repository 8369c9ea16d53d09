// Package dualindex coordinates writes across the vector and lexical
// indexes of a collection. The write order is fixed: vectors first, then
// the keyword index, then the visibility marker in SQLite. A crash between
// steps leaves orphaned vectors, which are invisible to queries (results
// join against visible documents) and cleaned up by the doctor pass —
// never a chunk that is searchable in one index but missing from the other
// direction that matters.
package dualindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/store"
)

// leaseTimeout bounds how long a writer waits for another writer to
// release the collection lease.
const leaseTimeout = 30 * time.Second

// Writer performs coordinated dual-index writes for all collections.
type Writer struct {
	collections *store.Collections
	leaseDir    string
	logger      *slog.Logger
}

// NewWriter creates the dual-index writer. leaseDir holds the per-collection
// lock files; it is created if missing.
func NewWriter(collections *store.Collections, leaseDir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(leaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lease directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{collections: collections, leaseDir: leaseDir, logger: logger}, nil
}

// acquireLease takes the exclusive write lease of one collection. Multiple
// processes may serve queries; only one may write a collection at a time.
func (w *Writer) acquireLease(ctx context.Context, collection string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(w.leaseDir, collection+".lock"))

	leaseCtx, cancel := context.WithTimeout(ctx, leaseTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(leaseCtx, 250*time.Millisecond)
	if err != nil {
		return nil, errors.Timeout(fmt.Sprintf("waiting for write lease on %s", collection), err)
	}
	if !locked {
		return nil, errors.Transient(fmt.Sprintf("write lease on %s is held elsewhere", collection), nil)
	}
	return lock, nil
}

// Upsert writes chunks and their vectors into one collection. The write is
// idempotent: re-writing an identical chunk ID with identical content is a
// no-op overwrite. A chunk ID collision with a DIFFERENT source hash means
// two distinct contents derived the same ID, which breaks the identity
// scheme and is fatal for the collection.
func (w *Writer) Upsert(ctx context.Context, collection string, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return errors.Internal(
			fmt.Sprintf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors)), nil)
	}

	col, err := w.collections.Get(collection)
	if err != nil {
		return err
	}

	lease, err := w.acquireLease(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Unlock() }()

	if err := w.checkCollisions(col, chunks); err != nil {
		return err
	}

	// Vector side first: it carries the payload, so a chunk visible in the
	// keyword index can always be resolved.
	if err := col.Vector.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("vector upsert into %s: %w", collection, err)
	}

	// Keyword side second, with a retry; after the vector write succeeded
	// a lexical failure is the one gap that would lose recall.
	err = errors.Retry(ctx, errors.DefaultRetryConfig(), func() error {
		return col.Lexical.Index(ctx, chunks)
	})
	if err != nil {
		w.logger.Error("lexical index write failed after vector write",
			slog.String("collection", collection),
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()))
		return errors.New(errors.KindPartial,
			fmt.Sprintf("lexical write into %s failed; vectors are staged", collection), err)
	}

	w.logger.Debug("dual-index upsert",
		slog.String("collection", collection),
		slog.Int("chunks", len(chunks)))
	return nil
}

// checkCollisions verifies that every incoming chunk ID either is new or
// belongs to the same source content.
func (w *Writer) checkCollisions(col *store.Collection, chunks []domain.Chunk) error {
	for _, ch := range chunks {
		existing, ok := col.Vector.Get(ch.ID())
		if !ok {
			continue
		}
		if existing.Common.SourceHash != ch.Common.SourceHash {
			return errors.Integrity("chunk ID collision across different source content", nil).
				WithDetail("chunk_id", ch.ID()).
				WithDetail("existing_source_hash", existing.Common.SourceHash).
				WithDetail("incoming_source_hash", ch.Common.SourceHash)
		}
	}
	return nil
}

// MarkVisible flips the document to ready after both indexes hold its
// chunks. Queries treat only ready documents as authoritative.
func (w *Writer) MarkVisible(ctx context.Context, documentID string) error {
	return w.collections.Meta().SetDocumentStatus(ctx, documentID, domain.DocReady, "")
}

// Delete removes chunks by ID from one collection, lexical side first so a
// crash leaves unsearchable orphans rather than dangling keyword hits.
func (w *Writer) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := w.collections.Get(collection)
	if err != nil {
		return err
	}

	lease, err := w.acquireLease(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Unlock() }()

	if err := col.Lexical.Delete(ctx, ids); err != nil {
		return fmt.Errorf("lexical delete from %s: %w", collection, err)
	}
	if err := col.Vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("vector delete from %s: %w", collection, err)
	}
	return nil
}

// DeleteBySource removes every chunk of one source document from every
// collection, for re-ingestion of a changed file.
func (w *Writer) DeleteBySource(ctx context.Context, sourceHash string) (int, error) {
	total := 0
	filter := &store.Filter{Equals: map[string]string{"source_hash": sourceHash}}

	for _, col := range w.collections.All() {
		lease, err := w.acquireLease(ctx, col.Name)
		if err != nil {
			return total, err
		}

		// Collect matching IDs from the payload store, then delete from
		// both sides.
		var ids []string
		for _, id := range allIDs(col.Vector) {
			if ch, ok := col.Vector.Get(id); ok && ch.Common.SourceHash == sourceHash {
				ids = append(ids, id)
			}
		}
		if err := col.Lexical.Delete(ctx, ids); err != nil {
			_ = lease.Unlock()
			return total, fmt.Errorf("lexical delete from %s: %w", col.Name, err)
		}
		// Lexical entries indexed before the payload existed are covered
		// by the filter delete.
		if _, err := col.Lexical.DeleteByFilter(ctx, filter); err != nil {
			_ = lease.Unlock()
			return total, err
		}
		if err := col.Vector.Delete(ctx, ids); err != nil {
			_ = lease.Unlock()
			return total, fmt.Errorf("vector delete from %s: %w", col.Name, err)
		}
		total += len(ids)
		_ = lease.Unlock()
	}
	return total, nil
}

// Save persists every vector index to disk.
func (w *Writer) Save() error {
	return w.collections.Save()
}

func allIDs(v store.VectorStore) []string {
	type lister interface{ AllIDs() []string }
	if l, ok := v.(lister); ok {
		return l.AllIDs()
	}
	return nil
}
