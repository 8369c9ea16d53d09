package dualindex

import (
	"context"
	"log/slog"
	"sort"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/store"
)

// CollectionReport is the doctor's view of one collection.
type CollectionReport struct {
	Name         string
	VectorCount  int
	LexicalCount uint64

	// MissingLexical lists chunk IDs present in the vector store but absent
	// from the keyword index: the gap left by a crash between the vector
	// write and the lexical write.
	MissingLexical []string
}

// Healthy reports whether the collection satisfies the cross-index
// membership invariant.
func (r *CollectionReport) Healthy() bool {
	return len(r.MissingLexical) == 0
}

// Report is the outcome of a consistency check over every collection.
type Report struct {
	Collections []CollectionReport
}

// Healthy reports whether every collection checked out.
func (r *Report) Healthy() bool {
	for i := range r.Collections {
		if !r.Collections[i].Healthy() {
			return false
		}
	}
	return true
}

// idLister is implemented by vector stores that can enumerate their chunk
// IDs; the HNSW index does.
type idLister interface{ AllIDs() []string }

// hasChecker is implemented by lexical stores that support membership
// lookup by ID; the Bleve index does.
type hasChecker interface{ Has(id string) (bool, error) }

// Doctor verifies the cross-index membership invariant: every chunk in the
// vector store is findable in the keyword index. The reverse direction
// cannot go wrong under the fixed write order, so it is not walked.
func (w *Writer) Doctor(ctx context.Context) (*Report, error) {
	report := &Report{}
	for _, col := range w.collections.All() {
		cr := CollectionReport{Name: col.Name, VectorCount: col.Vector.Count()}
		if n, err := col.Lexical.Count(); err == nil {
			cr.LexicalCount = n
		}

		lister, ok := col.Vector.(idLister)
		checker, checkable := col.Lexical.(hasChecker)
		if ok && checkable {
			ids := lister.AllIDs()
			sort.Strings(ids)
			for _, id := range ids {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				present, err := checker.Has(id)
				if err != nil {
					return nil, err
				}
				if !present {
					cr.MissingLexical = append(cr.MissingLexical, id)
				}
			}
		}
		report.Collections = append(report.Collections, cr)
	}
	return report, nil
}

// Repair closes the gaps a Doctor run found by re-indexing the missing
// chunks into the keyword side from the vector store's payloads. Vectors
// are never touched; they are the authoritative copy.
func (w *Writer) Repair(ctx context.Context, report *Report) (int, error) {
	repaired := 0
	for i := range report.Collections {
		cr := &report.Collections[i]
		if cr.Healthy() {
			continue
		}
		col, err := w.collections.Get(cr.Name)
		if err != nil {
			return repaired, err
		}

		lease, err := w.acquireLease(ctx, cr.Name)
		if err != nil {
			return repaired, err
		}

		chunks := make([]domain.Chunk, 0, len(cr.MissingLexical))
		for _, id := range cr.MissingLexical {
			if ch, ok := col.Vector.Get(id); ok {
				chunks = append(chunks, *ch)
			}
		}
		if err := col.Lexical.Index(ctx, chunks); err != nil {
			_ = lease.Unlock()
			return repaired, err
		}
		_ = lease.Unlock()
		repaired += len(chunks)

		w.logger.Info("repaired lexical index",
			slog.String("collection", cr.Name),
			slog.Int("chunks", len(chunks)))
	}
	return repaired, nil
}

// Collections exposes the writer's collection set for read-only status
// reporting.
func (w *Writer) Collections() *store.Collections { return w.collections }
