package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/dualindex"
	"github.com/altadoc/altadoc/internal/embed"
	"github.com/altadoc/altadoc/internal/errors"
)

// docChunks is one document's chunk set as produced by a parse worker.
type docChunks struct {
	docID  string
	chunks []domain.Chunk
}

// pending is one chunk waiting for embedding, with the document it counts
// against.
type pending struct {
	docID string
	chunk domain.Chunk
}

// coalescer drains the chunk channel, re-batches chunks across documents
// per collection, embeds each batch, and hands it to the dual-index writer.
// A document becomes visible only after every one of its chunks is written,
// so the visibility marker doubles as the resume point.
type coalescer struct {
	embedder      embed.Embedder
	writer        *dualindex.Writer
	progress      *progress
	batchSize     int
	upsertTimeout time.Duration
	logger        *slog.Logger

	buffers   map[string][]pending // per collection
	remaining map[string]int       // per document
}

func newCoalescer(embedder embed.Embedder, writer *dualindex.Writer, progress *progress,
	batchSize int, upsertTimeout time.Duration, logger *slog.Logger) *coalescer {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	return &coalescer{
		embedder:      embedder,
		writer:        writer,
		progress:      progress,
		batchSize:     batchSize,
		upsertTimeout: upsertTimeout,
		logger:        logger,
		buffers:       make(map[string][]pending),
		remaining:     make(map[string]int),
	}
}

// run consumes the channel until it closes, then flushes every buffer. The
// first fatal write error aborts the job; everything already flushed stays
// written and is skipped on resume.
func (c *coalescer) run(ctx context.Context, in <-chan docChunks) error {
	for dc := range in {
		if err := c.accept(ctx, dc); err != nil {
			drain(in)
			return err
		}
	}
	for collection := range c.buffers {
		if err := c.flush(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

func (c *coalescer) accept(ctx context.Context, dc docChunks) error {
	kept := 0
	for _, ch := range dc.chunks {
		collection := ch.Collection()

		// Drawing vectors belong to an image-embedding space. Without an
		// image encoder the drawings collection stays closed, and indexing
		// caption text there would poison its vector identity.
		if collection == domain.CollectionDrawing {
			c.logger.Debug("dropping drawing chunk: drawings collection is not provisioned",
				slog.String("chunk_id", ch.ID()))
			continue
		}
		c.buffers[collection] = append(c.buffers[collection], pending{docID: dc.docID, chunk: ch})
		kept++
	}

	c.remaining[dc.docID] += kept
	if kept == 0 {
		// Nothing indexable; the document is trivially visible.
		return c.settle(ctx, dc.docID, 0)
	}

	for collection, buf := range c.buffers {
		if len(buf) >= c.batchSize {
			if err := c.flush(ctx, collection); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush embeds and writes one collection's buffer in batchSize slices.
func (c *coalescer) flush(ctx context.Context, collection string) error {
	buf := c.buffers[collection]
	c.buffers[collection] = nil

	for len(buf) > 0 {
		n := len(buf)
		if n > c.batchSize {
			n = c.batchSize
		}
		batch := buf[:n]
		buf = buf[n:]

		texts := make([]string, n)
		chunks := make([]domain.Chunk, n)
		for i, p := range batch {
			texts[i] = p.chunk.Common.Content
			chunks[i] = p.chunk
		}

		vectors, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			return c.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return errors.Transient("embedding batch failed after retries", err)
		}
		c.progress.add(func(j *domain.JobCounters) { j.Embedded += n })

		upsertCtx, cancel := context.WithTimeout(ctx, c.upsertTimeout)
		err = c.writer.Upsert(upsertCtx, collection, chunks, vectors)
		cancel()
		if err != nil {
			return err
		}
		c.progress.add(func(j *domain.JobCounters) { j.Indexed += n })

		perDoc := make(map[string]int)
		for _, p := range batch {
			perDoc[p.docID]++
		}
		for docID, written := range perDoc {
			if err := c.settle(ctx, docID, written); err != nil {
				return err
			}
		}
	}
	return nil
}

// settle decrements a document's outstanding chunk count and marks it
// visible once it reaches zero.
func (c *coalescer) settle(ctx context.Context, docID string, written int) error {
	c.remaining[docID] -= written
	if written > 0 && c.remaining[docID] > 0 {
		return nil
	}
	delete(c.remaining, docID)
	if err := c.writer.MarkVisible(ctx, docID); err != nil {
		return err
	}
	c.progress.docVisible(docID)
	return nil
}

// drain unblocks producers after a fatal error so the worker group can
// observe the cancelled context and exit.
func drain(in <-chan docChunks) {
	for range in {
	}
}
