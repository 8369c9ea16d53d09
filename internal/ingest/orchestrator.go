// Package ingest drives archive ingestion end to end: list the archive,
// read the manifest, then fetch, parse, chunk, embed and index every file.
// Files are processed by a bounded worker pool; chunks flow through a
// bounded channel into a batching coalescer, so embedding back-pressure
// pauses object-store reads instead of growing memory.
//
// Everything downstream of parsing is deterministic, which is what makes a
// job resumable: a document marked ready has all of its chunks visible in
// both indexes, and re-running the pipeline skips it.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/altadoc/altadoc/internal/chunker"
	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/dualindex"
	"github.com/altadoc/altadoc/internal/embed"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/objstore"
	"github.com/altadoc/altadoc/internal/parser"
	"github.com/altadoc/altadoc/internal/store"
)

// Config tunes the ingestion pipeline.
type Config struct {
	// Workers is the file worker pool size.
	Workers int

	// BatchSize is chunks per embedding call.
	BatchSize int

	// ChannelFactor sizes the chunk channel as factor x batch size.
	ChannelFactor int

	// FetchTimeout bounds one object-store read.
	FetchTimeout time.Duration

	// UpsertTimeout bounds one index upsert.
	UpsertTimeout time.Duration
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		BatchSize:     embed.DefaultBatchSize,
		ChannelFactor: 4,
		FetchTimeout:  30 * time.Second,
		UpsertTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ChannelFactor <= 0 {
		c.ChannelFactor = d.ChannelFactor
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.UpsertTimeout <= 0 {
		c.UpsertTimeout = d.UpsertTimeout
	}
	return c
}

// Orchestrator runs single-archive ingestion jobs.
type Orchestrator struct {
	objects  objstore.Store
	parsers  *parser.Registry
	chunker  *chunker.Chunker
	embedder embed.Embedder
	writer   *dualindex.Writer
	meta     *store.MetadataStore
	cfg      Config
	logger   *slog.Logger
}

// New assembles the orchestrator.
func New(objects objstore.Store, parsers *parser.Registry, ch *chunker.Chunker,
	embedder embed.Embedder, writer *dualindex.Writer, meta *store.MetadataStore,
	cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		objects:  objects,
		parsers:  parsers,
		chunker:  ch,
		embedder: embedder,
		writer:   writer,
		meta:     meta,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// progress is the shared, persisted job state. Counter updates go through
// the mutex and are flushed to the job table so status stays readable while
// the job runs.
type progress struct {
	mu   sync.Mutex
	job  *domain.Job
	meta *store.MetadataStore
	ctx  context.Context
}

func (p *progress) add(update func(*domain.JobCounters)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.job.Counters)
	_ = p.meta.UpdateJob(p.ctx, *p.job)
}

func (p *progress) setPhase(phase domain.JobPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.Phase = phase
	_ = p.meta.UpdateJob(p.ctx, *p.job)
}

func (p *progress) fileFailed(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.Counters.FailedFiles++
	p.job.FileErrors = append(p.job.FileErrors, domain.FileError{Path: path, Message: err.Error()})
	_ = p.meta.AppendFileError(p.ctx, p.job.ID, domain.FileError{Path: path, Message: err.Error()})
	_ = p.meta.UpdateJob(p.ctx, *p.job)
}

func (p *progress) docVisible(string) {}

// Ingest runs the whole pipeline for the archive rooted at archiveRef in
// the object store. It blocks until the job reaches a terminal phase and
// returns the job either way; the error mirrors the job's failure, not
// per-file trouble.
//
// Re-ingesting a byte-identical archive that already completed returns the
// finished job without touching the indexes.
func (o *Orchestrator) Ingest(ctx context.Context, archiveRef string) (*domain.Job, error) {
	paths, err := o.listArchive(ctx, archiveRef)
	if err != nil {
		return nil, err
	}

	manifestPath, manifest, manifestData, err := o.loadManifest(ctx, archiveRef, paths)
	if err != nil {
		return nil, err
	}

	digest, size, err := o.archiveDigest(ctx, manifestData, paths)
	if err != nil {
		return nil, err
	}

	archive, created, err := o.meta.CreateArchive(ctx, domain.Archive{
		ID:          uuid.NewString(),
		ContentHash: digest,
		ProjectID:   manifest.ProjectID,
		ObjectID:    manifest.ObjectID,
		Phase:       manifest.Phase,
		SizeBytes:   size,
		ReceivedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		if job := o.completedJob(ctx, archive.ID); job != nil {
			o.logger.Info("archive already ingested, returning completed job",
				slog.String("archive_id", archive.ID),
				slog.String("job_id", job.ID))
			return job, nil
		}
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		ArchiveID: archive.ID,
		Phase:     domain.JobPhaseCreated,
		StartedAt: time.Now().UTC(),
	}
	if err := o.meta.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	return o.run(ctx, &job, archive, manifest, archiveRef, manifestPath, paths)
}

// Resume re-runs an unfinished job. Documents already visible are skipped;
// everything else repeats, which is safe because chunk IDs and writes are
// idempotent.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.meta.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Phase.Terminal() {
		return nil, errors.InvalidInput(
			fmt.Sprintf("job %s already finished as %s", jobID, job.Phase), nil)
	}

	archive, err := o.meta.Archive(ctx, job.ArchiveID)
	if err != nil {
		return nil, err
	}

	// The archive reference is recoverable from its documents' paths.
	docs, err := o.meta.Documents(ctx, archive.ID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.InvalidInput(
			fmt.Sprintf("job %s recorded no documents; re-run ingest on the archive instead", jobID), nil)
	}
	archiveRef := commonRoot(docs)

	paths, err := o.listArchive(ctx, archiveRef)
	if err != nil {
		return nil, err
	}
	manifestPath, manifest, _, err := o.loadManifest(ctx, archiveRef, paths)
	if err != nil {
		return nil, err
	}

	// Counters restart from zero; they describe this run, and monotonicity
	// holds within a run.
	job.Counters = domain.JobCounters{}
	return o.run(ctx, job, archive, manifest, archiveRef, manifestPath, paths)
}

func (o *Orchestrator) run(ctx context.Context, job *domain.Job, archive *domain.Archive,
	manifest *domain.Manifest, archiveRef, manifestPath string, paths []string) (*domain.Job, error) {

	prog := &progress{job: job, meta: o.meta, ctx: ctx}
	prog.setPhase(domain.JobPhaseListing)

	files := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != manifestPath {
			files = append(files, p)
		}
	}
	prog.add(func(c *domain.JobCounters) { c.FilesSeen = len(files) })
	prog.setPhase(domain.JobPhaseParsing)

	// Each message carries one document's chunks; the capacity keeps about
	// ChannelFactor embedding batches in flight before parsers stall.
	ch := make(chan docChunks, o.cfg.ChannelFactor)
	co := newCoalescer(o.embedder, o.writer, prog, o.cfg.BatchSize, o.cfg.UpsertTimeout, o.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var coErr error
	var coDone sync.WaitGroup
	coDone.Add(1)
	go func() {
		defer coDone.Done()
		if err := co.run(runCtx, ch); err != nil {
			coErr = err
			cancel()
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Workers)
	stopped := false
	for _, file := range files {
		if gctx.Err() != nil {
			break
		}
		if stop, _ := o.meta.StopRequested(gctx, job.ID); stop {
			stopped = true
			break
		}
		file := file
		g.Go(func() error {
			if err := o.processFile(gctx, prog, ch, archive, manifest, archiveRef, file); err != nil {
				if gctx.Err() != nil {
					return nil // shutdown in progress; not a file failure
				}
				prog.fileFailed(file, err)
				o.logger.Warn("document failed",
					slog.String("path", file),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	close(ch)
	coDone.Wait()

	now := time.Now().UTC()
	prog.mu.Lock()
	defer prog.mu.Unlock()
	job.FinishedAt = now
	switch {
	case coErr != nil:
		job.Phase = domain.JobPhaseFailed
		job.LastError = coErr.Error()
	case ctx.Err() != nil:
		job.Phase = domain.JobPhaseFailed
		job.LastError = ctx.Err().Error()
	case stopped:
		job.Phase = domain.JobPhaseFailed
		job.LastError = "stopped on request"
	default:
		// Per-file failures do not fail the archive; they are visible in
		// the counters and the error list.
		job.Phase = domain.JobPhaseCompleted
	}
	_ = o.meta.UpdateJob(ctx, *job)

	if err := o.writer.Save(); err != nil {
		o.logger.Error("saving vector indexes", slog.String("error", err.Error()))
	}

	o.logger.Info("ingestion finished",
		slog.String("job_id", job.ID),
		slog.String("phase", string(job.Phase)),
		slog.Int("files_seen", job.Counters.FilesSeen),
		slog.Int("files_parsed", job.Counters.FilesParsed),
		slog.Int("chunked", job.Counters.Chunked),
		slog.Int("indexed", job.Counters.Indexed),
		slog.Int("failed_files", job.Counters.FailedFiles))

	if coErr != nil {
		return job, coErr
	}
	return job, nil
}

// processFile runs one document through fetch, parse, chunk and hands its
// chunks to the coalescer.
func (o *Orchestrator) processFile(ctx context.Context, prog *progress, ch chan<- docChunks,
	archive *domain.Archive, manifest *domain.Manifest, archiveRef, filePath string) error {

	if !o.parsers.Supported(filePath) {
		return errors.InvalidInput(
			fmt.Sprintf("unsupported media type %q", path.Ext(filePath)), nil)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	data, err := errors.RetryWithResult(fetchCtx, errors.DefaultRetryConfig(), func() ([]byte, error) {
		return o.objects.Fetch(fetchCtx, filePath)
	})
	cancel()
	if err != nil {
		return err
	}

	relPath := strings.TrimPrefix(strings.TrimPrefix(filePath, archiveRef), "/")
	contentHash := objstore.HashBytes(data)
	docID := documentID(archive.ID, filePath)
	docNo, revision := SplitDocNo(relPath)

	// A document already visible with identical bytes needs no re-work;
	// this is the resume fast path. Changed bytes mean the old chunks are
	// stale: their IDs derive from the old source hash, so they must go
	// before the new ones arrive.
	if existing, err := o.meta.Document(ctx, docID); err == nil {
		if existing.ContentHash == contentHash && existing.Status == domain.DocReady {
			prog.add(func(c *domain.JobCounters) { c.FilesParsed++ })
			return nil
		}
		if existing.ContentHash != "" && existing.ContentHash != contentHash {
			if _, err := o.writer.DeleteBySource(ctx, existing.ContentHash); err != nil {
				return err
			}
		}
	}

	doc := domain.Document{
		ID:          docID,
		ArchiveID:   archive.ID,
		Path:        filePath,
		MediaType:   strings.ToLower(path.Ext(relPath)),
		ContentHash: contentHash,
		Discipline:  InferDiscipline(relPath, manifest.DefaultDiscipline),
		DocType:     InferDocType(relPath),
		DocNo:       docNo,
		Revision:    revision,
		Status:      domain.DocPending,
	}
	if err := o.meta.UpsertDocument(ctx, doc); err != nil {
		return err
	}

	res, err := o.parsers.Parse(ctx, relPath, data)
	if err != nil {
		_ = o.meta.SetDocumentStatus(ctx, docID, domain.DocFailed, err.Error())
		return err
	}
	doc.Language = res.Language
	_ = o.meta.SetDocumentStatus(ctx, docID, domain.DocParsed, "")
	prog.add(func(c *domain.JobCounters) { c.FilesParsed++ })

	chunks := o.chunker.Split(chunker.DocMeta{
		ProjectID:       archive.ProjectID,
		ObjectID:        archive.ObjectID,
		Discipline:      doc.Discipline,
		DocNo:           doc.DocNo,
		DocTitle:        doc.DocNo,
		Revision:        doc.Revision,
		SourcePath:      filePath,
		SourceHash:      contentHash,
		IssuedAt:        doc.IssuedAt,
		Vendor:          doc.Vendor,
		Confidentiality: manifest.Confidentiality,
	}, res)
	_ = o.meta.SetDocumentStatus(ctx, docID, domain.DocChunked, "")
	prog.add(func(c *domain.JobCounters) { c.Chunked += len(chunks) })

	select {
	case ch <- docChunks{docID: docID, chunks: chunks}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop marks a running job for graceful stop at the next file boundary.
func (o *Orchestrator) Stop(ctx context.Context, jobID string) error {
	return o.meta.RequestStop(ctx, jobID)
}

func (o *Orchestrator) listArchive(ctx context.Context, archiveRef string) ([]string, error) {
	paths, err := o.objects.List(ctx, archiveRef)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("archive %q has no files", archiveRef))
	}
	sort.Strings(paths)
	return paths, nil
}

func (o *Orchestrator) loadManifest(ctx context.Context, archiveRef string, paths []string) (string, *domain.Manifest, []byte, error) {
	want := ManifestName
	if archiveRef != "" {
		want = strings.TrimSuffix(archiveRef, "/") + "/" + ManifestName
	}
	for _, p := range paths {
		if p != want {
			continue
		}
		data, err := o.objects.Fetch(ctx, p)
		if err != nil {
			return "", nil, nil, err
		}
		m, err := ParseManifest(data)
		if err != nil {
			return "", nil, nil, err
		}
		return p, m, data, nil
	}
	return "", nil, nil, errors.InvalidInput(
		fmt.Sprintf("archive %q has no %s at its root", archiveRef, ManifestName), nil)
}

// archiveDigest derives the archive identity from the manifest bytes plus
// the sorted file listing with sizes and etags. Stat metadata stands in for
// full re-hashing so a duplicate upload is recognised without reading every
// byte; document-level hashes still guard the indexes themselves.
func (o *Orchestrator) archiveDigest(ctx context.Context, manifestData []byte, paths []string) (string, int64, error) {
	h := sha256.New()
	h.Write(manifestData)
	var total int64
	for _, p := range paths {
		st, err := o.objects.StatObject(ctx, p)
		if err != nil {
			return "", 0, err
		}
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", p, st.Size, st.ETag)
		total += st.Size
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func (o *Orchestrator) completedJob(ctx context.Context, archiveID string) *domain.Job {
	jobs, err := o.meta.Jobs(ctx, 200)
	if err != nil {
		return nil
	}
	for i := range jobs {
		if jobs[i].ArchiveID == archiveID && jobs[i].Phase == domain.JobPhaseCompleted {
			return &jobs[i]
		}
	}
	return nil
}

// documentID derives the stable document identifier from the archive and
// the document's path inside it.
func documentID(archiveID, relPath string) string {
	sum := sha256.Sum256([]byte(archiveID + ":" + relPath))
	return hex.EncodeToString(sum[:])[:16]
}

// commonRoot recovers the archive prefix shared by every document path.
func commonRoot(docs []domain.Document) string {
	if len(docs) == 0 {
		return ""
	}
	root := path.Dir(docs[0].Path)
	for _, d := range docs[1:] {
		dir := path.Dir(d.Path)
		for root != "." && root != "" && !strings.HasPrefix(dir+"/", root+"/") {
			root = path.Dir(root)
		}
	}
	if root == "." {
		return ""
	}
	return root
}
