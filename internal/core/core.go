// Package core assembles the process: it opens the stores, builds the
// ingestion and query pipelines from the configuration, and owns their
// shutdown order. Nothing here holds global state; every capability is a
// field, injected downward, and closed once on drain.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/altadoc/altadoc/internal/analog"
	"github.com/altadoc/altadoc/internal/answer"
	"github.com/altadoc/altadoc/internal/chunker"
	"github.com/altadoc/altadoc/internal/config"
	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/dualindex"
	"github.com/altadoc/altadoc/internal/embed"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/ingest"
	"github.com/altadoc/altadoc/internal/objstore"
	"github.com/altadoc/altadoc/internal/parser"
	"github.com/altadoc/altadoc/internal/query"
	"github.com/altadoc/altadoc/internal/search"
	"github.com/altadoc/altadoc/internal/store"
	"github.com/altadoc/altadoc/internal/telemetry"
)

// Core owns every capability of one altadoc process.
type Core struct {
	Config *config.Config
	Logger *slog.Logger

	Objects      objstore.Store
	Collections  *store.Collections
	Writer       *dualindex.Writer
	Embedder     embed.Embedder
	Parsers      *parser.Registry
	Chunker      *chunker.Chunker
	Orchestrator *ingest.Orchestrator
	Rewriter     *query.Rewriter
	Reranker     search.Reranker
	Engine       *search.Engine
	Analog       *analog.Searcher
	Metrics      *telemetry.Metrics
	metricsStore *telemetry.Store
}

// New builds a Core from configuration. On error everything already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := embed.New(ctx, embed.FactoryConfig{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Host:       cfg.Embeddings.Host,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	collections, err := store.OpenCollections(ctx, cfg.Store.DataDir, embedder.Dimensions(), embedder.ModelName())
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	writer, err := dualindex.NewWriter(collections, filepath.Join(cfg.Store.DataDir, "leases"), logger)
	if err != nil {
		_ = collections.Close()
		_ = embedder.Close()
		return nil, err
	}

	parsers := parser.DefaultRegistry(nil, cfg.Chunker.MinCharsForNativePDF)
	chk := chunker.New(chunker.Config{
		TargetTokens:  cfg.Chunker.TargetTokens,
		OverlapTokens: cfg.Chunker.OverlapTokens,
	})

	orchestrator := ingest.New(objects, parsers, chk, embedder, writer, collections.Meta(), ingest.Config{
		Workers:       cfg.Ingest.Workers,
		BatchSize:     cfg.Embeddings.BatchSize,
		ChannelFactor: cfg.Ingest.ChannelFactor,
		FetchTimeout:  cfg.ObjectStore.FetchTimeout,
		UpsertTimeout: cfg.Ingest.UpsertTimeout,
	}, logger)

	rewriter, err := query.NewRewriter(cfg.Embeddings.CacheSize)
	if err != nil {
		_ = collections.Close()
		_ = embedder.Close()
		return nil, err
	}

	var reranker search.Reranker
	if cfg.Search.RerankerEndpoint != "" {
		reranker = search.NewHTTPReranker(search.HTTPRerankerConfig{
			Endpoint: cfg.Search.RerankerEndpoint,
			Timeout:  cfg.Search.RerankTimeout,
		})
	}

	retriever := search.NewRetriever(collections, embedder, logger)
	engine := search.NewEngine(rewriter, retriever, reranker, search.EngineConfig{
		Floor:    cfg.Search.SimilarityFloor,
		Deadline: cfg.Search.QueryDeadline,
	}, logger)

	// Telemetry is best-effort; a failed open never blocks the process.
	var metrics *telemetry.Metrics
	metricsStore, err := telemetry.NewStore(filepath.Join(cfg.Store.DataDir, "telemetry.db"))
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		metricsStore = nil
	}
	metrics = telemetry.New(metricsStore, telemetry.Config{FlushInterval: time.Minute})

	return &Core{
		Config:       cfg,
		Logger:       logger,
		Objects:      objects,
		Collections:  collections,
		Writer:       writer,
		Embedder:     embedder,
		Parsers:      parsers,
		Chunker:      chk,
		Orchestrator: orchestrator,
		Rewriter:     rewriter,
		Reranker:     reranker,
		Engine:       engine,
		Analog:       analog.NewSearcher(rewriter, engine, logger),
		Metrics:      metrics,
		metricsStore: metricsStore,
	}, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	switch cfg.ObjectStore.Backend {
	case "", "fs":
		return objstore.NewFSStore(cfg.ObjectStore.Root)
	case "s3":
		return objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:   cfg.ObjectStore.Bucket,
			Region:   cfg.ObjectStore.Region,
			Endpoint: cfg.ObjectStore.Endpoint,
		})
	default:
		return nil, errors.InvalidInput(
			fmt.Sprintf("unknown object store backend %q", cfg.ObjectStore.Backend), nil)
	}
}

// Search runs the full query pipeline and assembles a cited answer.
func (c *Core) Search(ctx context.Context, rawQuery string, filter *store.Filter, limit int) (*answer.Answer, *search.Result, error) {
	started := time.Now()
	plan, result, err := c.Engine.Search(ctx, rawQuery, filter, limit)
	if err != nil {
		return nil, nil, err
	}
	ans := answer.Assemble(plan, result)
	c.Metrics.Record(telemetry.Event{
		Query:       rawQuery,
		Intent:      plan.Intent,
		ResultCount: len(result.Candidates),
		Confidence:  ans.Confidence,
		Latency:     time.Since(started),
	})
	return ans, result, nil
}

// AnalogSearch finds equipment whose numeric parameters fall within
// tolerance of the query's.
func (c *Core) AnalogSearch(ctx context.Context, q analog.Query) ([]analog.Match, error) {
	if q.Tolerance <= 0 {
		q.Tolerance = c.Config.Analog.Tolerance
	}
	return c.Analog.Search(ctx, q)
}

// Ingest runs an archive through the pipeline, blocking until the job
// finishes.
func (c *Core) Ingest(ctx context.Context, archiveRef string) (*domain.Job, error) {
	return c.Orchestrator.Ingest(ctx, archiveRef)
}

// Resume continues an unfinished job.
func (c *Core) Resume(ctx context.Context, jobID string) (*domain.Job, error) {
	return c.Orchestrator.Resume(ctx, jobID)
}

// JobStatus returns one job with counters and file errors.
func (c *Core) JobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return c.Collections.Meta().Job(ctx, jobID)
}

// Jobs lists recent jobs, newest first.
func (c *Core) Jobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return c.Collections.Meta().Jobs(ctx, limit)
}

// StopJob requests a graceful stop at the next batch boundary.
func (c *Core) StopJob(ctx context.Context, jobID string) error {
	return c.Orchestrator.Stop(ctx, jobID)
}

// Close drains the process: indexes are saved and closed, then the
// embedder and re-ranker release their connections.
func (c *Core) Close() error {
	var firstErr error
	if c.Collections != nil {
		if err := c.Collections.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Reranker != nil {
		if err := c.Reranker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.metricsStore != nil {
		if err := c.metricsStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
