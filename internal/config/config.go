// Package config loads and validates altadoc configuration.
//
// Sources, lowest to highest priority:
//  1. Built-in defaults
//  2. Config file (altadoc.yaml in the data dir, or --config)
//  3. Environment variables (ALTADOC_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete altadoc configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store"`
	Chunker     ChunkerConfig     `yaml:"chunker" json:"chunker"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Ingest      IngestConfig      `yaml:"ingest" json:"ingest"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Analog      AnalogConfig      `yaml:"analog" json:"analog"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// StoreConfig configures local index storage.
type StoreConfig struct {
	// DataDir is where vector collections, lexical indices and the job
	// database live. Default: ~/.altadoc.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ObjectStoreConfig configures the archive byte source.
type ObjectStoreConfig struct {
	// Backend selects the object store: "fs" (default) or "s3".
	Backend string `yaml:"backend" json:"backend"`
	// Root is the base directory for the fs backend.
	Root string `yaml:"root" json:"root"`
	// Bucket and Region configure the s3 backend.
	Bucket string `yaml:"bucket" json:"bucket"`
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the s3 endpoint (MinIO and friends).
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// FetchTimeout bounds a single object read. Default: 30s.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// ChunkerConfig configures the smart tokeniser.
type ChunkerConfig struct {
	// TargetTokens is the target chunk size T. Default: 800.
	TargetTokens int `yaml:"target_tokens" json:"target_tokens"`
	// OverlapTokens is the overlap O between adjacent text chunks. Default: 200.
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
	// MinCharsForNativePDF is the native-text threshold below which a PDF
	// page falls back to OCR. Default: 64.
	MinCharsForNativePDF int `yaml:"min_chars_for_native_pdf" json:"min_chars_for_native_pdf"`
}

// EmbeddingsConfig configures the embedding providers.
type EmbeddingsConfig struct {
	// Provider selects the text embedder: "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the dense text model identity bound to the text collections.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the vector width; 0 auto-detects from the provider.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// Host is the Ollama endpoint. Default: http://localhost:11434.
	Host string `yaml:"host" json:"host"`
	// BatchSize is texts per encode call. Default: 64.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Timeout bounds one encode call. Default: 60s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CacheSize is the query-embedding LRU size. Default: 1000.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IngestConfig configures the job orchestrator.
type IngestConfig struct {
	// Workers is the per-archive file worker pool size. Default: 4.
	Workers int `yaml:"workers" json:"workers"`
	// ChannelFactor sizes the chunk channel as factor × batch size. Default: 4.
	ChannelFactor int `yaml:"channel_factor" json:"channel_factor"`
	// UpsertTimeout bounds one index upsert. Default: 30s.
	UpsertTimeout time.Duration `yaml:"upsert_timeout" json:"upsert_timeout"`
}

// SearchConfig configures the hybrid query engine.
type SearchConfig struct {
	// BM25Weight and DenseWeight fuse lexical and dense scores; the
	// remaining mass is reserved for the re-ranker.
	BM25Weight  float64 `yaml:"bm25_weight" json:"bm25_weight"`
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`
	// PerCollectionLimit is top-N per collection per search leg. Default: 30.
	PerCollectionLimit int `yaml:"per_collection_limit" json:"per_collection_limit"`
	// RerankTopK is the candidate pool handed to the cross-encoder. Default: 50.
	RerankTopK int `yaml:"rerank_top_k" json:"rerank_top_k"`
	// FinalTopK is the result count after re-ranking. Default: 10.
	FinalTopK int `yaml:"final_top_k" json:"final_top_k"`
	// SimilarityFloor drops low-confidence results. Default: 0.7.
	SimilarityFloor float64 `yaml:"similarity_floor" json:"similarity_floor"`
	// QueryDeadline bounds a whole query. Default: 10s.
	QueryDeadline time.Duration `yaml:"query_deadline" json:"query_deadline"`
	// RetrievalTimeout bounds one retrieval RPC. Default: 5s.
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout" json:"retrieval_timeout"`
	// RerankTimeout bounds one cross-encoder call. Default: 10s.
	RerankTimeout time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`
	// MaxConcurrentRPCs caps per-query fan-out. Default: 32.
	MaxConcurrentRPCs int `yaml:"max_concurrent_rpcs" json:"max_concurrent_rpcs"`
	// RerankerEndpoint is the cross-encoder HTTP endpoint; empty disables
	// re-ranking (a no-op re-ranker preserves fused order).
	RerankerEndpoint string `yaml:"reranker_endpoint" json:"reranker_endpoint"`
}

// AnalogConfig configures analog-equipment search.
type AnalogConfig struct {
	// Tolerance is the relative numeric tolerance τ. Default: 0.20.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// MinFinalScore is the false-positive suppression floor. Default: 0.3.
	MinFinalScore float64 `yaml:"min_final_score" json:"min_final_score"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the built-in defaults.
func Default() *Config {
	home, err := os.UserHomeDir()
	dataDir := ".altadoc"
	if err == nil {
		dataDir = filepath.Join(home, ".altadoc")
	}
	return &Config{
		Version: 1,
		Store:   StoreConfig{DataDir: dataDir},
		ObjectStore: ObjectStoreConfig{
			Backend:      "fs",
			Root:         filepath.Join(dataDir, "objects"),
			FetchTimeout: 30 * time.Second,
		},
		Chunker: ChunkerConfig{
			TargetTokens:         800,
			OverlapTokens:        200,
			MinCharsForNativePDF: 64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "bge-m3",
			Host:      "http://localhost:11434",
			BatchSize: 64,
			Timeout:   60 * time.Second,
			CacheSize: 1000,
		},
		Ingest: IngestConfig{
			Workers:       4,
			ChannelFactor: 4,
			UpsertTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			BM25Weight:         0.3,
			DenseWeight:        0.4,
			PerCollectionLimit: 30,
			RerankTopK:         50,
			FinalTopK:          10,
			SimilarityFloor:    0.7,
			QueryDeadline:      10 * time.Second,
			RetrievalTimeout:   5 * time.Second,
			RerankTimeout:      10 * time.Second,
			MaxConcurrentRPCs:  32,
		},
		Analog: AnalogConfig{
			Tolerance:     0.20,
			MinFinalScore: 0.3,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path (optional), then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies ALTADOC_* environment overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ALTADOC_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("ALTADOC_OBJECT_STORE"); v != "" {
		cfg.ObjectStore.Backend = v
	}
	if v := os.Getenv("ALTADOC_S3_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("ALTADOC_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.Host = v
	}
	if v := os.Getenv("ALTADOC_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("ALTADOC_BM25_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.BM25Weight = f
		}
	}
	if v := os.Getenv("ALTADOC_DENSE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.DenseWeight = f
		}
	}
	if v := os.Getenv("ALTADOC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ingest.Workers = n
		}
	}
	if v := os.Getenv("ALTADOC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunker.TargetTokens <= 0 {
		return fmt.Errorf("chunker.target_tokens must be positive, got %d", c.Chunker.TargetTokens)
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.TargetTokens {
		return fmt.Errorf("chunker.overlap_tokens must be in [0, target_tokens), got %d", c.Chunker.OverlapTokens)
	}
	if c.Search.BM25Weight < 0 || c.Search.DenseWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if sum := c.Search.BM25Weight + c.Search.DenseWeight; sum > 1.0+1e-9 {
		return fmt.Errorf("search weights sum %.2f exceeds 1.0 (remainder is reserved for the re-ranker)", sum)
	}
	if c.Analog.Tolerance <= 0 || c.Analog.Tolerance >= 1 {
		return fmt.Errorf("analog.tolerance must be in (0, 1), got %g", c.Analog.Tolerance)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	switch c.ObjectStore.Backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("object_store.backend must be fs or s3, got %q", c.ObjectStore.Backend)
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
