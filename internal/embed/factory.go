package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/altadoc/altadoc/internal/errors"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	Provider   string // "ollama" or "static"
	Model      string
	Host       string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int
}

// New builds the configured embedder wrapped in the LRU cache.
func New(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "", "ollama":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case "static":
		inner = NewStaticEmbedder()
	default:
		return nil, errors.InvalidInput(
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}
