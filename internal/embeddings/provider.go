package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/config"
	"github.com/fyrsmithlabs/collectiond/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an embedder with a known output dimension.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "deterministic", "":
		p, err = NewDeterministic(cfg.Dimension)
	case "tei":
		p, err = NewTEI(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: dimensionFor(cfg),
		}, logger)
	case "openai":
		p, err = NewOpenAI(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: dimensionFor(cfg),
		}, logger)
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
	)
	return p, nil
}

func dimensionFor(cfg config.EmbeddingsConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	return detectDimensionFromModel(cfg.Model)
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}
