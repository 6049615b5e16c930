package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

// NewEngine builds the engine selected by cfg.Provider.
// dimension is the embedder's output size and only matters for qdrant.
func NewEngine(ctx context.Context, cfg config.VectorStoreConfig, dimension int, embedder Embedder, logger *zap.Logger) (Engine, error) {
	switch cfg.Provider {
	case "", "chromem":
		path := cfg.Chromem.Path
		if path != "" {
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return nil, fmt.Errorf("expanding chromem path: %w", err)
			}
			path = expanded
		}
		return NewChromemEngine(ChromemConfig{
			Path:     path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantEngine(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			VectorSize: uint64(dimension),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
