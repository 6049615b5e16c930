package blobstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

// NewFromConfig creates the Store selected by cfg.Provider. An S3 store
// must reach its bucket before it is returned.
func NewFromConfig(ctx context.Context, cfg config.BlobConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(cfg.Bucket), nil
	case "filesystem":
		root, err := config.ExpandPath(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("expanding blob root: %w", err)
		}
		return NewFileSystemStore(cfg.Bucket, root)
	case "s3":
		s, err := NewS3Store(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey.Value(),
			SecretKey:    cfg.SecretKey.Value(),
			UsePathStyle: cfg.UsePathStyle,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob provider: %s", cfg.Provider)
	}
}
