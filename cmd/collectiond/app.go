package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/config"
	"github.com/fyrsmithlabs/collectiond/internal/database"
	"github.com/fyrsmithlabs/collectiond/internal/database/migrations"
	"github.com/fyrsmithlabs/collectiond/internal/embeddings"
	"github.com/fyrsmithlabs/collectiond/internal/events"
	"github.com/fyrsmithlabs/collectiond/internal/filecatalog"
	"github.com/fyrsmithlabs/collectiond/internal/ingest"
	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
	"github.com/fyrsmithlabs/collectiond/internal/logging"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
	"github.com/fyrsmithlabs/collectiond/internal/telemetry"
	"github.com/fyrsmithlabs/collectiond/internal/vectorstore"
)

// stack holds the process-wide observability stack.
type stack struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

// newStack loads configuration and starts telemetry and logging.
// stderrLogs forces log output to stderr.
func newStack(ctx context.Context, opts *rootOptions, stderrLogs bool) (*stack, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if stderrLogs {
		cfg.Logging.Output = "stderr"
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	return &stack{cfg: cfg, logger: logger, tel: tel}, nil
}

func (s *stack) Close() {
	_ = s.tel.Shutdown(context.Background())
	_ = s.logger.Sync()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding database path: %w", err)
	}
	return database.Open(ctx, path, database.Options{
		BusyTimeout: cfg.BusyTimeout.Duration(),
		Logger:      logger,
	})
}

// app is the wired set of stores behind a Coordinator.
type app struct {
	db       *sql.DB
	embedder embeddings.Provider
	engine   vectorstore.Engine
	journal  events.Journal
	coord    *lifecycle.Coordinator
}

// buildApp opens every store and wires the coordinator. The schema must
// already be current; run `collectiond migrate up` first.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	zl := logger.Underlying()
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = openDatabase(ctx, cfg.Database, zl)
	if err != nil {
		return nil, err
	}
	if _, err = migrations.Status(a.db); err != nil {
		if errors.Is(err, migrations.ErrNeedsMigration) {
			return nil, fmt.Errorf("%w (run `collectiond migrate up`)", err)
		}
		return nil, err
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.engine, err = vectorstore.NewEngine(ctx, cfg.VectorStore, a.embedder.Dimension(), a.embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("creating vector engine: %w", err)
	}

	chunks, err := chunkstore.New(a.db, a.engine, zl)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(a.db, chunks, registry.Config{UniqueNames: cfg.Registry.UniqueNames}, zl)
	if err != nil {
		return nil, err
	}
	files, err := filecatalog.New(a.db, zl)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.NewFromConfig(ctx, cfg.Blob, zl)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	chunker, err := ingest.New(ingest.Config{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
	}, zl)
	if err != nil {
		return nil, err
	}
	a.journal, err = events.New(cfg.Events, zl)
	if err != nil {
		return nil, err
	}

	a.coord, err = lifecycle.New(lifecycle.Deps{
		Registry: reg,
		Chunks:   chunks,
		Files:    files,
		Blobs:    blobs,
		Chunker:  chunker,
		Journal:  a.journal,
		Logger:   logger,
	}, lifecycle.Config{PresignTTL: cfg.Blob.PresignExpiry()})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stores ready",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("dimension", a.embedder.Dimension()),
		zap.String("blob", cfg.Blob.Provider),
		zap.Bool("events", cfg.Events.Enabled),
	)
	return a, nil
}

// Close releases stores in reverse order of creation.
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
