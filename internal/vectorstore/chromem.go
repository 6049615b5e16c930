package vectorstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("collectiond.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go engine.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted files.
	Compress bool
}

// ChromemEngine implements Engine on chromem-go.
//
// chromem-go is a pure Go embedded vector database; each table is one
// chromem collection, persisted as gob files under Path when set.
type ChromemEngine struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	// chromem's CreateCollection is not atomic with GetCollection.
	mu sync.Mutex
}

var _ Engine = (*ChromemEngine)(nil)

// NewChromemEngine creates a chromem engine. The path must already be expanded.
func NewChromemEngine(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem engine initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Bool("persistent", config.Path != ""),
	)

	return &ChromemEngine{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// embeddingFunc must always be passed to chromem: with nil it falls back to
// its OpenAI default for persisted collections.
func (e *ChromemEngine) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	}
}

func (e *ChromemEngine) collection(name string) *chromem.Collection {
	return e.db.GetCollection(name, e.embeddingFunc())
}

// CreateTable creates a chromem collection; existing tables are left alone.
func (e *ChromemEngine) CreateTable(ctx context.Context, table string) error {
	_, span := chromemTracer.Start(ctx, "ChromemEngine.CreateTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if err := ValidateTableName(table); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.collection(table) != nil {
		return nil
	}
	if _, err := e.db.CreateCollection(table, nil, e.embeddingFunc()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe("chromem", "create_table", err)
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	observe("chromem", "create_table", nil)
	e.logger.Debug("created chromem table", zap.String("table", table))
	return nil
}

// DropTable deletes the chromem collection.
func (e *ChromemEngine) DropTable(ctx context.Context, table string) error {
	_, span := chromemTracer.Start(ctx, "ChromemEngine.DropTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if err := ValidateTableName(table); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.collection(table) == nil {
		return ErrTableNotFound
	}
	if err := e.db.DeleteCollection(table); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe("chromem", "drop_table", err)
		return fmt.Errorf("deleting table %s: %w", table, err)
	}

	observe("chromem", "drop_table", nil)
	e.logger.Debug("dropped chromem table", zap.String("table", table))
	return nil
}

// TableExists reports whether the chromem collection exists.
func (e *ChromemEngine) TableExists(_ context.Context, table string) (bool, error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}
	return e.collection(table) != nil, nil
}

// Upsert embeds documents in one batch and adds them. chromem replaces
// documents with an existing id.
func (e *ChromemEngine) Upsert(ctx context.Context, table string, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemEngine.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("table", table),
		attribute.Int("document_count", len(docs)),
	)

	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	col := e.collection(table)
	if col == nil {
		return nil, ErrTableNotFound
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("document at index %d has no id", i)
		}
		texts[i] = d.Content
	}

	embeddings, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		observe("chromem", "upsert", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents", ErrEmbeddingFailed, len(embeddings), len(docs))
	}

	chromemDocs := make([]chromem.Document, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		payload, err := flatPayload(d)
		if err != nil {
			return nil, err
		}
		ids[i] = d.ID
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  payload,
			Embedding: embeddings[i],
		}
	}

	// concurrency of 1: embeddings are already computed
	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe("chromem", "upsert", err)
		return nil, fmt.Errorf("adding documents to %s: %w", table, err)
	}

	observe("chromem", "upsert", nil)
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search queries the chromem collection. k is capped at the table size.
func (e *ChromemEngine) Search(ctx context.Context, table, query string, k int) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemEngine.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("table", table),
		attribute.Int("k", k),
	)

	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	col := e.collection(table)
	if col == nil {
		return nil, ErrTableNotFound
	}

	count := col.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe("chromem", "search", err)
		return nil, fmt.Errorf("querying table %s: %w", table, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: decodeMetadata(r.Metadata[payloadMetadata]),
		}
	}

	observe("chromem", "search", nil)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Delete removes documents by id.
func (e *ChromemEngine) Delete(ctx context.Context, table string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemEngine.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("table", table),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateTableName(table); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	col := e.collection(table)
	if col == nil {
		return ErrTableNotFound
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, existing...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe("chromem", "delete", err)
		return fmt.Errorf("deleting %d documents from %s: %w", len(ids), table, err)
	}

	observe("chromem", "delete", nil)
	return nil
}

// Count returns the number of documents in a table.
func (e *ChromemEngine) Count(table string) (int, error) {
	col := e.collection(table)
	if col == nil {
		return 0, ErrTableNotFound
	}
	return col.Count(), nil
}

// Close is a no-op; chromem persists on every write.
func (e *ChromemEngine) Close() error {
	return nil
}
