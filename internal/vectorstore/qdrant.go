package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("collectiond.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC engine.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (6334), not the REST port.
	Port int

	UseTLS bool
	APIKey string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// Distance defaults to cosine.
	Distance qdrant.Distance

	// MaxRetries for transient gRPC failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 500ms
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message cap in bytes. Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is consecutive transient failures before
	// calls fail fast for 30s. Default: 5
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantEngine implements Engine on Qdrant's native gRPC client.
type QdrantEngine struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

var _ Engine = (*QdrantEngine)(nil)

// NewQdrantEngine connects to Qdrant and runs a health check.
func NewQdrantEngine(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	engine := &QdrantEngine{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant engine initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return engine, nil
}

// retry runs operation with exponential backoff on transient errors.
func (e *QdrantEngine) retry(ctx context.Context, name string, operation func() error) error {
	if e.circuitOpen() {
		return fmt.Errorf("%s: circuit breaker open", name)
	}

	backoff := e.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			e.resetBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return err
		}

		e.recordFailure()
		if attempt == e.config.MaxRetries || e.circuitOpen() {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (e *QdrantEngine) recordFailure() {
	e.breaker.mu.Lock()
	defer e.breaker.mu.Unlock()
	e.breaker.failures++
	e.breaker.lastFail = time.Now()
}

func (e *QdrantEngine) resetBreaker() {
	e.breaker.mu.Lock()
	defer e.breaker.mu.Unlock()
	e.breaker.failures = 0
}

func (e *QdrantEngine) circuitOpen() bool {
	e.breaker.mu.Lock()
	defer e.breaker.mu.Unlock()
	if e.breaker.failures < e.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(e.breaker.lastFail) > 30*time.Second {
		e.breaker.failures = 0
		return false
	}
	return true
}

// CreateTable creates a Qdrant collection unless it already exists.
func (e *QdrantEngine) CreateTable(ctx context.Context, table string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.CreateTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	exists, err := e.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = e.retry(ctx, "create_table", func() error {
		return e.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: table,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     e.config.VectorSize,
				Distance: e.config.Distance,
			}),
		})
	})
	observe("qdrant", "create_table", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	// file_id is the filter key for deletes by file.
	err = e.retry(ctx, "create_field_index", func() error {
		_, err := e.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: table,
			FieldName:      payloadFileID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		e.logger.Warn("creating file_id payload index failed",
			zap.String("table", table),
			zap.Error(err),
		)
	}
	return nil
}

// DropTable deletes the Qdrant collection.
func (e *QdrantEngine) DropTable(ctx context.Context, table string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.DropTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	exists, err := e.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTableNotFound
	}

	err = e.retry(ctx, "drop_table", func() error {
		return e.client.DeleteCollection(ctx, table)
	})
	observe("qdrant", "drop_table", err)
	if err != nil {
		if isNotFound(err) {
			return ErrTableNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting table %s: %w", table, err)
	}
	return nil
}

// TableExists checks the collection via GetCollectionInfo.
func (e *QdrantEngine) TableExists(ctx context.Context, table string) (bool, error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}

	var exists bool
	err := e.retry(ctx, "table_exists", func() error {
		info, err := e.client.GetCollectionInfo(ctx, table)
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return exists, nil
}

// Upsert embeds documents and upserts them as points keyed by chunk id.
func (e *QdrantEngine) Upsert(ctx context.Context, table string, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.Upsert")
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

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	embeddings, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents", ErrEmbeddingFailed, len(embeddings), len(docs))
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		payload, err := flatPayload(d)
		if err != nil {
			return nil, err
		}
		payload[payloadContent] = d.Content

		values := make(map[string]*qdrant.Value, len(payload))
		for k, v := range payload {
			values[k] = qdrant.NewValueString(v)
		}

		ids[i] = d.ID
		points[i] = &qdrant.PointStruct{
			// chunk ids are UUIDs, which Qdrant accepts as point ids
			Id:      qdrant.NewIDUUID(d.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: values,
		}
	}

	err = e.retry(ctx, "upsert", func() error {
		_, err := e.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: table,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	observe("qdrant", "upsert", err)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTableNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to %s: %w", table, err)
	}

	return ids, nil
}

// Search runs a nearest-neighbour query with the embedded query text.
func (e *QdrantEngine) Search(ctx context.Context, table, query string, k int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.Search")
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

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = e.retry(ctx, "search", func() error {
		res, err := e.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: table,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	observe("qdrant", "search", err)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTableNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", table, err)
	}

	out := make([]SearchResult, len(points))
	for i, p := range points {
		out[i] = SearchResult{
			ID:       p.GetPayload()[payloadID].GetStringValue(),
			Content:  p.GetPayload()[payloadContent].GetStringValue(),
			Score:    p.GetScore(),
			Metadata: decodeMetadata(p.GetPayload()[payloadMetadata].GetStringValue()),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Delete removes points whose id payload matches any of ids.
func (e *QdrantEngine) Delete(ctx context.Context, table string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantEngine.Delete")
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

	err := e.retry(ctx, "delete", func() error {
		_, err := e.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: table,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							qdrant.NewMatchKeywords(payloadID, ids...),
						},
					},
				},
			},
		})
		return err
	})
	observe("qdrant", "delete", err)
	if err != nil {
		if isNotFound(err) {
			return ErrTableNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d points from %s: %w", len(ids), table, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (e *QdrantEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
