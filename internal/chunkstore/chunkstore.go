// Package chunkstore keeps the chunks of every collection.
//
// Each collection owns one physical table, named by its table id, on both
// sides of the store: a SQL table holding chunk rows for listing and
// aggregation, and a vector engine table holding the embeddings used for
// similarity search. Table names are validated as system-generated before
// they reach either side.
package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/database"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
	"github.com/fyrsmithlabs/collectiond/internal/vectorstore"
)

var tracer = otel.Tracer("collectiond.chunkstore")

var (
	// ErrInvalidTable is returned for table names that were not system-generated.
	ErrInvalidTable = errors.New("invalid chunk table")

	// ErrTableNotFound is returned when the chunk table does not exist.
	ErrTableNotFound = errors.New("chunk table not found")
)

// Chunk is one indexed text fragment.
type Chunk struct {
	ID      string `json:"id"`
	FileID  string `json:"file_id,omitempty"`
	Content string `json:"content"`
	// Metadata always carries file_id when FileID is set.
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// Store is the chunk store.
type Store struct {
	db     *sql.DB
	engine vectorstore.Engine
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Store over an already-migrated database and a vector engine.
func New(db *sql.DB, engine vectorstore.Engine, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("chunkstore: db is required")
	}
	if engine == nil {
		return nil, errors.New("chunkstore: vector engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, engine: engine, logger: logger, now: time.Now}, nil
}

func validateTable(table string) error {
	if err := vectorstore.ValidateTableName(table); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// quote is only safe for names that passed validateTable.
func quote(table string) string {
	return `"` + table + `"`
}

// CreateTable provisions the SQL table and the engine table. Idempotent.
func (s *Store) CreateTable(ctx context.Context, table string) error {
	ctx, span := tracer.Start(ctx, "Store.CreateTable")
	defer span.End()
	span.SetAttributes(attribute.String("table_id", table))

	if err := validateTable(table); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+quote(table)+` (
		id TEXT PRIMARY KEY,
		file_id TEXT,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("creating chunk table %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS `+quote("idx_"+table+"_file_id")+` ON `+quote(table)+` (file_id)`)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("indexing chunk table %s: %w", table, err)
	}

	if err := s.engine.CreateTable(ctx, table); err != nil {
		recordError(span, err)
		return fmt.Errorf("creating vector table %s: %w", table, err)
	}

	s.logger.Debug("chunk table created", zap.String("table_id", table))
	return nil
}

// TableExists reports whether the SQL side of the table exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking chunk table %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *Store) requireTable(ctx context.Context, table string) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTableNotFound
	}
	return nil
}

// Upsert writes chunks to the engine first and then to SQL in one
// transaction. If the SQL write fails the engine ids are removed
// best-effort. Chunks without an id get a fresh UUID. The file id is taken
// from Chunk.FileID or, failing that, metadata["file_id"].
func (s *Store) Upsert(ctx context.Context, table string, chunks []Chunk) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Store.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("table_id", table),
		attribute.Int("chunk_count", len(chunks)),
	)

	if err := s.requireTable(ctx, table); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []string{}, nil
	}

	docs := make([]vectorstore.Document, len(chunks))
	rows := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Metadata = copyMetadata(c.Metadata)
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.FileID == "" {
			c.FileID, _ = c.Metadata[tenant.KeyFileID].(string)
		}
		if c.FileID != "" {
			c.Metadata[tenant.KeyFileID] = c.FileID
		}
		rows[i] = c
		docs[i] = vectorstore.Document{ID: c.ID, Content: c.Content, Metadata: c.Metadata}
	}

	ids, err := s.engine.Upsert(ctx, table, docs)
	if err != nil {
		recordError(span, err)
		return nil, mapEngineError(fmt.Errorf("writing vectors: %w", err))
	}

	if err := s.insertRows(ctx, table, rows); err != nil {
		recordError(span, err)
		if derr := s.engine.Delete(context.WithoutCancel(ctx), table, ids); derr != nil {
			s.logger.Warn("removing vectors after failed chunk write",
				zap.String("table_id", table),
				zap.Int("chunk_count", len(ids)),
				zap.Error(derr),
			)
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "upserted")
	return ids, nil
}

func (s *Store) insertRows(ctx context.Context, table string, rows []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quote(table)+` (id, file_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			content = excluded.content,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("preparing chunk write: %w", err)
	}
	defer stmt.Close()

	created := database.FormatTime(s.now())
	for _, c := range rows {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %s: %w", c.ID, err)
		}
		var fileID sql.NullString
		if c.FileID != "" {
			fileID = sql.NullString{String: c.FileID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, fileID, c.Content, string(meta), created); err != nil {
			return fmt.Errorf("writing chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk write: %w", err)
	}
	return nil
}

// ListUniqueFiles returns the lowest-id chunk of every distinct file id,
// ordered by file id. Pagination applies to files, not chunk rows.
// Chunks without a file id are not listed.
func (s *Store) ListUniqueFiles(ctx context.Context, table string, limit, offset int) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "Store.ListUniqueFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("table_id", table),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	if err := s.requireTable(ctx, table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Chunk{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, content, metadata, created_at FROM (
			SELECT id, file_id, content, metadata, created_at,
				ROW_NUMBER() OVER (PARTITION BY file_id ORDER BY id) AS rn
			FROM `+quote(table)+`
			WHERE file_id IS NOT NULL
		)
		WHERE rn = 1
		ORDER BY file_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("listing files in %s: %w", table, err)
	}
	defer rows.Close()

	out := []Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("listing files in %s: %w", table, err)
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// ChunkIDsByFileID returns the ids of every chunk tagged with fileID.
func (s *Store) ChunkIDsByFileID(ctx context.Context, table, fileID string) ([]string, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM `+quote(table)+` WHERE file_id = ? ORDER BY id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("looking up chunks of file %s: %w", fileID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByFileID removes every chunk tagged with fileID from both sides and
// returns how many rows were deleted. Zero is not an error.
func (s *Store) DeleteByFileID(ctx context.Context, table, fileID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteByFileID")
	defer span.End()
	span.SetAttributes(
		attribute.String("table_id", table),
		attribute.String("file_id", fileID),
	)

	if fileID == "" {
		return 0, nil
	}

	ids, err := s.ChunkIDsByFileID(ctx, table, fileID)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.engine.Delete(ctx, table, ids); err != nil && !errors.Is(err, vectorstore.ErrTableNotFound) {
		recordError(span, err)
		return 0, mapEngineError(fmt.Errorf("deleting vectors: %w", err))
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+quote(table)+` WHERE file_id = ?`, fileID)
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("deleting chunks of file %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("deleted", n))
	return n, nil
}

// Search is a pass-through to the engine's similarity search.
func (s *Store) Search(ctx context.Context, table, query string, k int) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("table_id", table),
		attribute.Int("k", k),
	)

	if err := validateTable(table); err != nil {
		return nil, err
	}

	results, err := s.engine.Search(ctx, table, query, k)
	if err != nil {
		recordError(span, err)
		return nil, mapEngineError(err)
	}

	out := make([]ScoredChunk, len(results))
	for i, r := range results {
		fileID, _ := r.Metadata[tenant.KeyFileID].(string)
		out[i] = ScoredChunk{
			Chunk: Chunk{
				ID:       r.ID,
				FileID:   fileID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Score: r.Score,
		}
	}
	return out, nil
}

// DropTable removes both sides of the table. It returns ErrTableNotFound
// only when neither side existed.
func (s *Store) DropTable(ctx context.Context, table string) error {
	ctx, span := tracer.Start(ctx, "Store.DropTable")
	defer span.End()
	span.SetAttributes(attribute.String("table_id", table))

	existed, err := s.TableExists(ctx, table)
	if err != nil {
		recordError(span, err)
		return err
	}

	if existed {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quote(table)); err != nil {
			recordError(span, err)
			return fmt.Errorf("dropping chunk table %s: %w", table, err)
		}
	}

	err = s.engine.DropTable(ctx, table)
	switch {
	case errors.Is(err, vectorstore.ErrTableNotFound):
		if !existed {
			return ErrTableNotFound
		}
		s.logger.Warn("vector table already gone", zap.String("table_id", table))
	case err != nil:
		recordError(span, err)
		return mapEngineError(fmt.Errorf("dropping vector table: %w", err))
	}

	s.logger.Info("chunk table dropped", zap.String("table_id", table))
	return nil
}

// Count returns the number of chunk rows in a table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks in %s: %w", table, err)
	}
	return n, nil
}

// CountByFileID returns the number of chunks tagged with fileID.
func (s *Store) CountByFileID(ctx context.Context, table, fileID string) (int64, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+quote(table)+` WHERE file_id = ?`, fileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks of file %s: %w", fileID, err)
	}
	return n, nil
}

func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var c Chunk
	var fileID sql.NullString
	var meta, created string
	if err := rows.Scan(&c.ID, &fileID, &c.Content, &meta, &created); err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	c.FileID = fileID.String
	c.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for chunk %s: %w", c.ID, err)
	}
	var err error
	if c.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mapEngineError(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrTableNotFound):
		return fmt.Errorf("%w: %v", ErrTableNotFound, err)
	case errors.Is(err, vectorstore.ErrInvalidTableName):
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
