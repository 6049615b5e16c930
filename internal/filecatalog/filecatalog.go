// Package filecatalog records one row per uploaded file: where its blob
// lives, who owns it and which collection it belongs to. Every query is
// scoped by the owning user in the same statement.
package filecatalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/database"
)

var tracer = otel.Tracer("collectiond.filecatalog")

// Listing bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// UpdatableKeys are the metadata keys UpdateMetadata accepts.
var UpdatableKeys = map[string]bool{
	"description": true,
	"tags":        true,
	"category":    true,
	"source":      true,
}

// FileRecord is one catalog row.
type FileRecord struct {
	ID               int64          `json:"id"`
	FileID           string         `json:"file_id"`
	UserID           string         `json:"user_id"`
	CollectionID     string         `json:"collection_id"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"original_filename"`
	ContentType      string         `json:"content_type"`
	FileSize         int64          `json:"file_size"`
	ObjectPath       string         `json:"object_path"`
	BucketName       string         `json:"bucket_name"`
	ETag             string         `json:"etag,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	UploadTime       time.Time      `json:"upload_time"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Catalog is the file metadata catalog.
type Catalog struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Catalog over an already-migrated database.
func New(db *sql.DB, logger *zap.Logger) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("filecatalog: db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{db: db, logger: logger, now: time.Now}, nil
}

const selectColumns = `id, file_id, user_id, collection_id, filename, original_filename,
	content_type, file_size, object_path, bucket_name, etag, metadata,
	upload_time, created_at, updated_at`

// Insert writes a new record and returns its row id. UploadTime defaults
// to now.
func (c *Catalog) Insert(ctx context.Context, rec *FileRecord) (int64, error) {
	const op = "filecatalog.insert"
	ctx, span := tracer.Start(ctx, "Catalog.Insert")
	defer span.End()

	if rec == nil {
		return 0, apperr.Validation(op, "record is required")
	}
	span.SetAttributes(attribute.String("file_id", rec.FileID))

	switch {
	case rec.FileID == "":
		return 0, apperr.Validation(op, "file_id is required")
	case rec.UserID == "":
		return 0, apperr.Validation(op, "user_id is required")
	case rec.CollectionID == "":
		return 0, apperr.Validation(op, "collection_id is required")
	case rec.ObjectPath == "":
		return 0, apperr.Validation(op, "object_path is required")
	case rec.FileSize < 0:
		return 0, apperr.Validation(op, "file_size cannot be negative")
	}

	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, apperr.Validation(op, "metadata must be a JSON object")
	}

	now := c.now().UTC()
	if rec.UploadTime.IsZero() {
		rec.UploadTime = now
	}
	if rec.OriginalFilename == "" {
		rec.OriginalFilename = rec.Filename
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO file_storage (file_id, user_id, collection_id, filename, original_filename,
			content_type, file_size, object_path, bucket_name, etag, metadata,
			upload_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.UserID, rec.CollectionID, rec.Filename, rec.OriginalFilename,
		rec.ContentType, rec.FileSize, rec.ObjectPath, rec.BucketName, rec.ETag, string(metaJSON),
		database.FormatTime(rec.UploadTime), database.FormatTime(now), database.FormatTime(now),
	)
	if database.IsUniqueViolation(err) {
		return 0, apperr.Conflict(op, "file already recorded")
	}
	if err != nil {
		recordError(span, err)
		return 0, apperr.Internal(op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	rec.ID = id
	rec.Metadata = meta
	rec.CreatedAt, rec.UpdatedAt = now, now

	c.logger.Debug("file recorded",
		zap.String("file_id", rec.FileID),
		zap.String("collection_id", rec.CollectionID),
		zap.Int64("file_size", rec.FileSize),
	)
	return id, nil
}

// Get returns the record for fileID if owner owns it.
func (c *Catalog) Get(ctx context.Context, owner, fileID string) (*FileRecord, error) {
	const op = "filecatalog.get"
	ctx, span := tracer.Start(ctx, "Catalog.Get")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	if owner == "" || fileID == "" {
		return nil, apperr.NotFound(op, "file not found")
	}

	row := c.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM file_storage WHERE file_id = ? AND user_id = ?`, fileID, owner)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "file not found")
	}
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	return rec, nil
}

// ListByCollection lists owner's files in a collection, newest first.
func (c *Catalog) ListByCollection(ctx context.Context, owner, collectionID string, limit, offset int) ([]*FileRecord, error) {
	ctx, span := tracer.Start(ctx, "Catalog.ListByCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", collectionID))

	limit, offset = clampPage(limit, offset)
	return c.list(ctx, span, "filecatalog.list_by_collection",
		`SELECT `+selectColumns+` FROM file_storage
		 WHERE collection_id = ? AND user_id = ?
		 ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?`,
		collectionID, owner, limit, offset)
}

// ListByUser lists every file owner has uploaded, newest first.
func (c *Catalog) ListByUser(ctx context.Context, owner string, limit, offset int) ([]*FileRecord, error) {
	ctx, span := tracer.Start(ctx, "Catalog.ListByUser")
	defer span.End()

	limit, offset = clampPage(limit, offset)
	return c.list(ctx, span, "filecatalog.list_by_user",
		`SELECT `+selectColumns+` FROM file_storage
		 WHERE user_id = ?
		 ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?`,
		owner, limit, offset)
}

func (c *Catalog) list(ctx context.Context, span trace.Span, op, query string, args ...any) ([]*FileRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	defer rows.Close()

	out := []*FileRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			recordError(span, err)
			return nil, apperr.Internal(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// Delete removes owner's record for fileID and reports whether a row was
// removed.
func (c *Catalog) Delete(ctx context.Context, owner, fileID string) (bool, error) {
	const op = "filecatalog.delete"
	ctx, span := tracer.Start(ctx, "Catalog.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM file_storage WHERE file_id = ? AND user_id = ?`, fileID, owner)
	if err != nil {
		recordError(span, err)
		return false, apperr.Internal(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Internal(op, err)
	}
	return n > 0, nil
}

// DeleteByCollection removes every record owner has in a collection and
// returns how many were removed.
func (c *Catalog) DeleteByCollection(ctx context.Context, owner, collectionID string) (int64, error) {
	const op = "filecatalog.delete_by_collection"
	ctx, span := tracer.Start(ctx, "Catalog.DeleteByCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", collectionID))

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM file_storage WHERE collection_id = ? AND user_id = ?`, collectionID, owner)
	if err != nil {
		recordError(span, err)
		return 0, apperr.Internal(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	span.SetAttributes(attribute.Int64("deleted", n))
	if n > 0 {
		c.logger.Info("file records deleted",
			zap.String("collection_id", collectionID),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

// UpdateMetadata merges patch into the record's metadata. Only
// UpdatableKeys are accepted; a nil value removes the key.
func (c *Catalog) UpdateMetadata(ctx context.Context, owner, fileID string, patch map[string]any) (*FileRecord, error) {
	const op = "filecatalog.update_metadata"
	ctx, span := tracer.Start(ctx, "Catalog.UpdateMetadata")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	if len(patch) == 0 {
		return nil, apperr.Validation(op, "must update at least one metadata key")
	}
	for k := range patch {
		if !UpdatableKeys[k] {
			return nil, apperr.Validation(op, fmt.Sprintf("metadata key %q cannot be updated", k))
		}
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, apperr.Validation(op, "metadata must be a JSON object")
	}

	row := c.db.QueryRowContext(ctx,
		`UPDATE file_storage SET metadata = json_patch(metadata, ?), updated_at = ?
		 WHERE file_id = ? AND user_id = ?
		 RETURNING `+selectColumns,
		string(patchJSON), database.FormatTime(c.now()), fileID, owner)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "file not found")
	}
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	return rec, nil
}

// CountByCollection returns how many files owner has in a collection.
func (c *Catalog) CountByCollection(ctx context.Context, owner, collectionID string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_storage WHERE collection_id = ? AND user_id = ?`,
		collectionID, owner).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("filecatalog.count_by_collection", err)
	}
	return n, nil
}

// TotalSizeByUser returns the summed size of owner's files, 0 when none.
func (c *Catalog) TotalSizeByUser(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM file_storage WHERE user_id = ?`, owner).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("filecatalog.total_size_by_user", err)
	}
	return n, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*FileRecord, error) {
	var r FileRecord
	var meta, uploaded, created, updated string
	err := s.Scan(&r.ID, &r.FileID, &r.UserID, &r.CollectionID, &r.Filename, &r.OriginalFilename,
		&r.ContentType, &r.FileSize, &r.ObjectPath, &r.BucketName, &r.ETag, &meta,
		&uploaded, &created, &updated)
	if err != nil {
		return nil, err
	}

	r.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for file %s: %w", r.FileID, err)
	}
	if r.UploadTime, err = database.ParseTime(uploaded); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
