package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/database"
	"github.com/fyrsmithlabs/collectiond/internal/filecatalog"
	"github.com/fyrsmithlabs/collectiond/internal/ingest"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

// KeyOriginalFile is the chunk metadata key describing the uploaded file.
const KeyOriginalFile = "original_file"

// Upload is one file handed to the coordinator for ingest.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IngestResult describes one ingested file. File is nil when the blob or
// catalog step failed after the chunks were indexed.
type IngestResult struct {
	FileID   string                  `json:"file_id"`
	Filename string                  `json:"filename"`
	ChunkIDs []string                `json:"chunk_ids"`
	File     *filecatalog.FileRecord `json:"file,omitempty"`
	Warnings []Warning               `json:"warnings,omitempty"`
}

// BatchResult describes a multi-file ingest.
type BatchResult struct {
	Files    []*IngestResult `json:"files"`
	Warnings []Warning       `json:"warnings,omitempty"`
}

// FileIDs returns the ids of every ingested file.
func (b *BatchResult) FileIDs() []string {
	ids := make([]string, len(b.Files))
	for i, f := range b.Files {
		ids[i] = f.FileID
	}
	return ids
}

// ChunkIDs returns the ids of every chunk written by the batch.
func (b *BatchResult) ChunkIDs() []string {
	var ids []string
	for _, f := range b.Files {
		ids = append(ids, f.ChunkIDs...)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids
}

// IngestFile chunks one upload into the collection:
//
//  1. generate a file id and chunk the bytes
//  2. tag every chunk with the file id and upsert into the chunk table
//  3. store the original bytes in the blob store
//  4. record the file in the catalog
//
// Steps 3 and 4 are best effort: once chunks are indexed they stay
// searchable even if the original copy could not be kept.
//
// Chunk metadata is layered loader keys, original_file, caller keys, then
// file_id; the caller loses only to file_id.
func (c *Coordinator) IngestFile(ctx context.Context, owner, collectionID string, upload Upload, metadata map[string]any) (*IngestResult, error) {
	const op = "lifecycle.ingest_file"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	if err := validateMetadata(op, metadata); err != nil {
		return nil, err
	}

	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}
	return c.ingest(ctx, owner, coll, upload, metadata)
}

// IngestFiles ingests a batch of uploads. metadatas, when given, must hold
// one entry per upload. A file that fails is reported as a warning and the
// batch continues; the batch fails only when every file failed.
func (c *Coordinator) IngestFiles(ctx context.Context, owner, collectionID string, uploads []Upload, metadatas []map[string]any) (*BatchResult, error) {
	const op = "lifecycle.ingest_files"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, apperr.Validation(op, "at least one file is required")
	}
	if metadatas != nil && len(metadatas) != len(uploads) {
		return nil, apperr.Validation(op, fmt.Sprintf(
			"metadatas must have one entry per file: got %d for %d files", len(metadatas), len(uploads)))
	}
	for _, m := range metadatas {
		if err := validateMetadata(op, m); err != nil {
			return nil, err
		}
	}

	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}

	ctx, r := c.begin(ctx, SagaIngestBatch, owner, coll.ID,
		zap.String("collection_id", coll.ID),
		zap.Int("files", len(uploads)),
	)
	defer r.end(OutcomeFailed)

	out := &BatchResult{Files: make([]*IngestResult, 0, len(uploads))}
	var firstErr error
	for i, up := range uploads {
		var meta map[string]any
		if metadatas != nil {
			meta = metadatas[i]
		}
		res, err := c.ingest(ctx, owner, coll, up, meta)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.warn(ctx, "ingest "+up.Filename, StoreChunker, err, zap.String("filename", up.Filename))
			continue
		}
		out.Files = append(out.Files, res)
		out.Warnings = append(out.Warnings, res.Warnings...)
		r.step("ingest "+res.FileID, StoreChunkStore)
	}

	if len(out.Files) == 0 {
		return nil, r.fail(apperr.Validation(op, "no file could be ingested: "+apperr.PublicMessage(firstErr)))
	}
	out.Warnings = append(out.Warnings, r.warnings...)
	r.done(false)
	return out, nil
}

func (c *Coordinator) ingest(ctx context.Context, owner string, coll *registry.Collection, upload Upload, metadata map[string]any) (*IngestResult, error) {
	const op = "lifecycle.ingest_file"

	filename := strings.TrimSpace(upload.Filename)
	if filename == "" {
		return nil, apperr.Validation(op, "filename is required")
	}
	contentType := ingest.ResolveContentType(upload.ContentType, filename)
	if !ingest.Supported(contentType, filename) {
		return nil, apperr.Validation(op, "unsupported content type")
	}

	fileID := uuid.NewString()
	objectPath, err := blobstore.ObjectPath(owner, coll.ID, fileID, filename)
	if err != nil {
		return nil, apperr.Validation(op, "principal cannot be used in an object path")
	}

	ctx, r := c.begin(ctx, SagaIngestFile, owner, fileID,
		zap.String("collection_id", coll.ID),
		zap.String("file_id", fileID),
	)
	defer r.end(OutcomeFailed)

	pieces, err := c.chunker.Chunk(ctx, filename, contentType, upload.Data)
	if errors.Is(err, ingest.ErrUnsupportedType) {
		return nil, r.fail(apperr.Validation(op, "unsupported content type"))
	}
	if err != nil {
		r.logger.Warn(ctx, "chunking failed", zap.String("store", StoreChunker), zap.Error(err))
		return nil, r.fail(apperr.Validation(op, "file could not be parsed"))
	}
	r.step("chunk", StoreChunker)

	uploadTime := c.now().UTC()
	original := map[string]any{
		"object_path":  objectPath,
		"filename":     filename,
		"size":         len(upload.Data),
		"content_type": contentType,
		"upload_time":  database.FormatTime(uploadTime),
	}
	callerMeta := tenant.TenantMetadata(metadata)

	chunks := make([]chunkstore.Chunk, len(pieces))
	for i, p := range pieces {
		meta := make(map[string]any, len(p.Metadata)+len(callerMeta)+2)
		for k, v := range p.Metadata {
			meta[k] = v
		}
		meta[KeyOriginalFile] = original
		for k, v := range callerMeta {
			meta[k] = v
		}
		meta[tenant.KeyFileID] = fileID
		chunks[i] = chunkstore.Chunk{FileID: fileID, Content: p.Content, Metadata: meta}
	}

	ids, err := c.chunks.Upsert(ctx, coll.TableID, chunks)
	if err != nil {
		return nil, r.fail(mapChunkError(op, err))
	}
	r.step("upsert_chunks", StoreChunkStore)

	result := &IngestResult{FileID: fileID, Filename: filename, ChunkIDs: ids}

	info, err := c.blobs.Put(ctx, objectPath, bytes.NewReader(upload.Data), int64(len(upload.Data)), contentType)
	if err != nil {
		r.warn(ctx, "put_blob", StoreBlob, err, zap.String("object_path", objectPath))
	} else {
		r.step("put_blob", StoreBlob)

		rec := &filecatalog.FileRecord{
			FileID:           fileID,
			UserID:           owner,
			CollectionID:     coll.ID,
			Filename:         blobstore.SanitizeFilename(filename),
			OriginalFilename: filename,
			ContentType:      contentType,
			FileSize:         int64(len(upload.Data)),
			ObjectPath:       objectPath,
			BucketName:       c.blobs.Bucket(),
			ETag:             info.ETag,
			Metadata:         callerMeta,
			UploadTime:       uploadTime,
		}
		if _, err := c.files.Insert(ctx, rec); err != nil {
			r.warn(ctx, "record_file", StoreFileCatalog, err)
		} else {
			r.step("record_file", StoreFileCatalog)
			result.File = rec
		}
	}

	result.Warnings = r.warnings
	r.done(false)

	r.logger.Info(ctx, "file ingested",
		zap.String("filename", filename),
		zap.Int("chunks", len(ids)),
		zap.Int("warnings", len(r.warnings)),
	)
	return result, nil
}

// DeleteFile removes one document from a collection:
//
//  1. resolve the chunk table through the registry (owner scoped)
//  2. delete every chunk tagged with the file id
//  3. look the file up in the catalog (best effort)
//  4. delete its blob (best effort)
//  5. delete its catalog row (best effort)
//
// The call succeeds once step 2 succeeds. Deleting a file that is already
// gone succeeds with Deleted false.
func (c *Coordinator) DeleteFile(ctx context.Context, owner, collectionID, fileID string) (*DeleteResult, error) {
	const op = "lifecycle.delete_file"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileID) == "" {
		return nil, apperr.Validation(op, "file_id is required")
	}

	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}

	ctx, r := c.begin(ctx, SagaDeleteFile, owner, fileID,
		zap.String("collection_id", coll.ID),
		zap.String("file_id", fileID),
	)
	defer r.end(OutcomeFailed)

	ids, err := c.chunks.ChunkIDsByFileID(ctx, coll.TableID, fileID)
	if err != nil && !errors.Is(err, chunkstore.ErrTableNotFound) {
		r.warn(ctx, "lookup_chunks", StoreChunkStore, err)
	}

	deleted, err := c.chunks.DeleteByFileID(ctx, coll.TableID, fileID)
	switch {
	case errors.Is(err, chunkstore.ErrTableNotFound):
		r.logger.Warn(ctx, "chunk table already gone",
			zap.String("store", StoreChunkStore),
			zap.String("table_id", coll.TableID),
		)
	case err != nil:
		StepFailuresTotal.WithLabelValues(SagaDeleteFile, StoreChunkStore).Inc()
		return nil, r.fail(mapChunkError(op, err))
	default:
		r.step("delete_chunks", StoreChunkStore)
	}
	r.logger.Debug(ctx, "file chunks deleted",
		zap.Int("found", len(ids)),
		zap.Int64("deleted", deleted),
	)

	rec, err := c.files.Get(ctx, owner, fileID)
	switch {
	case err == nil && rec.CollectionID != coll.ID:
		// same owner, other collection: not this call's to delete
		rec = nil
	case errors.Is(err, apperr.ErrNotFound):
		rec = nil
	case err != nil:
		r.warn(ctx, "lookup_file", StoreFileCatalog, err)
		rec = nil
	}

	if rec != nil {
		if err := c.blobs.Delete(ctx, rec.ObjectPath); err != nil {
			r.warn(ctx, "delete_blob", StoreBlob, err, zap.String("object_path", rec.ObjectPath))
		} else {
			r.step("delete_blob", StoreBlob)
		}
	} else if prefix, perr := blobstore.FilePrefix(owner, coll.ID, fileID); perr == nil {
		if _, err := c.blobs.DeleteByPrefix(ctx, prefix); err != nil {
			r.warn(ctx, "delete_blob", StoreBlob, err, zap.String("prefix", prefix))
		} else {
			r.step("delete_blob", StoreBlob)
		}
	}

	var removed bool
	if rec != nil {
		removed, err = c.files.Delete(ctx, owner, fileID)
		if err != nil {
			r.warn(ctx, "delete_file_record", StoreFileCatalog, err)
		} else {
			r.step("delete_file_record", StoreFileCatalog)
		}
	}

	r.done(deleted == 0 && !removed)
	return &DeleteResult{Deleted: deleted > 0 || removed, Warnings: r.warnings}, nil
}

// ListUniqueFiles returns one representative chunk per file in the
// collection, paginated over files.
func (c *Coordinator) ListUniqueFiles(ctx context.Context, owner, collectionID string, limit, offset int) ([]chunkstore.Chunk, error) {
	const op = "lifecycle.list_unique_files"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, apperr.Validation(op, "offset cannot be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultFileLimit
	case limit > MaxFileLimit:
		limit = MaxFileLimit
	}

	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}

	files, err := c.chunks.ListUniqueFiles(ctx, coll.TableID, limit, offset)
	if err != nil {
		return nil, mapChunkError(op, err)
	}
	return files, nil
}

// SearchChunks runs a similarity search in one collection. An empty query
// is rejected before any store is touched.
func (c *Coordinator) SearchChunks(ctx context.Context, owner, collectionID, query string, k int) ([]chunkstore.ScoredChunk, error) {
	const op = "lifecycle.search_chunks"
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation(op, "query cannot be empty")
	}
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	switch {
	case k <= 0:
		k = DefaultSearchK
	case k > MaxSearchK:
		k = MaxSearchK
	}

	ctx, span := tracer.Start(ctx, "Coordinator.SearchChunks")
	defer span.End()

	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}

	hits, err := c.chunks.Search(ctx, coll.TableID, query, k)
	if err != nil {
		span.RecordError(err)
		return nil, mapChunkError(op, err)
	}
	return hits, nil
}

// GetFile returns the catalog record of a file in a collection.
func (c *Coordinator) GetFile(ctx context.Context, owner, collectionID, fileID string) (*filecatalog.FileRecord, error) {
	const op = "lifecycle.get_file"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}
	rec, err := c.files.Get(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}
	if rec.CollectionID != coll.ID {
		return nil, apperr.NotFound(op, "file not found")
	}
	return rec, nil
}

// ListFiles returns the catalog records of a collection, newest first.
func (c *Coordinator) ListFiles(ctx context.Context, owner, collectionID string, limit, offset int) ([]*filecatalog.FileRecord, error) {
	const op = "lifecycle.list_files"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	coll, err := c.lookup(ctx, owner, collectionID)
	if err != nil {
		return nil, err
	}
	return c.files.ListByCollection(ctx, owner, coll.ID, limit, offset)
}

// ListUserFiles returns every catalog record of the owner, newest first.
func (c *Coordinator) ListUserFiles(ctx context.Context, owner string, limit, offset int) ([]*filecatalog.FileRecord, error) {
	if err := checkOwner("lifecycle.list_user_files", owner); err != nil {
		return nil, err
	}
	return c.files.ListByUser(ctx, owner, limit, offset)
}

// UpdateFileMetadata merges patch into a file's catalog metadata.
func (c *Coordinator) UpdateFileMetadata(ctx context.Context, owner, collectionID, fileID string, patch map[string]any) (*filecatalog.FileRecord, error) {
	if _, err := c.GetFile(ctx, owner, collectionID, fileID); err != nil {
		return nil, err
	}
	return c.files.UpdateMetadata(ctx, owner, fileID, patch)
}

// Download resolves a file for download with one catalog read. When the
// blob store can presign, URL is set and Content is nil; otherwise Content
// streams the bytes and the caller closes it.
func (c *Coordinator) Download(ctx context.Context, owner, collectionID, fileID string) (*Download, error) {
	const op = "lifecycle.download"
	rec, err := c.GetFile(ctx, owner, collectionID, fileID)
	if err != nil {
		return nil, err
	}
	url, err := c.blobs.Presign(ctx, rec.ObjectPath, c.config.PresignTTL)
	switch {
	case err == nil:
		return &Download{Record: rec, URL: url, ExpiresIn: c.config.PresignTTL}, nil
	case !errors.Is(err, blobstore.ErrPresignUnsupported):
		return nil, apperr.Internal(op, err)
	}
	f, err := c.open(ctx, op, rec)
	if err != nil {
		return nil, err
	}
	return &Download{Record: rec, Content: f}, nil
}

// OpenFile streams a file's original bytes. The caller closes the File.
func (c *Coordinator) OpenFile(ctx context.Context, owner, collectionID, fileID string) (*File, error) {
	rec, err := c.GetFile(ctx, owner, collectionID, fileID)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, "lifecycle.open_file", rec)
}

func (c *Coordinator) open(ctx context.Context, op string, rec *filecatalog.FileRecord) (*File, error) {
	rc, info, err := c.blobs.Get(ctx, rec.ObjectPath)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.logger.Warn(ctx, "file record without blob",
			zap.String("file_id", rec.FileID),
			zap.String("store", StoreBlob),
		)
		return nil, apperr.NotFound(op, "file content not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return &File{ReadCloser: rc, Record: rec, Info: info}, nil
}

// UserStats sums the size of every file the owner uploaded.
func (c *Coordinator) UserStats(ctx context.Context, owner string) (*UserStats, error) {
	if err := checkOwner("lifecycle.user_stats", owner); err != nil {
		return nil, err
	}
	total, err := c.files.TotalSizeByUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &UserStats{
		UserID:          owner,
		TotalFileSize:   total,
		TotalFileSizeMB: math.Round(float64(total)/(1024*1024)*100) / 100,
	}, nil
}

func validateMetadata(op string, metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	if _, err := json.Marshal(metadata); err != nil {
		return apperr.Validation(op, "metadata must be a JSON object")
	}
	return nil
}

func mapChunkError(op string, err error) error {
	if errors.Is(err, chunkstore.ErrTableNotFound) {
		return apperr.NotFound(op, "collection not found")
	}
	return apperr.Internal(op, err)
}
