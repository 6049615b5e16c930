package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/ingest"
)

func TestScenario_IngestListDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	coll, err := h.coord.CreateCollection(ctx, "user1", "docs", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"owner_id": "user1"}, coll.Metadata)

	text := "This is a forty byte text file for test."
	require.Len(t, text, 40)

	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("small.txt", text), nil)
	require.NoError(t, err)
	require.Len(t, res.ChunkIDs, 1)
	require.NotNil(t, res.File)
	assert.Empty(t, res.Warnings)

	files, err := h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, text, files[0].Content)
	assert.Equal(t, res.FileID, files[0].FileID)

	del, err := h.coord.DeleteFile(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	assert.True(t, del.Deleted)
	assert.Empty(t, del.Warnings)

	n, err := h.chunks.Count(ctx, coll.TableID)
	require.NoError(t, err)
	assert.Zero(t, n)

	files, err = h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = h.coord.GetFile(ctx, "user1", coll.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, h.blobs.Len())
}

func TestListUniqueFiles_PaginatesOverFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withChunker(paragraphChunker{}))
	coll := h.createCollection(t, "user1", "docs")

	first, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("five.txt", paragraphs("five", 5)), nil)
	require.NoError(t, err)
	require.Len(t, first.ChunkIDs, 5)

	files, err := h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	second, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("three.txt", paragraphs("three", 3)), nil)
	require.NoError(t, err)
	require.Len(t, second.ChunkIDs, 3)

	files, err = h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	page, err := h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, min(first.FileID, second.FileID), page[0].FileID)

	page, err = h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, max(first.FileID, second.FileID), page[0].FileID)

	_, err = h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 1, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIngestFile_ChunkMetadata(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withChunker(paragraphChunker{}))
	coll := h.createCollection(t, "user1", "docs")

	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("notes.txt", "only paragraph"), map[string]any{
		"loader":   "caller wins over loader",
		"file_id":  "caller loses to system",
		"owner_id": "mallory",
		"topic":    "testing",
	})
	require.NoError(t, err)

	files, err := h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	meta := files[0].Metadata

	assert.Equal(t, res.FileID, meta["file_id"])
	assert.Equal(t, "caller wins over loader", meta["loader"])
	assert.Equal(t, "testing", meta["topic"])
	assert.Equal(t, "notes.txt", meta[ingest.KeySource])
	assert.NotContains(t, meta, "owner_id")

	original, ok := meta[KeyOriginalFile].(map[string]any)
	require.True(t, ok, "original_file is an object")
	assert.Equal(t, res.File.ObjectPath, original["object_path"])
	assert.Equal(t, "notes.txt", original["filename"])
	assert.Equal(t, float64(len("only paragraph")), original["size"])
	assert.Equal(t, "text/plain", original["content_type"])
	assert.NotEmpty(t, original["upload_time"])

	assert.Equal(t, map[string]any{"loader": "caller wins over loader", "file_id": "caller loses to system", "topic": "testing"},
		res.File.Metadata, "catalog keeps the caller metadata")
}

func TestIngestFile_CallerOriginalFileWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withChunker(paragraphChunker{}))
	coll := h.createCollection(t, "user1", "docs")

	_, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("notes.txt", "only paragraph"), map[string]any{
		KeyOriginalFile: "imported from wiki",
	})
	require.NoError(t, err)

	files, err := h.coord.ListUniqueFiles(ctx, "user1", coll.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "imported from wiki", files[0].Metadata[KeyOriginalFile])
}

func TestIngestFile_RecordsFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	coll := h.createCollection(t, "user1", "docs")

	res, err := h.coord.IngestFile(ctx, "user1", coll.ID,
		Upload{Filename: "My Report (final).md", Data: []byte("# Title\n\nBody text.")}, nil)
	require.NoError(t, err)

	rec, err := h.coord.GetFile(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, "user1", rec.UserID)
	assert.Equal(t, coll.ID, rec.CollectionID)
	assert.Equal(t, "My Report (final).md", rec.OriginalFilename)
	assert.Equal(t, "My_Report_final_.md", rec.Filename)
	assert.Equal(t, ingest.TypeMarkdown, rec.ContentType)
	assert.Equal(t, "test-bucket", rec.BucketName)
	assert.Equal(t, "user1/"+coll.ID+"/"+res.FileID+"/My_Report_final_.md", rec.ObjectPath)
	assert.NotEmpty(t, rec.ETag)

	f, err := h.coord.OpenFile(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "# Title\n\nBody text.", readAll(t, f))

	d, err := h.coord.Download(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	require.NotNil(t, d.Content, "memory store streams instead of presigning")
	defer d.Content.Close()
	assert.Empty(t, d.URL)
	assert.Equal(t, rec.FileID, d.Record.FileID)
	assert.Equal(t, "# Title\n\nBody text.", readAll(t, d.Content))

	listed, err := h.coord.ListFiles(ctx, "user1", coll.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, res.FileID, listed[0].FileID)

	mine, err := h.coord.ListUserFiles(ctx, "user1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	updated, err := h.coord.UpdateFileMetadata(ctx, "user1", coll.ID, res.FileID, map[string]any{"category": "reports"})
	require.NoError(t, err)
	assert.Equal(t, "reports", updated.Metadata["category"])

	_, err = h.coord.GetFile(ctx, "user2", coll.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDownload_PresignedWithOneCatalogRead(t *testing.T) {
	ctx := context.Background()
	var catalog *countingCatalog
	h := newHarness(t,
		withBlobs(func(s blobstore.Store) blobstore.Store { return presigningBlobs{Store: s} }),
		withFiles(func(f FileCatalog) FileCatalog {
			catalog = &countingCatalog{FileCatalog: f}
			return catalog
		}),
	)
	coll := h.createCollection(t, "user1", "docs")
	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("a.txt", "alpha"), nil)
	require.NoError(t, err)

	catalog.gets = 0
	d, err := h.coord.Download(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	assert.Nil(t, d.Content)
	assert.Equal(t, "https://blobs.example/"+res.File.ObjectPath+"?expires=1m0s", d.URL)
	assert.Equal(t, time.Minute, d.ExpiresIn)
	assert.Equal(t, "a.txt", d.Record.OriginalFilename)
	assert.Equal(t, 1, catalog.gets)

	_, err = h.coord.Download(ctx, "user2", coll.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIngestFile_FileFromOtherCollectionIsHidden(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.createCollection(t, "user1", "a")
	b := h.createCollection(t, "user1", "b")

	res, err := h.coord.IngestFile(ctx, "user1", a.ID, textUpload("a.txt", "in a"), nil)
	require.NoError(t, err)

	_, err = h.coord.GetFile(ctx, "user1", b.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Deleting through the wrong collection leaves the file alone.
	del, err := h.coord.DeleteFile(ctx, "user1", b.ID, res.FileID)
	require.NoError(t, err)
	assert.False(t, del.Deleted)

	_, err = h.coord.GetFile(ctx, "user1", a.ID, res.FileID)
	assert.NoError(t, err)
	assert.Equal(t, 1, h.blobs.Len())
}

func TestIngestFile_BlobFailureKeepsChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withBlobs(func(s blobstore.Store) blobstore.Store {
		return &flakyBlobs{Store: s, failPut: true}
	}))
	coll := h.createCollection(t, "user1", "docs")

	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("a.txt", "still searchable"), nil)
	require.NoError(t, err)
	assert.Len(t, res.ChunkIDs, 1)
	assert.Nil(t, res.File)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, StoreBlob, res.Warnings[0].Store)

	hits, err := h.coord.SearchChunks(ctx, "user1", coll.ID, "searchable", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.FileID, hits[0].FileID)

	_, err = h.coord.GetFile(ctx, "user1", coll.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIngestFile_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	coll := h.createCollection(t, "user1", "docs")

	_, err := h.coord.IngestFile(ctx, "user1", coll.ID, Upload{Filename: "photo.png", ContentType: "image/png", Data: []byte{1}}, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.coord.IngestFile(ctx, "user1", coll.ID, Upload{ContentType: "text/plain", Data: []byte("x")}, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("a.txt", "x"), map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.coord.IngestFile(ctx, "user1", "missing", textUpload("a.txt", "x"), nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Zero(t, h.blobs.Len(), "nothing stored for rejected uploads")
}

func TestIngestFile_EmptyFileIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	coll := h.createCollection(t, "user1", "docs")

	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("empty.txt", ""), nil)
	require.NoError(t, err)
	assert.Empty(t, res.ChunkIDs)
	require.NotNil(t, res.File)
	assert.Zero(t, res.File.FileSize)
}

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	coll := h.createCollection(t, "user1", "docs")

	t.Run("metadatas length must match", func(t *testing.T) {
		_, err := h.coord.IngestFiles(ctx, "user1", coll.ID,
			[]Upload{textUpload("a.txt", "a"), textUpload("b.txt", "b")},
			[]map[string]any{{"k": "v"}})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("no files", func(t *testing.T) {
		_, err := h.coord.IngestFiles(ctx, "user1", coll.ID, nil, nil)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("partial failure continues", func(t *testing.T) {
		res, err := h.coord.IngestFiles(ctx, "user1", coll.ID, []Upload{
			textUpload("a.txt", "first"),
			{Filename: "b.png", ContentType: "image/png", Data: []byte{1, 2}},
			textUpload("c.txt", "third"),
		}, []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}})
		require.NoError(t, err)
		assert.Len(t, res.Files, 2)
		assert.Len(t, res.FileIDs(), 2)
		assert.Len(t, res.ChunkIDs(), 2)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0].Message, "b.png")
		assert.Contains(t, res.Warnings[0].Message, "unsupported content type")
	})

	t.Run("every file failing fails the batch", func(t *testing.T) {
		_, err := h.coord.IngestFiles(ctx, "user1", coll.ID, []Upload{
			{Filename: "b.png", ContentType: "image/png", Data: []byte{1}},
		}, nil)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestDeleteFile_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withChunker(paragraphChunker{}))
	coll := h.createCollection(t, "user1", "docs")

	keep, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("keep.txt", paragraphs("keep", 2)), nil)
	require.NoError(t, err)
	gone, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("gone.txt", paragraphs("gone", 3)), nil)
	require.NoError(t, err)

	first, err := h.coord.DeleteFile(ctx, "user1", coll.ID, gone.FileID)
	require.NoError(t, err)
	assert.True(t, first.Deleted)

	second, err := h.coord.DeleteFile(ctx, "user1", coll.ID, gone.FileID)
	require.NoError(t, err)
	assert.False(t, second.Deleted)
	assert.Empty(t, second.Warnings)

	never, err := h.coord.DeleteFile(ctx, "user1", coll.ID, "never-existed")
	require.NoError(t, err)
	assert.False(t, never.Deleted)

	n, err := h.chunks.CountByFileID(ctx, coll.TableID, keep.FileID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, h.blobs.Len())

	_, err = h.coord.DeleteFile(ctx, "user1", coll.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteFile_BlobFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyBlobs
	h := newHarness(t, withBlobs(func(s blobstore.Store) blobstore.Store {
		flaky = &flakyBlobs{Store: s}
		return flaky
	}))
	coll := h.createCollection(t, "user1", "docs")
	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("a.txt", "alpha"), nil)
	require.NoError(t, err)

	flaky.failDelete = true
	del, err := h.coord.DeleteFile(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	assert.True(t, del.Deleted)
	require.Len(t, del.Warnings, 1)
	assert.Equal(t, StoreBlob, del.Warnings[0].Store)

	n, err := h.chunks.CountByFileID(ctx, coll.TableID, res.FileID)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.coord.GetFile(ctx, "user1", coll.ID, res.FileID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteFile_WithoutCatalogRowRemovesBlobByPrefix(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	coll := h.createCollection(t, "user1", "docs")
	res, err := h.coord.IngestFile(ctx, "user1", coll.ID, textUpload("a.txt", "alpha"), nil)
	require.NoError(t, err)

	removed, err := h.files.Delete(ctx, "user1", res.FileID)
	require.NoError(t, err)
	require.True(t, removed)

	del, err := h.coord.DeleteFile(ctx, "user1", coll.ID, res.FileID)
	require.NoError(t, err)
	assert.True(t, del.Deleted)
	assert.Zero(t, h.blobs.Len())
}
