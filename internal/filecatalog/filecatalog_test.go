package filecatalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/database"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(database.OpenTest(t), nil)
	require.NoError(t, err)
	return c
}

func record(owner, collection, fileID string, size int64, uploaded time.Time) *FileRecord {
	return &FileRecord{
		FileID:       fileID,
		UserID:       owner,
		CollectionID: collection,
		Filename:     fileID + ".txt",
		ContentType:  "text/plain",
		FileSize:     size,
		ObjectPath:   fmt.Sprintf("%s/%s/%s/%s.txt", owner, collection, fileID, fileID),
		BucketName:   "collections",
		Metadata:     map[string]any{"source": "upload"},
		UploadTime:   uploaded,
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	rec := record("user1", "c1", "f1", 40, time.Time{})
	rec.OriginalFilename = ""
	id, err := c.Insert(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.False(t, rec.UploadTime.IsZero(), "upload time defaults to now")

	got, err := c.Get(ctx, "user1", "f1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "f1.txt", got.OriginalFilename, "original filename defaults to filename")
	assert.Equal(t, int64(40), got.FileSize)
	assert.Equal(t, "upload", got.Metadata["source"])
	assert.True(t, rec.UploadTime.Equal(got.UploadTime))
}

func TestInsert_Validation(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Insert(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rec := record("user1", "c1", "", 1, time.Time{})
	_, err = c.Insert(ctx, rec)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rec = record("", "c1", "f1", 1, time.Time{})
	_, err = c.Insert(ctx, rec)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rec = record("user1", "c1", "f1", -1, time.Time{})
	_, err = c.Insert(ctx, rec)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestInsert_DuplicateFileID(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Insert(ctx, record("user1", "c1", "f1", 1, time.Time{}))
	require.NoError(t, err)

	dup := record("user1", "c1", "f1", 1, time.Time{})
	dup.ObjectPath = "user1/c1/f1/other.txt"
	_, err = c.Insert(ctx, dup)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Insert(ctx, record("user1", "c1", "f1", 10, time.Time{}))
	require.NoError(t, err)

	_, err = c.Get(ctx, "user2", "f1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	files, err := c.ListByCollection(ctx, "user2", "c1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = c.ListByUser(ctx, "user2", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	deleted, err := c.Delete(ctx, "user2", "f1")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := c.DeleteByCollection(ctx, "user2", "c1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.UpdateMetadata(ctx, "user2", "f1", map[string]any{"tags": []string{"x"}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	size, err := c.TotalSizeByUser(ctx, "user2")
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = c.Get(ctx, "user1", "f1")
	require.NoError(t, err, "record survives other tenants' attempts")
}

func TestListOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := c.Insert(ctx, record("user1", "c1", fmt.Sprintf("f%d", i), 1, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := c.Insert(ctx, record("user1", "c2", "other", 1, base))
	require.NoError(t, err)

	files, err := c.ListByCollection(ctx, "user1", "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f4", files[0].FileID, "newest first")
	assert.Equal(t, "f3", files[1].FileID)

	files, err = c.ListByCollection(ctx, "user1", "c1", 2, 4)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f0", files[0].FileID)

	files, err = c.ListByUser(ctx, "user1", 0, -3)
	require.NoError(t, err)
	assert.Len(t, files, 6)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultLimit, 0},
		{-5, -1, DefaultLimit, 0},
		{10, 20, 10, 20},
		{5000, 0, MaxLimit, 0},
	}
	for _, tt := range tests {
		limit, offset := clampPage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Insert(ctx, record("user1", "c1", "f1", 1, time.Time{}))
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, "user1", "f1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "user1", "f1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")

	_, err = c.Get(ctx, "user1", "f1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteByCollectionAndAggregates(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	for i, size := range []int64{100, 200, 300} {
		_, err := c.Insert(ctx, record("user1", "c1", fmt.Sprintf("f%d", i), size, time.Time{}))
		require.NoError(t, err)
	}
	_, err := c.Insert(ctx, record("user1", "c2", "g1", 50, time.Time{}))
	require.NoError(t, err)

	count, err := c.CountByCollection(ctx, "user1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	total, err := c.TotalSizeByUser(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(650), total)

	n, err := c.DeleteByCollection(ctx, "user1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err = c.CountByCollection(ctx, "user1", "c1")
	require.NoError(t, err)
	assert.Zero(t, count)

	total, err = c.TotalSizeByUser(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Insert(ctx, record("user1", "c1", "f1", 1, time.Time{}))
	require.NoError(t, err)

	rec, err := c.UpdateMetadata(ctx, "user1", "f1", map[string]any{
		"description": "quarterly report",
		"tags":        []string{"finance", "q3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "quarterly report", rec.Metadata["description"])
	assert.Equal(t, []any{"finance", "q3"}, rec.Metadata["tags"])
	assert.Equal(t, "upload", rec.Metadata["source"], "other keys preserved")

	rec, err = c.UpdateMetadata(ctx, "user1", "f1", map[string]any{"source": nil})
	require.NoError(t, err)
	assert.NotContains(t, rec.Metadata, "source", "null removes a key")

	_, err = c.UpdateMetadata(ctx, "user1", "f1", map[string]any{"owner_id": "user2"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.UpdateMetadata(ctx, "user1", "f1", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.UpdateMetadata(ctx, "user1", "missing", map[string]any{"category": "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
