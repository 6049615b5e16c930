package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
)

// DeleteResult acknowledges a delete saga. Deleted is false when there
// was nothing left to delete; that is still success.
type DeleteResult struct {
	Deleted  bool      `json:"deleted"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// CreateCollection registers a collection and provisions its chunk table.
func (c *Coordinator) CreateCollection(ctx context.Context, owner, name string, metadata map[string]any) (*registry.Collection, error) {
	const op = "lifecycle.create_collection"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}

	ctx, r := c.begin(ctx, SagaCreateCollection, owner, "")
	defer r.end(OutcomeFailed)

	coll, err := c.registry.Create(ctx, owner, name, metadata)
	if err != nil {
		return nil, r.fail(err)
	}
	r.step("register", StoreRegistry)
	r.done(false)

	r.logger.Info(ctx, "collection created",
		zap.String("collection_id", coll.ID),
		zap.String("name", coll.Name),
	)
	return coll, nil
}

// ListCollections returns the owner's collections ordered by name.
func (c *Coordinator) ListCollections(ctx context.Context, owner string) ([]*registry.Collection, error) {
	if err := checkOwner("lifecycle.list_collections", owner); err != nil {
		return nil, err
	}
	return c.registry.List(ctx, owner)
}

// GetCollection returns one collection or NotFound.
func (c *Coordinator) GetCollection(ctx context.Context, owner, id string) (*registry.Collection, error) {
	const op = "lifecycle.get_collection"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	return c.lookup(ctx, owner, id)
}

// ResolveCollection looks a collection up by id and then by name.
func (c *Coordinator) ResolveCollection(ctx context.Context, owner, ref string) (*registry.Collection, error) {
	const op = "lifecycle.resolve_collection"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}
	coll, err := c.lookup(ctx, owner, ref)
	if errors.Is(err, apperr.ErrNotFound) {
		coll, err = c.registry.GetByName(ctx, owner, ref)
		if err != nil {
			return nil, err
		}
		return c.guard(ctx, owner, coll)
	}
	return coll, err
}

// UpdateCollection applies a partial update to name and/or metadata.
func (c *Coordinator) UpdateCollection(ctx context.Context, owner, id string, upd registry.Update) (*registry.Collection, error) {
	const op = "lifecycle.update_collection"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}

	ctx, r := c.begin(ctx, SagaUpdateCollection, owner, id, zap.String("collection_id", id))
	defer r.end(OutcomeFailed)

	coll, err := c.registry.Update(ctx, owner, id, upd)
	if err != nil {
		return nil, r.fail(err)
	}
	r.step("update", StoreRegistry)
	r.done(false)
	return coll, nil
}

// DeleteCollection removes a collection and everything stored under it:
//
//  1. resolve the chunk table through the registry (owner scoped)
//  2. delete every blob under {owner}/{id}/ (best effort)
//  3. delete the collection's file catalog rows (best effort)
//  4. drop the chunk table (an already missing table is fine)
//  5. delete the registry row
//
// The registry row goes last so an interrupted delete leaves the
// collection visible and the request can be re-issued. A collection that
// does not resolve is already deleted and the call succeeds. A chunk table
// that cannot be dropped stops the saga before step 5 so the table is
// never orphaned.
func (c *Coordinator) DeleteCollection(ctx context.Context, owner, id string) (*DeleteResult, error) {
	const op = "lifecycle.delete_collection"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}

	ctx, r := c.begin(ctx, SagaDeleteCollection, owner, id, zap.String("collection_id", id))
	defer r.end(OutcomeFailed)

	coll, err := c.lookup(ctx, owner, id)
	if errors.Is(err, apperr.ErrNotFound) {
		r.done(true)
		return &DeleteResult{Deleted: false}, nil
	}
	if err != nil {
		return nil, r.fail(err)
	}
	r.step("resolve", StoreRegistry)

	prefix, err := blobstore.CollectionPrefix(owner, coll.ID)
	if err != nil {
		r.warn(ctx, "delete_blobs", StoreBlob, err)
	} else if n, err := c.blobs.DeleteByPrefix(ctx, prefix); err != nil {
		r.warn(ctx, "delete_blobs", StoreBlob, err, zap.String("prefix", prefix))
	} else {
		r.step("delete_blobs", StoreBlob)
		r.logger.Debug(ctx, "collection blobs deleted", zap.Int("objects", n))
	}

	if n, err := c.files.DeleteByCollection(ctx, owner, coll.ID); err != nil {
		r.warn(ctx, "delete_file_records", StoreFileCatalog, err)
	} else {
		r.step("delete_file_records", StoreFileCatalog)
		r.logger.Debug(ctx, "collection file records deleted", zap.Int64("records", n))
	}

	err = c.chunks.DropTable(ctx, coll.TableID)
	switch {
	case errors.Is(err, chunkstore.ErrTableNotFound):
		r.logger.Warn(ctx, "chunk table already gone",
			zap.String("store", StoreChunkStore),
			zap.String("table_id", coll.TableID),
		)
	case err != nil:
		StepFailuresTotal.WithLabelValues(SagaDeleteCollection, StoreChunkStore).Inc()
		return nil, r.fail(apperr.Internal(op, err))
	default:
		r.step("drop_table", StoreChunkStore)
	}

	n, err := c.registry.Delete(ctx, owner, coll.ID)
	if err != nil {
		StepFailuresTotal.WithLabelValues(SagaDeleteCollection, StoreRegistry).Inc()
		return nil, r.fail(err)
	}
	r.step("unregister", StoreRegistry)
	r.done(false)

	r.logger.Info(ctx, "collection deleted",
		zap.Int64("rows", n),
		zap.Int("warnings", len(r.warnings)),
	)
	return &DeleteResult{Deleted: n > 0, Warnings: r.warnings}, nil
}

// CollectionStats counts the files and chunks of a collection.
func (c *Coordinator) CollectionStats(ctx context.Context, owner, id string) (*CollectionStats, error) {
	const op = "lifecycle.collection_stats"
	if err := checkOwner(op, owner); err != nil {
		return nil, err
	}

	coll, err := c.lookup(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	files, err := c.files.CountByCollection(ctx, owner, coll.ID)
	if err != nil {
		return nil, err
	}

	chunks, err := c.chunks.Count(ctx, coll.TableID)
	if errors.Is(err, chunkstore.ErrTableNotFound) {
		c.logger.Warn(ctx, "chunk table missing for collection",
			zap.String("collection_id", coll.ID),
			zap.String("store", StoreChunkStore),
		)
		chunks, err = 0, nil
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	return &CollectionStats{CollectionID: coll.ID, FileCount: files, ChunkCount: chunks}, nil
}
