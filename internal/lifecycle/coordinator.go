// Package lifecycle coordinates operations that span the registry, the
// chunk store, the file catalog and the blob store.
//
// No transaction covers those stores. Each multi-store operation is a
// saga with a fixed step order: chunk and table work happens before
// catalog and registry removal on delete paths, and catalog and blob
// writes happen after chunk writes on ingest. Every delete step is
// idempotent, so a failed or cancelled saga is finished by re-issuing the
// same request.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/events"
	"github.com/fyrsmithlabs/collectiond/internal/filecatalog"
	"github.com/fyrsmithlabs/collectiond/internal/ingest"
	"github.com/fyrsmithlabs/collectiond/internal/logging"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

var tracer = otel.Tracer("collectiond.lifecycle")

// Search bounds.
const (
	DefaultSearchK = 10
	MaxSearchK     = 100
)

// Listing bounds for ListUniqueFiles.
const (
	DefaultFileLimit = 10
	MaxFileLimit     = 100
)

// DefaultPresignTTL is used when Config.PresignTTL is zero.
const DefaultPresignTTL = time.Hour

// Registry is the collection catalog the coordinator drives.
type Registry interface {
	Create(ctx context.Context, owner, name string, metadata map[string]any) (*registry.Collection, error)
	List(ctx context.Context, owner string) ([]*registry.Collection, error)
	Get(ctx context.Context, owner, id string) (*registry.Collection, error)
	GetByName(ctx context.Context, owner, name string) (*registry.Collection, error)
	Update(ctx context.Context, owner, id string, upd registry.Update) (*registry.Collection, error)
	Delete(ctx context.Context, owner, id string) (int64, error)
}

// ChunkStore is the per-collection chunk storage.
type ChunkStore interface {
	Upsert(ctx context.Context, table string, chunks []chunkstore.Chunk) ([]string, error)
	ListUniqueFiles(ctx context.Context, table string, limit, offset int) ([]chunkstore.Chunk, error)
	ChunkIDsByFileID(ctx context.Context, table, fileID string) ([]string, error)
	DeleteByFileID(ctx context.Context, table, fileID string) (int64, error)
	Search(ctx context.Context, table, query string, k int) ([]chunkstore.ScoredChunk, error)
	DropTable(ctx context.Context, table string) error
	Count(ctx context.Context, table string) (int64, error)
}

// FileCatalog is the per-file metadata catalog.
type FileCatalog interface {
	Insert(ctx context.Context, rec *filecatalog.FileRecord) (int64, error)
	Get(ctx context.Context, owner, fileID string) (*filecatalog.FileRecord, error)
	ListByCollection(ctx context.Context, owner, collectionID string, limit, offset int) ([]*filecatalog.FileRecord, error)
	ListByUser(ctx context.Context, owner string, limit, offset int) ([]*filecatalog.FileRecord, error)
	Delete(ctx context.Context, owner, fileID string) (bool, error)
	DeleteByCollection(ctx context.Context, owner, collectionID string) (int64, error)
	UpdateMetadata(ctx context.Context, owner, fileID string, patch map[string]any) (*filecatalog.FileRecord, error)
	CountByCollection(ctx context.Context, owner, collectionID string) (int64, error)
	TotalSizeByUser(ctx context.Context, owner string) (int64, error)
}

// Chunker turns file bytes into text chunks.
type Chunker interface {
	Chunk(ctx context.Context, filename, contentType string, data []byte) ([]ingest.Chunk, error)
}

// Config holds coordinator settings.
type Config struct {
	PresignTTL time.Duration
}

// Deps are the stores and collaborators the coordinator drives. Journal
// and Logger may be nil.
type Deps struct {
	Registry Registry
	Chunks   ChunkStore
	Files    FileCatalog
	Blobs    blobstore.Store
	Chunker  Chunker
	Journal  events.Journal
	Logger   *logging.Logger
}

// Coordinator runs the lifecycle sagas.
type Coordinator struct {
	registry Registry
	chunks   ChunkStore
	files    FileCatalog
	blobs    blobstore.Store
	chunker  Chunker
	journal  events.Journal
	logger   *logging.Logger
	config   Config
	now      func() time.Time
}

// New creates a Coordinator.
func New(deps Deps, config Config) (*Coordinator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("lifecycle: registry is required")
	case deps.Chunks == nil:
		return nil, errors.New("lifecycle: chunk store is required")
	case deps.Files == nil:
		return nil, errors.New("lifecycle: file catalog is required")
	case deps.Blobs == nil:
		return nil, errors.New("lifecycle: blob store is required")
	case deps.Chunker == nil:
		return nil, errors.New("lifecycle: chunker is required")
	}
	if deps.Journal == nil {
		deps.Journal = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if config.PresignTTL <= 0 {
		config.PresignTTL = DefaultPresignTTL
	}
	return &Coordinator{
		registry: deps.Registry,
		chunks:   deps.Chunks,
		files:    deps.Files,
		blobs:    deps.Blobs,
		chunker:  deps.Chunker,
		journal:  deps.Journal,
		logger:   deps.Logger.Named("lifecycle"),
		config:   config,
		now:      time.Now,
	}, nil
}

func checkOwner(op, owner string) error {
	if err := tenant.ValidatePrincipal(owner); err != nil {
		return apperr.Validation(op, "invalid principal")
	}
	return nil
}

// lookup resolves a collection by id and runs it through the ownership
// guard. A collection the registry returns for another owner is NotFound.
func (c *Coordinator) lookup(ctx context.Context, owner, id string) (*registry.Collection, error) {
	coll, err := c.registry.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return c.guard(ctx, owner, coll)
}

func (c *Coordinator) guard(ctx context.Context, owner string, coll *registry.Collection) (*registry.Collection, error) {
	if !tenant.CanAccess(owner, coll.Metadata) {
		c.logger.Warn(ctx, "registry returned a collection outside the principal's scope",
			zap.String("collection_id", coll.ID),
		)
		return nil, apperr.NotFound("lifecycle.guard", "collection not found")
	}
	return coll, nil
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	CollectionID string `json:"collection_id"`
	FileCount    int64  `json:"file_count"`
	ChunkCount   int64  `json:"chunk_count"`
}

// UserStats summarizes everything an owner has uploaded.
type UserStats struct {
	UserID          string  `json:"user_id"`
	TotalFileSize   int64   `json:"total_file_size"`
	TotalFileSizeMB float64 `json:"total_file_size_mb"`
}

// File is an open download.
type File struct {
	io.ReadCloser
	Record *filecatalog.FileRecord
	Info   blobstore.ObjectInfo
}

// Download is either a presigned URL or an open stream for one file.
type Download struct {
	Record    *filecatalog.FileRecord
	URL       string
	ExpiresIn time.Duration
	Content   *File
}
