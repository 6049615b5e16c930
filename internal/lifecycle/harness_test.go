package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/blobstore"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/database"
	"github.com/fyrsmithlabs/collectiond/internal/embeddings"
	"github.com/fyrsmithlabs/collectiond/internal/filecatalog"
	"github.com/fyrsmithlabs/collectiond/internal/ingest"
	"github.com/fyrsmithlabs/collectiond/internal/logging"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
	"github.com/fyrsmithlabs/collectiond/internal/vectorstore"
)

type harness struct {
	coord    *Coordinator
	registry *registry.Registry
	chunks   *chunkstore.Store
	files    *filecatalog.Catalog
	blobs    *blobstore.MemoryStore
	logs     *logging.TestLogger
}

type option func(*Deps)

func withChunker(c Chunker) option {
	return func(d *Deps) { d.Chunker = c }
}

func withBlobs(wrap func(blobstore.Store) blobstore.Store) option {
	return func(d *Deps) { d.Blobs = wrap(d.Blobs) }
}

func withFiles(wrap func(FileCatalog) FileCatalog) option {
	return func(d *Deps) { d.Files = wrap(d.Files) }
}

// countingCatalog counts catalog reads.
type countingCatalog struct {
	FileCatalog
	gets int
}

func (c *countingCatalog) Get(ctx context.Context, owner, fileID string) (*filecatalog.FileRecord, error) {
	c.gets++
	return c.FileCatalog.Get(ctx, owner, fileID)
}

// presigningBlobs hands out fake URLs for any valid path.
type presigningBlobs struct {
	blobstore.Store
}

func (presigningBlobs) Presign(_ context.Context, p string, ttl time.Duration) (string, error) {
	return "https://blobs.example/" + p + "?expires=" + ttl.String(), nil
}

func withRegistry(wrap func(Registry) Registry) option {
	return func(d *Deps) { d.Registry = wrap(d.Registry) }
}

// unscopedRegistry ignores the caller and always looks rows up as owner,
// standing in for a registry query that lost its owner filter.
type unscopedRegistry struct {
	Registry
	owner string
}

func (u unscopedRegistry) Get(ctx context.Context, _, id string) (*registry.Collection, error) {
	return u.Registry.Get(ctx, u.owner, id)
}

func (u unscopedRegistry) GetByName(ctx context.Context, _, name string) (*registry.Collection, error) {
	return u.Registry.GetByName(ctx, u.owner, name)
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	db := database.OpenTest(t)
	embedder, err := embeddings.NewDeterministic(64)
	require.NoError(t, err)
	engine, err := vectorstore.NewChromemEngine(vectorstore.ChromemConfig{}, embedder, zap.NewNop())
	require.NoError(t, err)

	chunks, err := chunkstore.New(db, engine, zap.NewNop())
	require.NoError(t, err)
	reg, err := registry.New(db, chunks, registry.Config{}, nil)
	require.NoError(t, err)
	files, err := filecatalog.New(db, nil)
	require.NoError(t, err)
	chunker, err := ingest.New(ingest.Config{}, nil)
	require.NoError(t, err)

	h := &harness{
		registry: reg,
		chunks:   chunks,
		files:    files,
		blobs:    blobstore.NewMemoryStore("test-bucket"),
		logs:     logging.NewTestLogger(),
	}

	deps := Deps{
		Registry: reg,
		Chunks:   chunks,
		Files:    files,
		Blobs:    h.blobs,
		Chunker:  chunker,
		Logger:   h.logs.Logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.coord, err = New(deps, Config{PresignTTL: time.Minute})
	require.NoError(t, err)
	return h
}

func (h *harness) createCollection(t *testing.T, owner, name string) *registry.Collection {
	t.Helper()
	coll, err := h.coord.CreateCollection(context.Background(), owner, name, map[string]any{})
	require.NoError(t, err)
	return coll
}

func textUpload(name, body string) Upload {
	return Upload{Filename: name, ContentType: "text/plain", Data: []byte(body)}
}

// paragraphChunker yields one chunk per blank-line separated paragraph.
type paragraphChunker struct{}

func (paragraphChunker) Chunk(_ context.Context, filename, _ string, data []byte) ([]ingest.Chunk, error) {
	var out []ingest.Chunk
	for _, p := range strings.Split(string(data), "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, ingest.Chunk{
			Content:  p,
			Metadata: map[string]any{ingest.KeySource: filename, "loader": "paragraph"},
		})
	}
	return out, nil
}

func paragraphs(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix + " paragraph " + string(rune('a'+i))
	}
	return strings.Join(parts, "\n\n")
}

var errBlobDown = errors.New("blob store unavailable")

// flakyBlobs fails the operations whose flags are set.
type flakyBlobs struct {
	blobstore.Store
	failPut    bool
	failDelete bool
	// partialDelete deletes by prefix but reports one object left behind.
	partialDelete bool
}

func (f *flakyBlobs) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (blobstore.ObjectInfo, error) {
	if f.failPut {
		return blobstore.ObjectInfo{}, errBlobDown
	}
	return f.Store.Put(ctx, p, r, size, contentType)
}

func (f *flakyBlobs) Delete(ctx context.Context, p string) error {
	if f.failDelete {
		return errBlobDown
	}
	return f.Store.Delete(ctx, p)
}

func (f *flakyBlobs) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if f.failDelete {
		return 0, errBlobDown
	}
	n, err := f.Store.DeleteByPrefix(ctx, prefix)
	if err == nil && f.partialDelete {
		return n, fmt.Errorf("delete 1 of %d objects under %q failed: %w", n+1, prefix, blobstore.ErrPartialDelete)
	}
	return n, err
}
