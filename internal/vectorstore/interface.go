package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrTableNotFound is returned when the engine-side table does not exist.
	ErrTableNotFound = errors.New("vector table not found")

	// ErrInvalidTableName is returned for names that were not system-generated.
	ErrInvalidTableName = errors.New("invalid vector table name")

	// ErrInvalidConfig is returned for invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmbeddingFailed wraps embedder failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrConnectionFailed is returned when a remote engine is unreachable.
	ErrConnectionFailed = errors.New("vector engine connection failed")
)

// tableNamePattern matches generated table ids.
var tableNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateTableName rejects anything that cannot be a generated table id.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidTableName, name)
	}
	return nil
}

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is one chunk handed to the engine.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Engine is the vector engine consumed by the chunk store.
type Engine interface {
	// CreateTable provisions a table. Creating an existing table is a no-op.
	CreateTable(ctx context.Context, table string) error

	// DropTable removes a table and everything in it.
	// Returns ErrTableNotFound if the table does not exist.
	DropTable(ctx context.Context, table string) error

	// TableExists reports whether the table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// Upsert embeds and writes documents, returning their ids in order.
	Upsert(ctx context.Context, table string, docs []Document) ([]string, error)

	// Search returns up to k documents most similar to query.
	Search(ctx context.Context, table, query string, k int) ([]SearchResult, error)

	// Delete removes documents by id. Unknown ids are ignored.
	Delete(ctx context.Context, table string, ids []string) error

	// Close releases engine resources.
	Close() error
}
