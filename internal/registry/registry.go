// Package registry is the catalog of logical collections.
//
// Each row maps a collection id to its display name, its physical chunk
// table and its metadata. The owner lives in a dedicated column and every
// query that reads or mutates a row filters on it in the same statement.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/database"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

var tracer = otel.Tracer("collectiond.registry")

// TablePrefix starts every generated chunk table identifier.
const TablePrefix = "collection_"

const maxNameLen = 255

// Collection is the external view of a registry row.
type Collection struct {
	ID   string `json:"uuid"`
	Name string `json:"name"`
	// TableID is the physical chunk table. Write-once, never accepted from callers.
	TableID string `json:"-"`
	// Metadata is the merged view: tenant keys plus owner_id.
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OwnerID returns the owner recorded in the merged metadata.
func (c *Collection) OwnerID() string {
	owner, _ := c.Metadata[tenant.KeyOwnerID].(string)
	return owner
}

// Provisioner creates the backing chunk table for a new collection.
type Provisioner interface {
	CreateTable(ctx context.Context, tableID string) error
}

// Config holds registry policy.
type Config struct {
	// UniqueNames rejects duplicate names per owner with a conflict.
	// The check is read-then-write and racy under concurrent creates.
	UniqueNames bool
}

// Update describes a partial update. A nil Metadata means "not given";
// a non-nil empty map replaces the tenant metadata with nothing.
type Update struct {
	Name     *string
	Metadata map[string]any
}

// Registry is the collection catalog.
type Registry struct {
	db          *sql.DB
	provisioner Provisioner
	config      Config
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a Registry over an already-migrated database.
func New(db *sql.DB, provisioner Provisioner, config Config, logger *zap.Logger) (*Registry, error) {
	if db == nil {
		return nil, errors.New("registry: db is required")
	}
	if provisioner == nil {
		return nil, errors.New("registry: provisioner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:          db,
		provisioner: provisioner,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// NewTableID returns a fresh system-generated chunk table identifier.
func NewTableID(id uuid.UUID) string {
	return TablePrefix + strings.ReplaceAll(id.String(), "-", "")
}

// Create allocates an id and table, provisions the table, then writes the
// row. If the row write fails after provisioning the table is left behind
// and the error is Internal.
func (r *Registry) Create(ctx context.Context, owner, name string, metadata map[string]any) (*Collection, error) {
	const op = "registry.create"
	ctx, span := tracer.Start(ctx, "Registry.Create")
	defer span.End()

	if err := tenant.ValidatePrincipal(owner); err != nil {
		return nil, apperr.Validation(op, "invalid owner")
	}
	name, err := normalizeName(op, name)
	if err != nil {
		return nil, err
	}
	tenantMeta := tenant.TenantMetadata(metadata)
	metaJSON, err := json.Marshal(tenantMeta)
	if err != nil {
		return nil, apperr.Validation(op, "metadata must be a JSON object")
	}

	if r.config.UniqueNames {
		if err := r.checkNameFree(ctx, op, owner, name, ""); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	tableID := NewTableID(id)
	now := r.now().UTC()

	span.SetAttributes(
		attribute.String("collection_id", id.String()),
		attribute.String("table_id", tableID),
	)

	if err := r.provisioner.CreateTable(ctx, tableID); err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, fmt.Errorf("provisioning chunk table: %w", err))
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO collections (uuid, name, table_id, owner_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), name, tableID, owner, string(metaJSON),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		recordError(span, err)
		r.logger.Error("registry write failed after table provisioning, table orphaned",
			zap.String("collection_id", id.String()),
			zap.String("table_id", tableID),
			zap.Error(err),
		)
		return nil, apperr.Internal(op, fmt.Errorf("writing registry row: %w", err))
	}

	span.SetStatus(codes.Ok, "created")
	r.logger.Info("collection created",
		zap.String("collection_id", id.String()),
		zap.String("owner_id", owner),
	)

	return &Collection{
		ID:        id.String(),
		Name:      name,
		TableID:   tableID,
		Metadata:  tenant.Merge(tenant.SystemMetadata{OwnerID: owner, CreatedAt: now}, tenantMeta),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const selectColumns = `uuid, name, table_id, owner_id, metadata, created_at, updated_at`

// List returns every collection owned by owner, ordered by name.
func (r *Registry) List(ctx context.Context, owner string) ([]*Collection, error) {
	const op = "registry.list"
	ctx, span := tracer.Start(ctx, "Registry.List")
	defer span.End()

	if owner == "" {
		return []*Collection{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM collections WHERE owner_id = ? ORDER BY name, uuid`, owner)
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	defer rows.Close()

	out := []*Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			recordError(span, err)
			return nil, apperr.Internal(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// Get looks a collection up by id and owner in one query.
func (r *Registry) Get(ctx context.Context, owner, id string) (*Collection, error) {
	const op = "registry.get"
	ctx, span := tracer.Start(ctx, "Registry.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", id))

	if owner == "" || id == "" {
		return nil, apperr.NotFound(op, "collection not found")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM collections WHERE uuid = ? AND owner_id = ?`, id, owner)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "collection not found")
	}
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	return c, nil
}

// GetByName returns the first collection with the given name for owner.
func (r *Registry) GetByName(ctx context.Context, owner, name string) (*Collection, error) {
	const op = "registry.get_by_name"
	ctx, span := tracer.Start(ctx, "Registry.GetByName")
	defer span.End()

	if owner == "" || name == "" {
		return nil, apperr.NotFound(op, "collection not found")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM collections WHERE owner_id = ? AND name = ? ORDER BY uuid LIMIT 1`,
		owner, name)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "collection not found")
	}
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}
	return c, nil
}

// Update applies a partial update scoped by id and owner in one statement.
//
//   - neither field: validation error
//   - metadata only: tenant metadata replaced, name kept
//   - name and metadata: both replaced
//   - name only: name replaced, metadata kept
func (r *Registry) Update(ctx context.Context, owner, id string, upd Update) (*Collection, error) {
	const op = "registry.update"
	ctx, span := tracer.Start(ctx, "Registry.Update")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", id))

	if upd.Name == nil && upd.Metadata == nil {
		return nil, apperr.Validation(op, "must update at least one attribute")
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if upd.Name != nil {
		name, err := normalizeName(op, *upd.Name)
		if err != nil {
			return nil, err
		}
		if r.config.UniqueNames {
			if err := r.checkNameFree(ctx, op, owner, name, id); err != nil {
				return nil, err
			}
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if upd.Metadata != nil {
		metaJSON, err := json.Marshal(tenant.TenantMetadata(upd.Metadata))
		if err != nil {
			return nil, apperr.Validation(op, "metadata must be a JSON object")
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metaJSON))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, database.FormatTime(r.now()), id, owner)

	row := r.db.QueryRowContext(ctx,
		`UPDATE collections SET `+strings.Join(sets, ", ")+
			` WHERE uuid = ? AND owner_id = ? RETURNING `+selectColumns,
		args...)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "collection not found")
	}
	if err != nil {
		recordError(span, err)
		return nil, apperr.Internal(op, err)
	}

	r.logger.Info("collection updated",
		zap.String("collection_id", id),
		zap.Bool("name_changed", upd.Name != nil),
		zap.Bool("metadata_changed", upd.Metadata != nil),
	)
	return c, nil
}

// Delete removes the row scoped by owner and returns rows affected.
// Zero is not an error.
func (r *Registry) Delete(ctx context.Context, owner, id string) (int64, error) {
	const op = "registry.delete"
	ctx, span := tracer.Start(ctx, "Registry.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", id))

	if owner == "" || id == "" {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE uuid = ? AND owner_id = ?`, id, owner)
	if err != nil {
		recordError(span, err)
		return 0, apperr.Internal(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		recordError(span, err)
		return 0, apperr.Internal(op, err)
	}

	span.SetAttributes(attribute.Int64("rows_affected", n))
	return n, nil
}

func (r *Registry) checkNameFree(ctx context.Context, op, owner, name, exceptID string) error {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM collections WHERE owner_id = ? AND name = ? AND uuid != ? LIMIT 1`,
		owner, name, exceptID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return apperr.Internal(op, err)
	default:
		return apperr.Conflict(op, fmt.Sprintf("collection named %q already exists", name))
	}
}

func normalizeName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation(op, "name cannot be empty")
	}
	if len(name) > maxNameLen {
		return "", apperr.Validation(op, fmt.Sprintf("name exceeds %d characters", maxNameLen))
	}
	return name, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(s scanner) (*Collection, error) {
	var c Collection
	var owner, metaJSON, created, upd string
	if err := s.Scan(&c.ID, &c.Name, &c.TableID, &owner, &metaJSON, &created, &upd); err != nil {
		return nil, err
	}

	tenantMeta := map[string]any{}
	if err := json.Unmarshal([]byte(metaJSON), &tenantMeta); err != nil {
		return nil, fmt.Errorf("decoding metadata for collection %s: %w", c.ID, err)
	}

	var err error
	if c.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = database.ParseTime(upd); err != nil {
		return nil, err
	}

	c.Metadata = tenant.Merge(tenant.SystemMetadata{OwnerID: owner, CreatedAt: c.CreatedAt}, tenantMeta)
	return &c, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
