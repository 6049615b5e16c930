package registry

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/database"
)

type fakeProvisioner struct {
	mu     sync.Mutex
	tables []string
	err    error
}

func (f *fakeProvisioner) CreateTable(_ context.Context, tableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, tableID)
	return nil
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *fakeProvisioner) {
	t.Helper()
	prov := &fakeProvisioner{}
	r, err := New(database.OpenTest(t), prov, cfg, nil)
	require.NoError(t, err)
	return r, prov
}

func strPtr(s string) *string { return &s }

func TestCreate_RoundTrip(t *testing.T) {
	r, prov := newTestRegistry(t, Config{})
	ctx := context.Background()

	created, err := r.Create(ctx, "user1", "n", map[string]any{"a": 1})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^collection_[0-9a-f]{32}$`), created.TableID)
	assert.Equal(t, []string{created.TableID}, prov.tables)

	got, err := r.Get(ctx, "user1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "n", got.Name)
	assert.Equal(t, created.TableID, got.TableID)
	// JSON numbers decode as float64.
	assert.Equal(t, map[string]any{"a": float64(1), "owner_id": "user1"}, got.Metadata)
	assert.Equal(t, "user1", got.OwnerID())
}

func TestCreate_EmptyMetadataHasOnlyOwner(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})

	c, err := r.Create(context.Background(), "user1", "docs", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"owner_id": "user1"}, c.Metadata)

	got, err := r.Get(context.Background(), "user1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"owner_id": "user1"}, got.Metadata)
}

func TestCreate_TenantOwnerIsOverwritten(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	c, err := r.Create(ctx, "user1", "docs", map[string]any{"owner_id": "user2"})
	require.NoError(t, err)
	assert.Equal(t, "user1", c.Metadata["owner_id"])

	_, err = r.Get(ctx, "user2", c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreate_ProvisioningFailure(t *testing.T) {
	r, prov := newTestRegistry(t, Config{})
	prov.err = errors.New("engine down")

	_, err := r.Create(context.Background(), "user1", "docs", nil)
	assert.ErrorIs(t, err, apperr.ErrInternal)

	list, err := r.List(context.Background(), "user1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_Validation(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	_, err := r.Create(ctx, "user1", "   ", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.Create(ctx, "", "docs", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.Create(ctx, "user1", "docs", map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreate_DuplicateNamesAllowedByDefault(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	a, err := r.Create(ctx, "user1", "docs", nil)
	require.NoError(t, err)
	b, err := r.Create(ctx, "user1", "docs", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.TableID, b.TableID)
}

func TestCreate_UniqueNamesPolicy(t *testing.T) {
	r, _ := newTestRegistry(t, Config{UniqueNames: true})
	ctx := context.Background()

	first, err := r.Create(ctx, "user1", "docs", nil)
	require.NoError(t, err)

	_, err = r.Create(ctx, "user1", "docs", nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = r.Create(ctx, "user2", "docs", nil)
	assert.NoError(t, err, "uniqueness is per owner")

	other, err := r.Create(ctx, "user1", "notes", nil)
	require.NoError(t, err)
	_, err = r.Update(ctx, "user1", other.ID, Update{Name: strPtr("docs")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = r.Update(ctx, "user1", first.ID, Update{Name: strPtr("docs")})
	assert.NoError(t, err, "renaming to its own name is not a conflict")
}

func TestList_OrderedByNameAndIsolated(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Create(ctx, "user1", name, nil)
		require.NoError(t, err)
	}
	_, err := r.Create(ctx, "user2", "beta", nil)
	require.NoError(t, err)

	list, err := r.List(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)

	other, err := r.List(ctx, "user2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "beta", other[0].Name)

	none, err := r.List(ctx, "user3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOwnershipIsolation(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	c, err := r.Create(ctx, "userA", "private", map[string]any{"k": "v"})
	require.NoError(t, err)

	_, err = r.Get(ctx, "userB", c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.GetByName(ctx, "userB", "private")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.Update(ctx, "userB", c.ID, Update{Name: strPtr("stolen")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := r.Delete(ctx, "userB", c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := r.List(ctx, "userB")
	require.NoError(t, err)
	assert.Empty(t, list)

	still, err := r.Get(ctx, "userA", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", still.Name)
}

func TestUpdate_CaseMatrix(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		update   Update
		wantErr  error
		wantName string
		wantMeta map[string]any
	}{
		{
			name:    "neither field",
			update:  Update{},
			wantErr: apperr.ErrValidation,
		},
		{
			name:     "metadata only keeps name",
			update:   Update{Metadata: map[string]any{"b": "2"}},
			wantName: "orig",
			wantMeta: map[string]any{"b": "2", "owner_id": "user1"},
		},
		{
			name:     "name and metadata",
			update:   Update{Name: strPtr("renamed"), Metadata: map[string]any{"c": "3"}},
			wantName: "renamed",
			wantMeta: map[string]any{"c": "3", "owner_id": "user1"},
		},
		{
			name:     "name only keeps metadata",
			update:   Update{Name: strPtr("renamed")},
			wantName: "renamed",
			wantMeta: map[string]any{"a": "1", "owner_id": "user1"},
		},
		{
			name:     "metadata cannot change owner",
			update:   Update{Metadata: map[string]any{"owner_id": "user2"}},
			wantName: "orig",
			wantMeta: map[string]any{"owner_id": "user1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(t, Config{})
			c, err := r.Create(ctx, "user1", "orig", map[string]any{"a": "1"})
			require.NoError(t, err)

			updated, err := r.Update(ctx, "user1", c.ID, tt.update)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, updated.Name)
			assert.Equal(t, tt.wantMeta, updated.Metadata)
			assert.Equal(t, c.TableID, updated.TableID)

			got, err := r.Get(ctx, "user1", c.ID)
			require.NoError(t, err)
			assert.Equal(t, updated.Name, got.Name)
			assert.Equal(t, updated.Metadata, got.Metadata)
		})
	}
}

func TestUpdate_MissingCollection(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})

	_, err := r.Update(context.Background(), "user1", "does-not-exist", Update{Name: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	c, err := r.Create(ctx, "user1", "docs", nil)
	require.NoError(t, err)

	n, err := r.Delete(ctx, "user1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.Delete(ctx, "user1", c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.Get(ctx, "user1", c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetByName(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	c, err := r.Create(ctx, "user1", "docs", nil)
	require.NoError(t, err)

	got, err := r.GetByName(ctx, "user1", "docs")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestConcurrentCreatesSameName(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 4)
	errs := make([]error, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Create(ctx, "user1", "same", nil)
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range ids {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]])
		seen[ids[i]] = true
	}
}
