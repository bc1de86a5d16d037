package users

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), "file:users_repo?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`DELETE FROM users`)
	require.NoError(t, err)
	return db
}

func newUser(handle string, self bool) *models.User {
	now := models.NowMillis()
	return &models.User{
		ID:        uuid.NewString(),
		DID:       "did:key:z" + uuid.NewString(),
		Handle:    handle,
		PublicKey: "zpub" + handle,
		NameKey:   "k" + handle,
		IsSelf:    self,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndLookups(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	u := newUser("alice", true)
	require.NoError(t, repo.Create(ctx, u))

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Handle, byID.Handle)

	byDID, err := repo.GetByDID(ctx, u.DID)
	require.NoError(t, err)
	require.Equal(t, u.ID, byDID.ID)

	byHandle, err := repo.GetByHandle(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, byHandle.ID)

	self, err := repo.GetSelf(ctx)
	require.NoError(t, err)
	require.Equal(t, u.ID, self.ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreate_DuplicateHandleFails(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("bob", false)))
	require.Error(t, repo.Create(ctx, newUser("bob", false)))
}

func TestSave_AdvancesUpdatedAt(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	u := newUser("carol", false)
	require.NoError(t, repo.Create(ctx, u))

	before, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	u.Verified = true
	u.ProofURL = "https://example.com/proof"
	u.UpdatedAt = models.NowMillis()
	require.NoError(t, repo.Save(ctx, u))

	after, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, after.Verified)
	require.GreaterOrEqual(t, after.UpdatedAt, before.UpdatedAt)
}

func TestClearSelf_SingleSelfInvariant(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	first := newUser("dave", true)
	require.NoError(t, repo.Create(ctx, first))

	require.NoError(t, repo.ClearSelf(ctx))

	second := newUser("erin", true)
	require.NoError(t, repo.Create(ctx, second))

	self, err := repo.GetSelf(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, self.ID)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	u := newUser("frank", false)
	require.NoError(t, repo.Create(ctx, u))
	require.NoError(t, repo.Delete(ctx, u.ID))
	require.ErrorIs(t, repo.Delete(ctx, u.ID), common.ErrNotFound)
}
