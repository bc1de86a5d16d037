package tags

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
	db, err := storage.Open(context.Background(), "file:tags_repo?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`DELETE FROM tags`)
	require.NoError(t, err)
	return db
}

func newTag(owner, username string) *models.Tag {
	now := models.NowMillis()
	return &models.Tag{
		ID:         uuid.NewString(),
		Username:   username,
		Label:      "interesting",
		Color:      "#ff8800",
		Owner:      owner,
		SyncStatus: models.SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateAndQueries(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newTag("u1", "target1")
	b := newTag("u1", "target2")
	c := newTag("u2", "target1")
	for _, tag := range []*models.Tag{a, b, c} {
		require.NoError(t, repo.Create(ctx, tag))
	}

	byOwner, err := repo.GetByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, byOwner, 2)

	byUsername, err := repo.GetByUsername(ctx, "target1")
	require.NoError(t, err)
	require.Len(t, byUsername, 2)

	pending, err := repo.GetByStatus(ctx, models.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestSetStatus_StampsLastSyncedAt(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	tag := newTag("u1", "target")
	require.NoError(t, repo.Create(ctx, tag))

	syncedAt := models.NowMillis()
	require.NoError(t, repo.SetStatus(ctx, tag.ID, models.SyncStatusSynced, syncedAt))

	got, err := repo.GetByID(ctx, tag.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	require.Equal(t, syncedAt, got.LastSyncedAt)
	require.GreaterOrEqual(t, got.UpdatedAt, tag.UpdatedAt)
}

func TestSetStatus_NotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)

	err := repo.SetStatus(context.Background(), "missing", models.SyncStatusSynced, 0)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSave_UpsertsRemoteTag(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	remote := newTag("peer", "target")
	remote.SyncStatus = models.SyncStatusSynced
	remote.UpdatedAt = remote.UpdatedAt + 5000

	// First Save inserts, second overwrites.
	require.NoError(t, repo.Save(ctx, remote))
	remote.Label = "renamed"
	require.NoError(t, repo.Save(ctx, remote))

	got, err := repo.GetByID(ctx, remote.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Label)
	require.Equal(t, remote.UpdatedAt, got.UpdatedAt)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	tag := newTag("u1", "target")
	require.NoError(t, repo.Create(ctx, tag))
	require.NoError(t, repo.Delete(ctx, tag.ID))
	_, err := repo.GetByID(ctx, tag.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}
