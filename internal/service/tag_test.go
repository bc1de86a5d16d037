package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/tags"
)

func newTagService(t *testing.T) TagService {
	t.Helper()
	return NewTagService(tags.NewSQLiteRepository(setupDB(t)))
}

func strptr(s string) *string { return &s }

func TestCreateTagDefaultsPending(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	tag, err := svc.Create(ctx, "@SomeUser", "  interesting  ", "#ff0000", "writes about go", "owner-1")
	require.NoError(t, err)
	require.Equal(t, "someuser", tag.Username)
	require.Equal(t, "interesting", tag.Label)
	require.Equal(t, models.SyncStatusPending, tag.SyncStatus)
	require.NotZero(t, tag.CreatedAt)

	_, err = svc.Create(ctx, "bad handle", "label", "", "", "owner-1")
	require.ErrorIs(t, err, common.ErrInvalidHandle)

	_, err = svc.Create(ctx, "gooduser", "   ", "", "", "owner-1")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateTagContentEditResetsSyncStatus(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	tag, err := svc.Create(ctx, "alice", "friend", "", "", "owner-1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkSynced(ctx, tag.ID, models.NowMillis()))

	got, err := svc.Get(ctx, tag.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	// Editing the label is a content change and re-queues the tag.
	upd, err := svc.Update(ctx, tag.ID, &models.TagUpdate{Label: strptr("best friend")})
	require.NoError(t, err)
	require.Equal(t, "best friend", upd.Label)
	require.Equal(t, models.SyncStatusPending, upd.SyncStatus)
}

func TestUpdateTagStatusOnlyEditKeepsStatus(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	tag, err := svc.Create(ctx, "alice", "friend", "", "", "owner-1")
	require.NoError(t, err)

	synced := models.SyncStatusSynced
	upd, err := svc.Update(ctx, tag.ID, &models.TagUpdate{SyncStatus: &synced})
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSynced, upd.SyncStatus)
}

func TestUpdateTagValidation(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	tag, err := svc.Create(ctx, "alice", "friend", "", "", "owner-1")
	require.NoError(t, err)

	_, err = svc.Update(ctx, tag.ID, &models.TagUpdate{Username: strptr("")})
	require.ErrorIs(t, err, common.ErrInvalidHandle)
	_, err = svc.Update(ctx, tag.ID, &models.TagUpdate{Label: strptr(" ")})
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = svc.Update(ctx, "missing", &models.TagUpdate{})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSearchTags(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "gopher_fan", "golang expert", "", "writes compilers", "o")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "rustacean", "rust person", "", "", "o")
	require.NoError(t, err)

	byLabel, err := svc.Search(ctx, "GOLANG")
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	require.Equal(t, "gopher_fan", byLabel[0].Username)

	byDesc, err := svc.Search(ctx, "compilers")
	require.NoError(t, err)
	require.Len(t, byDesc, 1)

	all, err := svc.Search(ctx, "  ")
	require.NoError(t, err)
	require.Len(t, all, 2)

	none, err := svc.Search(ctx, "python")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestApplyRemoteLastWriterWins(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	local, err := svc.Create(ctx, "alice", "local label", "", "", "owner-1")
	require.NoError(t, err)

	// Older remote copy is ignored.
	stale := *local
	stale.Label = "stale remote"
	stale.UpdatedAt = local.UpdatedAt - 1000
	applied, err := svc.ApplyRemote(ctx, &stale)
	require.NoError(t, err)
	require.False(t, applied)

	got, err := svc.Get(ctx, local.ID)
	require.NoError(t, err)
	require.Equal(t, "local label", got.Label)

	// Strictly newer remote copy replaces the local one.
	newer := *local
	newer.Label = "newer remote"
	newer.UpdatedAt = local.UpdatedAt + 1000
	applied, err = svc.ApplyRemote(ctx, &newer)
	require.NoError(t, err)
	require.True(t, applied)

	got, err = svc.Get(ctx, local.ID)
	require.NoError(t, err)
	require.Equal(t, "newer remote", got.Label)
	require.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	// Unknown remote tags are inserted.
	fresh := models.Tag{
		ID: "remote-new", Username: "bob", Label: "from afar",
		Owner: "owner-2", UpdatedAt: models.NowMillis(), CreatedAt: models.NowMillis(),
	}
	applied, err = svc.ApplyRemote(ctx, &fresh)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestPendingAndMarkConflict(t *testing.T) {
	svc := newTagService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "alice", "a", "", "", "o")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "bob", "b", "", "", "o")
	require.NoError(t, err)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, svc.MarkSynced(ctx, a.ID, models.NowMillis()))
	require.NoError(t, svc.MarkConflict(ctx, b.ID))

	pending, err = svc.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusConflict, got.SyncStatus)
}
