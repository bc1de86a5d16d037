package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/subscriptions"
)

func newSubService(t *testing.T) SubscriptionService {
	t.Helper()
	return NewSubscriptionService(subscriptions.NewSQLiteRepository(setupDB(t)))
}

func TestSubscribeAndDuplicate(t *testing.T) {
	svc := newSubService(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "user-1", true)
	require.NoError(t, err)
	require.True(t, sub.IsActive)
	require.True(t, sub.SyncEnabled)

	_, err = svc.Subscribe(ctx, "user-1", true)
	require.ErrorIs(t, err, common.ErrDuplicateSubscription)

	// The syncEnabled choice is honored at creation time.
	quiet, err := svc.Subscribe(ctx, "user-2", false)
	require.NoError(t, err)
	require.False(t, quiet.SyncEnabled)
}

func TestUnsubscribeDeletesRow(t *testing.T) {
	svc := newSubService(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "user-1", true)
	require.NoError(t, err)

	require.NoError(t, svc.Unsubscribe(ctx, "user-1"))
	_, err = svc.Get(ctx, sub.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	// Resubscribing starts from a clean slate.
	again, err := svc.Subscribe(ctx, "user-1", true)
	require.NoError(t, err)
	require.NotEqual(t, sub.ID, again.ID)
	require.True(t, again.SyncEnabled)

	err = svc.Unsubscribe(ctx, "never-followed")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNeedingRefresh(t *testing.T) {
	svc := newSubService(t)
	ctx := context.Background()

	fresh, err := svc.Subscribe(ctx, "user-fresh", true)
	require.NoError(t, err)
	stale, err := svc.Subscribe(ctx, "user-stale", true)
	require.NoError(t, err)
	disabled, err := svc.Subscribe(ctx, "user-disabled", true)
	require.NoError(t, err)

	now := models.NowMillis()
	require.NoError(t, svc.TouchFetched(ctx, fresh.ID, now))
	require.NoError(t, svc.TouchFetched(ctx, stale.ID, now-3_600_000))
	require.NoError(t, svc.TouchFetched(ctx, disabled.ID, now-3_600_000))
	require.NoError(t, svc.SetSyncEnabled(ctx, disabled.ID, false))

	due, err := svc.NeedingRefresh(ctx, now-1_800_000)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "user-stale", due[0].UserID)
}
