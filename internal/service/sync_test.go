package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/syncstates"
)

// newSyncService wires the service against a real repository with a
// controllable clock and deterministic (zero) jitter.
func newSyncService(t *testing.T) (*syncService, *int64) {
	t.Helper()
	now := models.NowMillis()
	svc := &syncService{
		repo:   syncstates.NewSQLiteRepository(setupDB(t)),
		now:    func() int64 { return now },
		jitter: func(int64) int64 { return 0 },
	}
	return svc, &now
}

func TestQueueCoalescesPendingOperations(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	st1, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpCreate)
	require.NoError(t, err)

	// A second change to the same entity updates the queued operation
	// instead of adding a row.
	st2, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.Equal(t, st1.ID, st2.ID)
	require.Equal(t, models.OpUpdate, st2.Operation)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A different entity type for the same id is a separate operation.
	st3, err := svc.Queue(ctx, models.EntitySubscription, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.NotEqual(t, st1.ID, st3.ID)
}

func TestQueueAfterCompletionStartsFresh(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpCreate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkInProgress(ctx, st.ID))
	require.NoError(t, svc.MarkCompleted(ctx, st.ID, 2))

	// Completion records which remote version the operation settled on.
	done, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, int64(models.DocumentVersion), done.LocalVersion)
	require.Equal(t, int64(2), done.RemoteVersion)

	st2, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpDelete)
	require.NoError(t, err)
	require.NotEqual(t, st.ID, st2.ID)
}

func TestMarkFailedSchedulesExponentialBackoff(t *testing.T) {
	svc, now := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)

	wantDelays := []int64{
		time.Minute.Milliseconds(),
		(2 * time.Minute).Milliseconds(),
		(4 * time.Minute).Milliseconds(),
		(5 * time.Minute).Milliseconds(), // capped
	}
	for _, want := range wantDelays {
		require.NoError(t, svc.MarkFailed(ctx, st.ID, errors.New("remote unavailable")))
		got, err := svc.Get(ctx, st.ID)
		require.NoError(t, err)
		require.Equal(t, models.SyncOpFailed, got.Status)
		require.Equal(t, *now+want, got.NextRetryAt)
		require.Equal(t, "remote unavailable", got.ErrorMessage)
	}

	// Fifth failure exhausts the budget: no further retry is scheduled.
	require.NoError(t, svc.MarkFailed(ctx, st.ID, errors.New("still down")))
	got, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.RetryCount)
	require.Zero(t, got.NextRetryAt)
}

func TestBackoffJitterBounded(t *testing.T) {
	svc, _ := newSyncService(t)
	svc.jitter = func(max int64) int64 { return max }

	base := time.Minute.Milliseconds()
	require.Equal(t, base+base/10, svc.backoffDelay(1))
}

func TestRetryableHonorsBackoffClock(t *testing.T) {
	svc, now := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailed(ctx, st.ID, errors.New("boom")))

	due, err := svc.Retryable(ctx)
	require.NoError(t, err)
	require.Empty(t, due)

	// Advance past the scheduled retry time.
	*now += time.Minute.Milliseconds() + 1
	due, err = svc.Retryable(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, st.ID, due[0].ID)
}

func TestResetFailed(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)

	// Only failed or conflicted operations can be reset.
	err = svc.ResetFailed(ctx, st.ID)
	require.ErrorIs(t, err, common.ErrConflict)

	for i := 0; i < maxRetries; i++ {
		require.NoError(t, svc.MarkFailed(ctx, st.ID, errors.New("down")))
	}
	require.NoError(t, svc.ResetFailed(ctx, st.ID))

	got, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncOpPending, got.Status)
	require.Zero(t, got.RetryCount)
	require.Empty(t, got.ErrorMessage)
}

func TestMarkConflictStoresConflictData(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkConflict(ctx, st.ID, []byte(`{"remote":"copy"}`), 3))

	got, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncOpConflict, got.Status)
	require.JSONEq(t, `{"remote":"copy"}`, string(got.ConflictData))
	require.Equal(t, int64(3), got.RemoteVersion)
}

func TestRequeueStaleInProgress(t *testing.T) {
	svc, now := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkInProgress(ctx, st.ID))

	// Nothing is stale yet.
	n, err := svc.RequeueStale(ctx, *now-1)
	require.NoError(t, err)
	require.Zero(t, n)

	*now += (10 * time.Minute).Milliseconds()
	n, err = svc.RequeueStale(ctx, *now-time.Minute.Milliseconds())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncOpPending, got.Status)
}

func TestPurgeCompletedHonorsRetention(t *testing.T) {
	svc, now := newSyncService(t)
	ctx := context.Background()

	st, err := svc.Queue(ctx, models.EntityTags, "tag-1", models.OpUpdate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkCompleted(ctx, st.ID, 0))

	purged, err := svc.PurgeCompleted(ctx)
	require.NoError(t, err)
	require.Zero(t, purged)

	*now += (25 * time.Hour).Milliseconds()
	purged, err = svc.PurgeCompleted(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	_, err = svc.Get(ctx, st.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestStats(t *testing.T) {
	svc, _ := newSyncService(t)
	ctx := context.Background()

	a, err := svc.Queue(ctx, models.EntityTags, "tag-a", models.OpCreate)
	require.NoError(t, err)
	_, err = svc.Queue(ctx, models.EntityTags, "tag-b", models.OpCreate)
	require.NoError(t, err)
	require.NoError(t, svc.MarkInProgress(ctx, a.ID))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[models.SyncOpPending])
	require.Equal(t, int64(1), stats[models.SyncOpInProgress])
}
