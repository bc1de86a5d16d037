package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/cache"
)

func newCacheService(t *testing.T) (*cacheService, *int64) {
	t.Helper()
	db := setupDB(t)
	now := models.NowMillis()
	svc := &cacheService{
		entries: cache.NewSQLiteEntryRepository(db),
		blocks:  cache.NewSQLiteBlockRepository(db),
		now:     func() int64 { return now },
	}
	return svc, &now
}

func TestDocumentCachePutGet(t *testing.T) {
	svc, _ := newCacheService(t)
	ctx := context.Background()

	_, err := svc.GetDocument(ctx, models.CacheManifest, "did:key:z1")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, svc.PutDocument(ctx, models.CacheManifest, "did:key:z1", "alice", "zCID1", []byte(`{"v":1}`)))
	payload, err := svc.GetDocument(ctx, models.CacheManifest, "did:key:z1")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(payload))

	// A newer put supersedes the old entry.
	require.NoError(t, svc.PutDocument(ctx, models.CacheManifest, "did:key:z1", "alice", "zCID2", []byte(`{"v":2}`)))
	payload, err = svc.GetDocument(ctx, models.CacheManifest, "did:key:z1")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(payload))
}

func TestDocumentCacheTTLByKind(t *testing.T) {
	svc, now := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.PutDocument(ctx, models.CacheManifest, "s1", "", "zC", []byte("m")))
	require.NoError(t, svc.PutDocument(ctx, models.CacheIdentity, "s1", "", "zC", []byte("i")))

	// Two hours in: the manifest entry is expired, the identity is not.
	*now += (2 * time.Hour).Milliseconds()
	_, err := svc.GetDocument(ctx, models.CacheManifest, "s1")
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.GetDocument(ctx, models.CacheIdentity, "s1")
	require.NoError(t, err)

	// A day and change: the identity entry expires too.
	*now += (23 * time.Hour).Milliseconds()
	_, err = svc.GetDocument(ctx, models.CacheIdentity, "s1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDocumentCacheInvalidate(t *testing.T) {
	svc, _ := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.PutDocument(ctx, models.CacheDiscoveryRecord, "lookup-1", "alice", "zC", []byte("d")))
	require.NoError(t, svc.Invalidate(ctx, models.CacheDiscoveryRecord, "lookup-1"))

	_, err := svc.GetDocument(ctx, models.CacheDiscoveryRecord, "lookup-1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestBlockStoreGetTouches(t *testing.T) {
	svc, now := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreBlock(ctx, "zA", []byte("aaaa"), false))
	*now += 1000
	require.NoError(t, svc.StoreBlock(ctx, "zB", []byte("bbbb"), false))

	// Reading zA makes it the most recently used.
	*now += 1000
	data, err := svc.GetBlock(ctx, "zA")
	require.NoError(t, err)
	require.Equal(t, []byte("aaaa"), data)

	lru, err := svc.blocks.UnpinnedByAccessTime(ctx)
	require.NoError(t, err)
	require.Equal(t, "zB", lru[0].ContentID)

	_, err = svc.GetBlock(ctx, "zMissing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestPruneEvictsLRUUnpinnedOnly(t *testing.T) {
	svc, now := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreBlock(ctx, "zOld", make([]byte, 100), false))
	*now += 1000
	require.NoError(t, svc.StoreBlock(ctx, "zMid", make([]byte, 100), false))
	*now += 1000
	require.NoError(t, svc.StoreBlock(ctx, "zNew", make([]byte, 100), false))
	require.NoError(t, svc.StoreBlock(ctx, "zPinned", make([]byte, 1000), true))

	// Target leaves room for two unpinned blocks; the oldest goes.
	reclaimed, err := svc.Prune(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, int64(100), reclaimed)

	_, err = svc.GetBlock(ctx, "zOld")
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.GetBlock(ctx, "zMid")
	require.NoError(t, err)
	_, err = svc.GetBlock(ctx, "zPinned")
	require.NoError(t, err)

	// Under target: nothing to do.
	reclaimed, err = svc.Prune(ctx, 10_000)
	require.NoError(t, err)
	require.Zero(t, reclaimed)
}

func TestSweepExpired(t *testing.T) {
	svc, now := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.PutDocument(ctx, models.CacheManifest, "s1", "", "zC", []byte("m")))
	require.NoError(t, svc.StoreBlock(ctx, "zEphemeral", []byte("data"), false))
	require.NoError(t, svc.StoreBlock(ctx, "zPinned", []byte("keep"), true))

	*now += (25 * time.Hour).Milliseconds()
	entries, blocks, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), entries)
	require.Equal(t, int64(1), blocks)

	// Pinned blocks survive any sweep.
	_, err = svc.GetBlock(ctx, "zPinned")
	require.NoError(t, err)
}

func TestPinExemptsFromExpiry(t *testing.T) {
	svc, now := newCacheService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreBlock(ctx, "zA", []byte("data"), false))
	require.NoError(t, svc.Pin(ctx, "zA"))

	*now += (25 * time.Hour).Milliseconds()
	_, blocks, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, blocks)
}
