// Package cache holds the repositories behind the cache service: TTL-bounded
// document entries (manifests, collections, identities, discovery records)
// and raw content blocks under explicit size control.
package cache

import (
	"context"

	"github.com/tagmesh/tagmesh/internal/models"
)

// EntryRepository stores CacheEntry rows for the five document caches.
// Entries are append-only per (kind, subject); reads pick the newest valid
// one and the sweeper removes the expired rest.
type EntryRepository interface {
	// Create inserts a fresh cache entry.
	Create(ctx context.Context, e *models.CacheEntry) error

	// GetLatestValid returns the newest valid, unexpired entry for the
	// given kind and subject, or common.ErrNotFound.
	GetLatestValid(ctx context.Context, kind models.CacheKind, subjectID string, nowMillis int64) (*models.CacheEntry, error)

	// GetByContentID returns the newest valid, unexpired entry holding
	// the given content id.
	GetByContentID(ctx context.Context, kind models.CacheKind, contentID string, nowMillis int64) (*models.CacheEntry, error)

	// Invalidate clears is_valid for all entries of the kind/subject,
	// forcing the next read to miss.
	Invalidate(ctx context.Context, kind models.CacheKind, subjectID string) error

	// DeleteExpired removes entries whose expires_at has passed. Returns
	// the number removed.
	DeleteExpired(ctx context.Context, nowMillis int64) (int64, error)

	// Count returns the number of cache entry rows.
	Count(ctx context.Context) (int64, error)
}

// BlockRepository stores raw content-addressed blocks, keyed by content id.
type BlockRepository interface {
	// Upsert inserts a block or refreshes an existing one.
	Upsert(ctx context.Context, b *models.ContentBlock) error

	// Get returns a block by content id, or common.ErrNotFound.
	Get(ctx context.Context, contentID string) (*models.ContentBlock, error)

	// Touch advances last_accessed_at for a block.
	Touch(ctx context.Context, contentID string, accessedAt int64) error

	// SetPinned toggles eviction exemption for a block.
	SetPinned(ctx context.Context, contentID string, pinned bool) error

	// UnpinnedByAccessTime lists unpinned blocks in ascending
	// last_accessed_at order (LRU first).
	UnpinnedByAccessTime(ctx context.Context) ([]models.ContentBlock, error)

	// UnpinnedTotalSize returns the summed size of unpinned blocks.
	UnpinnedTotalSize(ctx context.Context) (int64, error)

	// DeleteExpiredUnpinned removes unpinned blocks whose expires_at has
	// passed. Pinned blocks are never touched. Returns the number removed.
	DeleteExpiredUnpinned(ctx context.Context, nowMillis int64) (int64, error)

	// Delete removes a block by content id.
	Delete(ctx context.Context, contentID string) error

	// Count returns the number of block rows.
	Count(ctx context.Context) (int64, error)
}
