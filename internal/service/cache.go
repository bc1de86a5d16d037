package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/metrics"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/cache"
)

// Cache lifetimes. Identity documents change rarely and get a day; every
// other document kind gets an hour. Unpinned blocks expire after a day of
// no re-store.
const (
	documentTTL = time.Hour
	identityTTL = 24 * time.Hour
	blockTTL    = 24 * time.Hour
)

type CacheService interface {
	// PutDocument caches a fetched document under its kind and subject,
	// superseding previous entries for the pair.
	PutDocument(ctx context.Context, kind models.CacheKind, subjectID, handle, contentID string, payload []byte) error
	// GetDocument returns the cached payload or common.ErrNotFound when
	// the cache has no valid, unexpired entry.
	GetDocument(ctx context.Context, kind models.CacheKind, subjectID string) ([]byte, error)
	Invalidate(ctx context.Context, kind models.CacheKind, subjectID string) error

	// StoreBlock keeps a copy of a content block locally. Pinned blocks
	// are exempt from eviction and expiry.
	StoreBlock(ctx context.Context, contentID string, data []byte, pinned bool) error
	// GetBlock returns a cached block and refreshes its access time.
	GetBlock(ctx context.Context, contentID string) ([]byte, error)
	Pin(ctx context.Context, contentID string) error
	Unpin(ctx context.Context, contentID string) error

	// Prune evicts least-recently-used unpinned blocks until their total
	// size is at most targetSize bytes. Returns bytes reclaimed.
	Prune(ctx context.Context, targetSize int64) (int64, error)
	// SweepExpired drops expired cache entries and expired unpinned
	// blocks. Returns counts of removed entries and blocks.
	SweepExpired(ctx context.Context) (int64, int64, error)
}

type cacheService struct {
	entries cache.EntryRepository
	blocks  cache.BlockRepository
	metrics *metrics.Collector
	now     func() int64
}

func NewCacheService(entries cache.EntryRepository, blocks cache.BlockRepository, mc *metrics.Collector) CacheService {
	return &cacheService{entries: entries, blocks: blocks, metrics: mc, now: models.NowMillis}
}

func ttlFor(kind models.CacheKind) time.Duration {
	if kind == models.CacheIdentity {
		return identityTTL
	}
	return documentTTL
}

func (s *cacheService) PutDocument(ctx context.Context, kind models.CacheKind, subjectID, handle, contentID string, payload []byte) error {
	if err := s.entries.Invalidate(ctx, kind, subjectID); err != nil {
		return err
	}
	now := s.now()
	e := &models.CacheEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		SubjectID: subjectID,
		Handle:    handle,
		ContentID: contentID,
		Payload:   payload,
		IsValid:   true,
		ExpiresAt: now + ttlFor(kind).Milliseconds(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.entries.Create(ctx, e)
}

func (s *cacheService) GetDocument(ctx context.Context, kind models.CacheKind, subjectID string) ([]byte, error) {
	e, err := s.entries.GetLatestValid(ctx, kind, subjectID, s.now())
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.metrics.RecordCacheMiss(string(kind))
		}
		return nil, err
	}
	s.metrics.RecordCacheHit(string(kind))
	return e.Payload, nil
}

func (s *cacheService) Invalidate(ctx context.Context, kind models.CacheKind, subjectID string) error {
	return s.entries.Invalidate(ctx, kind, subjectID)
}

func (s *cacheService) StoreBlock(ctx context.Context, contentID string, data []byte, pinned bool) error {
	now := s.now()
	b := &models.ContentBlock{
		ContentID:      contentID,
		Data:           data,
		Size:           int64(len(data)),
		Pinned:         pinned,
		LastAccessedAt: now,
		CreatedAt:      now,
	}
	if !pinned {
		b.ExpiresAt = now + blockTTL.Milliseconds()
	}
	if err := s.blocks.Upsert(ctx, b); err != nil {
		return err
	}
	if n, err := s.blocks.Count(ctx); err == nil {
		s.metrics.SetCachedBlocks(n)
	}
	return nil
}

func (s *cacheService) GetBlock(ctx context.Context, contentID string) ([]byte, error) {
	b, err := s.blocks.Get(ctx, contentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.metrics.RecordCacheMiss("block")
		}
		return nil, err
	}
	if err := s.blocks.Touch(ctx, contentID, s.now()); err != nil {
		return nil, err
	}
	s.metrics.RecordCacheHit("block")
	return b.Data, nil
}

func (s *cacheService) Pin(ctx context.Context, contentID string) error {
	return s.blocks.SetPinned(ctx, contentID, true)
}

func (s *cacheService) Unpin(ctx context.Context, contentID string) error {
	return s.blocks.SetPinned(ctx, contentID, false)
}

func (s *cacheService) Prune(ctx context.Context, targetSize int64) (int64, error) {
	total, err := s.blocks.UnpinnedTotalSize(ctx)
	if err != nil {
		return 0, err
	}
	if total <= targetSize {
		return 0, nil
	}

	lru, err := s.blocks.UnpinnedByAccessTime(ctx)
	if err != nil {
		return 0, err
	}

	var reclaimed int64
	for i := range lru {
		if total-reclaimed <= targetSize {
			break
		}
		if err := s.blocks.Delete(ctx, lru[i].ContentID); err != nil {
			return reclaimed, err
		}
		reclaimed += lru[i].Size
	}

	s.metrics.RecordPrunedBytes(reclaimed)
	if n, err := s.blocks.Count(ctx); err == nil {
		s.metrics.SetCachedBlocks(n)
	}
	return reclaimed, nil
}

func (s *cacheService) SweepExpired(ctx context.Context) (int64, int64, error) {
	now := s.now()
	entries, err := s.entries.DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	blocks, err := s.blocks.DeleteExpiredUnpinned(ctx, now)
	if err != nil {
		return entries, 0, err
	}
	if n, err := s.blocks.Count(ctx); err == nil {
		s.metrics.SetCachedBlocks(n)
	}
	return entries, blocks, nil
}
