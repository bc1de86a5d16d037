package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/metrics"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/syncstates"
)

// Retry policy for failed sync operations. Delays double per attempt from
// the base up to the cap, with up to 10% random jitter added so queued
// retries do not fire in lockstep.
const (
	baseRetryDelay     = time.Minute
	maxRetryDelay      = 5 * time.Minute
	maxRetries         = 5
	completedRetention = 24 * time.Hour
)

type SyncService interface {
	// Queue records that an entity needs syncing. A pending or
	// in-progress operation for the same entity is coalesced: its
	// operation is updated instead of enqueueing a duplicate.
	Queue(ctx context.Context, entityType models.EntityType, entityID string, op models.Operation) (*models.SyncState, error)
	Get(ctx context.Context, id string) (*models.SyncState, error)
	Pending(ctx context.Context) ([]models.SyncState, error)
	// Retryable returns failed operations whose backoff has elapsed.
	Retryable(ctx context.Context) ([]models.SyncState, error)
	MarkInProgress(ctx context.Context, id string) error
	// MarkCompleted finishes an operation, recording the remote document
	// version it settled on (0 when unknown).
	MarkCompleted(ctx context.Context, id string, remoteVersion int64) error
	// MarkFailed records the failure and schedules the next retry, or
	// parks the operation once the retry budget is exhausted.
	MarkFailed(ctx context.Context, id string, cause error) error
	MarkConflict(ctx context.Context, id string, conflictData []byte, remoteVersion int64) error
	// ResetFailed puts a parked operation back in the queue with a
	// fresh retry budget.
	ResetFailed(ctx context.Context, id string) error
	// RequeueStale returns in-progress operations older than the cutoff
	// to pending. Covers operations orphaned by a crash mid-sync.
	RequeueStale(ctx context.Context, updatedBefore int64) (int, error)
	// PurgeCompleted removes completed operations past the retention
	// window and returns how many were deleted.
	PurgeCompleted(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[models.SyncOpStatus]int64, error)
}

type syncService struct {
	repo    syncstates.Repository
	metrics *metrics.Collector
	now     func() int64
	jitter  func(max int64) int64
}

func NewSyncService(repo syncstates.Repository, mc *metrics.Collector) SyncService {
	return &syncService{
		repo:    repo,
		metrics: mc,
		now:     models.NowMillis,
		jitter:  func(max int64) int64 { return rand.Int63n(max + 1) },
	}
}

func (s *syncService) Queue(ctx context.Context, entityType models.EntityType, entityID string, op models.Operation) (*models.SyncState, error) {
	now := s.now()

	states, err := s.repo.GetByEntityID(ctx, entityID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	for i := range states {
		st := &states[i]
		if st.EntityType != entityType {
			continue
		}
		if st.Status == models.SyncOpPending || st.Status == models.SyncOpInProgress {
			st.Operation = op
			st.UpdatedAt = now
			if err := s.repo.Save(ctx, st); err != nil {
				return nil, err
			}
			return st, nil
		}
	}

	st := &models.SyncState{
		ID:           uuid.NewString(),
		EntityType:   entityType,
		EntityID:     entityID,
		Operation:    op,
		Status:       models.SyncOpPending,
		LocalVersion: models.DocumentVersion,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, err
	}
	s.metrics.RecordSyncTransition(string(models.SyncOpPending))
	return st, nil
}

func (s *syncService) Get(ctx context.Context, id string) (*models.SyncState, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *syncService) Pending(ctx context.Context) ([]models.SyncState, error) {
	return s.repo.GetByStatus(ctx, models.SyncOpPending)
}

func (s *syncService) Retryable(ctx context.Context) ([]models.SyncState, error) {
	return s.repo.GetRetryable(ctx, s.now())
}

func (s *syncService) MarkInProgress(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(st *models.SyncState) {
		st.Status = models.SyncOpInProgress
	})
}

func (s *syncService) MarkCompleted(ctx context.Context, id string, remoteVersion int64) error {
	return s.transition(ctx, id, func(st *models.SyncState) {
		st.Status = models.SyncOpCompleted
		if remoteVersion > 0 {
			st.RemoteVersion = remoteVersion
		}
		st.ErrorMessage = ""
		st.NextRetryAt = 0
	})
}

func (s *syncService) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.transition(ctx, id, func(st *models.SyncState) {
		st.Status = models.SyncOpFailed
		st.RetryCount++
		if cause != nil {
			st.ErrorMessage = cause.Error()
		}
		if st.RetryCount >= maxRetries {
			// Out of retries. Stays failed until reset by hand.
			st.NextRetryAt = 0
			return
		}
		st.NextRetryAt = s.now() + s.backoffDelay(st.RetryCount)
	})
}

// backoffDelay returns the delay in milliseconds before retry n (1-based).
func (s *syncService) backoffDelay(retryCount int) int64 {
	delay := baseRetryDelay << (retryCount - 1)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	ms := delay.Milliseconds()
	return ms + s.jitter(ms/10)
}

func (s *syncService) MarkConflict(ctx context.Context, id string, conflictData []byte, remoteVersion int64) error {
	return s.transition(ctx, id, func(st *models.SyncState) {
		st.Status = models.SyncOpConflict
		st.ConflictData = conflictData
		if remoteVersion > 0 {
			st.RemoteVersion = remoteVersion
		}
		st.NextRetryAt = 0
	})
}

func (s *syncService) ResetFailed(ctx context.Context, id string) error {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if st.Status != models.SyncOpFailed && st.Status != models.SyncOpConflict {
		return fmt.Errorf("%w: operation %s is %s", common.ErrConflict, id, st.Status)
	}
	st.Status = models.SyncOpPending
	st.RetryCount = 0
	st.NextRetryAt = 0
	st.ErrorMessage = ""
	st.ConflictData = nil
	st.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, st); err != nil {
		return err
	}
	s.metrics.RecordSyncTransition(string(models.SyncOpPending))
	return nil
}

func (s *syncService) RequeueStale(ctx context.Context, updatedBefore int64) (int, error) {
	stale, err := s.repo.GetStaleInProgress(ctx, updatedBefore)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range stale {
		st := &stale[i]
		st.Status = models.SyncOpPending
		st.UpdatedAt = s.now()
		if err := s.repo.Save(ctx, st); err != nil {
			return requeued, err
		}
		s.metrics.RecordSyncTransition(string(models.SyncOpPending))
		requeued++
	}
	return requeued, nil
}

func (s *syncService) PurgeCompleted(ctx context.Context) (int64, error) {
	cutoff := s.now() - completedRetention.Milliseconds()
	return s.repo.DeleteCompletedBefore(ctx, cutoff)
}

func (s *syncService) Stats(ctx context.Context) (map[models.SyncOpStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *syncService) transition(ctx context.Context, id string, apply func(*models.SyncState)) error {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	apply(st)
	st.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, st); err != nil {
		return err
	}
	s.metrics.RecordSyncTransition(string(st.Status))
	return nil
}
