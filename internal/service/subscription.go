package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/subscriptions"
)

type SubscriptionService interface {
	// Subscribe follows a user. A second subscription for the same user
	// yields common.ErrDuplicateSubscription.
	Subscribe(ctx context.Context, userID string, syncEnabled bool) (*models.Subscription, error)
	// Unsubscribe deletes the subscription row.
	Unsubscribe(ctx context.Context, userID string) error
	Get(ctx context.Context, id string) (*models.Subscription, error)
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	List(ctx context.Context) ([]models.Subscription, error)
	Active(ctx context.Context) ([]models.Subscription, error)
	SetSyncEnabled(ctx context.Context, id string, enabled bool) error
	TouchFetched(ctx context.Context, id string, at int64) error
	// NeedingRefresh returns active, sync-enabled subscriptions last
	// fetched before the cutoff.
	NeedingRefresh(ctx context.Context, fetchedBefore int64) ([]models.Subscription, error)
}

type subscriptionService struct {
	repo subscriptions.Repository
	now  func() int64
}

func NewSubscriptionService(repo subscriptions.Repository) SubscriptionService {
	return &subscriptionService{repo: repo, now: models.NowMillis}
}

func (s *subscriptionService) Subscribe(ctx context.Context, userID string, syncEnabled bool) (*models.Subscription, error) {
	now := s.now()

	_, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return nil, fmt.Errorf("%w: user %s", common.ErrDuplicateSubscription, userID)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	sub := &models.Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		IsActive:    true,
		SyncEnabled: syncEnabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) Unsubscribe(ctx context.Context, userID string) error {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, sub.ID)
}

func (s *subscriptionService) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *subscriptionService) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *subscriptionService) List(ctx context.Context) ([]models.Subscription, error) {
	return s.repo.GetAll(ctx)
}

func (s *subscriptionService) Active(ctx context.Context) ([]models.Subscription, error) {
	return s.repo.GetActive(ctx)
}

func (s *subscriptionService) SetSyncEnabled(ctx context.Context, id string, enabled bool) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	sub.SyncEnabled = enabled
	sub.UpdatedAt = s.now()
	return s.repo.Save(ctx, sub)
}

func (s *subscriptionService) TouchFetched(ctx context.Context, id string, at int64) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	sub.LastFetchedAt = at
	sub.UpdatedAt = s.now()
	return s.repo.Save(ctx, sub)
}

func (s *subscriptionService) NeedingRefresh(ctx context.Context, fetchedBefore int64) ([]models.Subscription, error) {
	active, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	var due []models.Subscription
	for _, sub := range active {
		if sub.SyncEnabled && sub.LastFetchedAt < fetchedBefore {
			due = append(due, sub)
		}
	}
	return due, nil
}
