// Package service implements the engine's domain logic on top of the
// repository layer: local users, tags, subscriptions, the sync queue and
// the document and block caches.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/users"
)

type UserService interface {
	// UpsertSelf records the local identity as the single self user,
	// demoting any previous self.
	UpsertSelf(ctx context.Context, did, handle, publicKey, nameKey string) (*models.User, error)
	GetSelf(ctx context.Context) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByDID(ctx context.Context, did string) (*models.User, error)
	GetByHandle(ctx context.Context, handle string) (*models.User, error)
	// EnsureRemoteUser creates or refreshes a user record from a
	// discovery record fetched off the network.
	EnsureRemoteUser(ctx context.Context, rec *models.DiscoveryRecord) (*models.User, error)
	SetVerified(ctx context.Context, id string, verified bool, proofURL string) error
	List(ctx context.Context) ([]models.User, error)
	Delete(ctx context.Context, id string) error
}

type userService struct {
	repo users.Repository
	now  func() int64
}

func NewUserService(repo users.Repository) UserService {
	return &userService{repo: repo, now: models.NowMillis}
}

func (s *userService) UpsertSelf(ctx context.Context, did, handle, publicKey, nameKey string) (*models.User, error) {
	handle = models.NormalizeHandle(handle)
	if !models.ValidHandle(handle) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidHandle, handle)
	}

	if err := s.repo.ClearSelf(ctx); err != nil {
		return nil, fmt.Errorf("demoting previous self: %w", err)
	}

	now := s.now()
	existing, err := s.repo.GetByDID(ctx, did)
	if err == nil {
		existing.Handle = handle
		existing.PublicKey = publicKey
		existing.NameKey = nameKey
		existing.IsSelf = true
		existing.UpdatedAt = now
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	u := &models.User{
		ID:        uuid.NewString(),
		DID:       did,
		Handle:    handle,
		PublicKey: publicKey,
		NameKey:   nameKey,
		IsSelf:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *userService) GetSelf(ctx context.Context) (*models.User, error) {
	u, err := s.repo.GetSelf(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNoIdentity
	}
	return u, err
}

func (s *userService) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *userService) GetByDID(ctx context.Context, did string) (*models.User, error) {
	return s.repo.GetByDID(ctx, did)
}

func (s *userService) GetByHandle(ctx context.Context, handle string) (*models.User, error) {
	return s.repo.GetByHandle(ctx, models.NormalizeHandle(handle))
}

func (s *userService) EnsureRemoteUser(ctx context.Context, rec *models.DiscoveryRecord) (*models.User, error) {
	handle := models.NormalizeHandle(rec.Handle)
	if !models.ValidHandle(handle) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidHandle, rec.Handle)
	}

	now := s.now()
	existing, err := s.repo.GetByDID(ctx, rec.DID)
	if err == nil {
		existing.Handle = handle
		existing.PublicKey = rec.PublicKey
		existing.NameKey = rec.NameKey
		existing.ProofURL = rec.ProofURL
		existing.UpdatedAt = now
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	u := &models.User{
		ID:        uuid.NewString(),
		DID:       rec.DID,
		Handle:    handle,
		PublicKey: rec.PublicKey,
		NameKey:   rec.NameKey,
		ProofURL:  rec.ProofURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *userService) SetVerified(ctx context.Context, id string, verified bool, proofURL string) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.Verified = verified
	u.ProofURL = proofURL
	u.UpdatedAt = s.now()
	return s.repo.Save(ctx, u)
}

func (s *userService) List(ctx context.Context) ([]models.User, error) {
	return s.repo.GetAll(ctx)
}

func (s *userService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
