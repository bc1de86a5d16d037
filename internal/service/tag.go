package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
	"github.com/tagmesh/tagmesh/internal/repository/tags"
)

type TagService interface {
	Create(ctx context.Context, username, label, color, description, owner string) (*models.Tag, error)
	Update(ctx context.Context, id string, upd *models.TagUpdate) (*models.Tag, error)
	Get(ctx context.Context, id string) (*models.Tag, error)
	List(ctx context.Context) ([]models.Tag, error)
	ListForUser(ctx context.Context, username string) ([]models.Tag, error)
	ListByOwner(ctx context.Context, owner string) ([]models.Tag, error)
	Search(ctx context.Context, query string) ([]models.Tag, error)
	Pending(ctx context.Context) ([]models.Tag, error)
	MarkSynced(ctx context.Context, id string, syncedAt int64) error
	MarkConflict(ctx context.Context, id string) error
	// ApplyRemote merges a tag from a remote collection using
	// last-writer-wins: a strictly newer remote copy replaces the local
	// one, anything else is kept.
	ApplyRemote(ctx context.Context, remote *models.Tag) (bool, error)
	Delete(ctx context.Context, id string) error
}

type tagService struct {
	repo tags.Repository
	now  func() int64
}

func NewTagService(repo tags.Repository) TagService {
	return &tagService{repo: repo, now: models.NowMillis}
}

func (s *tagService) Create(ctx context.Context, username, label, color, description, owner string) (*models.Tag, error) {
	username = models.NormalizeHandle(username)
	if !models.ValidHandle(username) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidHandle, username)
	}
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("%w: label must not be empty", common.ErrValidation)
	}

	now := s.now()
	t := &models.Tag{
		ID:          uuid.NewString(),
		Username:    username,
		Label:       strings.TrimSpace(label),
		Color:       color,
		Description: description,
		Owner:       owner,
		SyncStatus:  models.SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *tagService) Update(ctx context.Context, id string, upd *models.TagUpdate) (*models.Tag, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Username != nil {
		username := models.NormalizeHandle(*upd.Username)
		if !models.ValidHandle(username) {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidHandle, *upd.Username)
		}
		t.Username = username
	}
	if upd.Label != nil {
		if strings.TrimSpace(*upd.Label) == "" {
			return nil, fmt.Errorf("%w: label must not be empty", common.ErrValidation)
		}
		t.Label = strings.TrimSpace(*upd.Label)
	}
	if upd.Color != nil {
		t.Color = *upd.Color
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.SyncStatus != nil {
		t.SyncStatus = *upd.SyncStatus
	}

	// Content edits invalidate the last publish.
	if upd.TouchesContent() {
		t.SyncStatus = models.SyncStatusPending
	}
	t.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *tagService) Get(ctx context.Context, id string) (*models.Tag, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *tagService) List(ctx context.Context) ([]models.Tag, error) {
	return s.repo.GetAll(ctx)
}

func (s *tagService) ListForUser(ctx context.Context, username string) ([]models.Tag, error) {
	return s.repo.GetByUsername(ctx, models.NormalizeHandle(username))
}

func (s *tagService) ListByOwner(ctx context.Context, owner string) ([]models.Tag, error) {
	return s.repo.GetByOwner(ctx, owner)
}

func (s *tagService) Search(ctx context.Context, query string) ([]models.Tag, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	var result []models.Tag
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Username), q) ||
			strings.Contains(strings.ToLower(t.Label), q) ||
			strings.Contains(strings.ToLower(t.Description), q) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *tagService) Pending(ctx context.Context) ([]models.Tag, error) {
	return s.repo.GetByStatus(ctx, models.SyncStatusPending)
}

func (s *tagService) MarkSynced(ctx context.Context, id string, syncedAt int64) error {
	return s.repo.SetStatus(ctx, id, models.SyncStatusSynced, syncedAt)
}

func (s *tagService) MarkConflict(ctx context.Context, id string) error {
	return s.repo.SetStatus(ctx, id, models.SyncStatusConflict, 0)
}

func (s *tagService) ApplyRemote(ctx context.Context, remote *models.Tag) (bool, error) {
	local, err := s.repo.GetByID(ctx, remote.ID)
	if err == nil {
		if remote.UpdatedAt <= local.UpdatedAt {
			return false, nil
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return false, err
	}

	cp := *remote
	cp.SyncStatus = models.SyncStatusSynced
	cp.LastSyncedAt = s.now()
	if err := s.repo.Save(ctx, &cp); err != nil {
		return false, err
	}
	return true, nil
}

func (s *tagService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
