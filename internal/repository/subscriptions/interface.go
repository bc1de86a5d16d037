package subscriptions

import (
	"context"

	"github.com/tagmesh/tagmesh/internal/models"
)

// Repository describes CRUD and query operations for Subscription rows.
// Only the subscription service holds a Repository. The user_id column is
// unique: one subscription per followed user.
type Repository interface {
	// Create inserts a new subscription.
	Create(ctx context.Context, s *models.Subscription) error

	// Save updates an existing subscription in full, advancing updated_at
	// monotonically.
	Save(ctx context.Context, s *models.Subscription) error

	// GetByID returns a subscription by id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Subscription, error)

	// GetByUserID returns the subscription for the followed user.
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)

	// GetAll lists all subscriptions.
	GetAll(ctx context.Context) ([]models.Subscription, error)

	// GetActive lists subscriptions with is_active set.
	GetActive(ctx context.Context) ([]models.Subscription, error)

	// Delete removes a subscription by id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of subscription rows.
	Count(ctx context.Context) (int64, error)
}
