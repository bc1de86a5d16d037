package tags

import (
	"context"

	"github.com/tagmesh/tagmesh/internal/models"
)

// Repository describes CRUD and query operations for Tag rows. Only the tag
// service holds a Repository.
type Repository interface {
	// Create inserts a new tag.
	Create(ctx context.Context, t *models.Tag) error

	// Save upserts a tag by id, writing every column. updated_at is taken
	// from the entity so remote merges can carry remote timestamps.
	Save(ctx context.Context, t *models.Tag) error

	// GetByID returns a tag by id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Tag, error)

	// GetAll lists all tags.
	GetAll(ctx context.Context) ([]models.Tag, error)

	// GetByOwner lists tags owned by the given user id.
	GetByOwner(ctx context.Context, owner string) ([]models.Tag, error)

	// GetByUsername lists tags attached to the given third-party account.
	GetByUsername(ctx context.Context, username string) ([]models.Tag, error)

	// GetByStatus lists tags in the given sync status.
	GetByStatus(ctx context.Context, status models.SyncStatus) ([]models.Tag, error)

	// SetStatus updates sync_status (and last_synced_at when synced) for
	// one tag, stamping updated_at monotonically.
	SetStatus(ctx context.Context, id string, status models.SyncStatus, syncedAt int64) error

	// Delete removes a tag by id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of tag rows.
	Count(ctx context.Context) (int64, error)
}
