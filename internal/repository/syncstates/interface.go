package syncstates

import (
	"context"

	"github.com/tagmesh/tagmesh/internal/models"
)

// Repository describes CRUD and query operations for SyncState rows. Only
// the sync service holds a Repository.
type Repository interface {
	// Create inserts a new sync state.
	Create(ctx context.Context, s *models.SyncState) error

	// Save updates an existing sync state in full, advancing updated_at
	// monotonically.
	Save(ctx context.Context, s *models.SyncState) error

	// GetByID returns a sync state by id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.SyncState, error)

	// GetByEntityID lists sync states referring to the given entity.
	GetByEntityID(ctx context.Context, entityID string) ([]models.SyncState, error)

	// GetByEntityType lists sync states for one entity kind.
	GetByEntityType(ctx context.Context, entityType models.EntityType) ([]models.SyncState, error)

	// GetByStatus lists sync states in the given status.
	GetByStatus(ctx context.Context, status models.SyncOpStatus) ([]models.SyncState, error)

	// GetRetryable lists failed sync states whose next_retry_at has
	// passed. Permanently failed items (next_retry_at unset) are skipped.
	GetRetryable(ctx context.Context, nowMillis int64) ([]models.SyncState, error)

	// GetStaleInProgress lists in_progress items not updated since the
	// given time, for the stuck-operation watchdog.
	GetStaleInProgress(ctx context.Context, updatedBefore int64) ([]models.SyncState, error)

	// DeleteCompletedBefore purges completed items last touched before
	// the given time. Returns the number purged.
	DeleteCompletedBefore(ctx context.Context, updatedBefore int64) (int64, error)

	// Delete removes a sync state by id.
	Delete(ctx context.Context, id string) error

	// CountByStatus returns row counts grouped by status.
	CountByStatus(ctx context.Context) (map[models.SyncOpStatus]int64, error)
}
