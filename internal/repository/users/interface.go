package users

import (
	"context"

	"github.com/tagmesh/tagmesh/internal/models"
)

// Repository describes CRUD and lookup operations for User rows. The user
// service is the only component that holds a Repository; implementations
// are backed by the local SQLite database.
type Repository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *models.User) error

	// Save updates an existing user row in full, advancing updated_at
	// monotonically.
	Save(ctx context.Context, u *models.User) error

	// GetByID returns a user by id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByDID returns the user with the given DID.
	GetByDID(ctx context.Context, did string) (*models.User, error)

	// GetByHandle returns the user with the given (normalized) handle.
	GetByHandle(ctx context.Context, handle string) (*models.User, error)

	// GetSelf returns the single user with is_self set.
	GetSelf(ctx context.Context) (*models.User, error)

	// ClearSelf unsets is_self on every row. Used before promoting a new
	// self user so the single-self invariant holds.
	ClearSelf(ctx context.Context) error

	// GetAll lists all known users.
	GetAll(ctx context.Context) ([]models.User, error)

	// Delete removes a user by id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of user rows.
	Count(ctx context.Context) (int64, error)
}
