package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/dbx"
	"github.com/tagmesh/tagmesh/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const userColumns = `id, did, handle, display_name, public_key, name_key, verified, proof_url, is_self, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.DID, &u.Handle, &u.DisplayName, &u.PublicKey,
		&u.NameKey, &u.Verified, &u.ProofURL, &u.IsSelf, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (` + userColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.DID, u.Handle, u.DisplayName, u.PublicKey, u.NameKey,
		u.Verified, u.ProofURL, u.IsSelf, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, u *models.User) error {
	query := `UPDATE users SET did=?, handle=?, display_name=?, public_key=?,
			name_key=?, verified=?, proof_url=?, is_self=?,
			updated_at=MAX(?, updated_at)
			WHERE id=?`
	res, err := r.db.ExecContext(ctx, query,
		u.DID, u.Handle, u.DisplayName, u.PublicKey, u.NameKey,
		u.Verified, u.ProofURL, u.IsSelf, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	return scanUser(r.db.QueryRowContext(ctx, query, arg))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `id=?`, id)
}

func (r *SQLiteRepository) GetByDID(ctx context.Context, did string) (*models.User, error) {
	return r.getOne(ctx, `did=?`, did)
}

func (r *SQLiteRepository) GetByHandle(ctx context.Context, handle string) (*models.User, error) {
	return r.getOne(ctx, `handle=?`, handle)
}

func (r *SQLiteRepository) GetSelf(ctx context.Context) (*models.User, error) {
	return r.getOne(ctx, `is_self=?`, true)
}

func (r *SQLiteRepository) ClearSelf(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_self=0 WHERE is_self=1`); err != nil {
		return fmt.Errorf("failed to clear self flag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}
	defer rows.Close()

	var result []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
