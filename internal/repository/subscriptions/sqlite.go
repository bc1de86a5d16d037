package subscriptions

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

const subColumns = `id, user_id, is_active, sync_enabled, last_fetched_at, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	s := &models.Subscription{}
	err := row.Scan(&s.ID, &s.UserID, &s.IsActive, &s.SyncEnabled,
		&s.LastFetchedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, s *models.Subscription) error {
	query := `INSERT INTO subscriptions (` + subColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.IsActive, s.SyncEnabled, s.LastFetchedAt,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.Subscription) error {
	query := `UPDATE subscriptions SET is_active=?, sync_enabled=?,
			last_fetched_at=?, updated_at=MAX(?, updated_at)
			WHERE id=?`
	res, err := r.db.ExecContext(ctx, query,
		s.IsActive, s.SyncEnabled, s.LastFetchedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
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

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions WHERE id=?`
	return scanSubscription(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions WHERE user_id=?`
	return scanSubscription(r.db.QueryRowContext(ctx, query, userID))
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select subscriptions: %w", err)
	}
	defer rows.Close()

	var result []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Subscription, error) {
	return r.list(ctx, `SELECT `+subColumns+` FROM subscriptions ORDER BY created_at`)
}

func (r *SQLiteRepository) GetActive(ctx context.Context) ([]models.Subscription, error) {
	return r.list(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE is_active=1 ORDER BY created_at`)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}
