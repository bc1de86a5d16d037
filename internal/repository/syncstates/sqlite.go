package syncstates

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

const syncColumns = `id, entity_type, entity_id, operation, status, local_version, remote_version, conflict_data, error_message, retry_count, next_retry_at, created_at, updated_at`

func scanSyncState(row interface{ Scan(...any) error }) (*models.SyncState, error) {
	s := &models.SyncState{}
	err := row.Scan(&s.ID, &s.EntityType, &s.EntityID, &s.Operation, &s.Status,
		&s.LocalVersion, &s.RemoteVersion, &s.ConflictData, &s.ErrorMessage,
		&s.RetryCount, &s.NextRetryAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sync state: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, s *models.SyncState) error {
	query := `INSERT INTO sync_states (` + syncColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.EntityType, s.EntityID, s.Operation, s.Status,
		s.LocalVersion, s.RemoteVersion, s.ConflictData, s.ErrorMessage,
		s.RetryCount, s.NextRetryAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.SyncState) error {
	query := `UPDATE sync_states SET entity_type=?, entity_id=?, operation=?,
			status=?, local_version=?, remote_version=?, conflict_data=?,
			error_message=?, retry_count=?, next_retry_at=?,
			updated_at=MAX(?, updated_at)
			WHERE id=?`
	res, err := r.db.ExecContext(ctx, query,
		s.EntityType, s.EntityID, s.Operation, s.Status, s.LocalVersion,
		s.RemoteVersion, s.ConflictData, s.ErrorMessage, s.RetryCount,
		s.NextRetryAt, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
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

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.SyncState, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_states WHERE id=?`
	return scanSyncState(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.SyncState, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync states: %w", err)
	}
	defer rows.Close()

	var result []models.SyncState
	for rows.Next() {
		s, err := scanSyncState(rows)
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

func (r *SQLiteRepository) GetByEntityID(ctx context.Context, entityID string) ([]models.SyncState, error) {
	return r.list(ctx, `SELECT `+syncColumns+` FROM sync_states WHERE entity_id=? ORDER BY created_at`, entityID)
}

func (r *SQLiteRepository) GetByEntityType(ctx context.Context, entityType models.EntityType) ([]models.SyncState, error) {
	return r.list(ctx, `SELECT `+syncColumns+` FROM sync_states WHERE entity_type=? ORDER BY created_at`, entityType)
}

func (r *SQLiteRepository) GetByStatus(ctx context.Context, status models.SyncOpStatus) ([]models.SyncState, error) {
	return r.list(ctx, `SELECT `+syncColumns+` FROM sync_states WHERE status=? ORDER BY created_at`, status)
}

func (r *SQLiteRepository) GetRetryable(ctx context.Context, nowMillis int64) ([]models.SyncState, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_states
			WHERE status=? AND next_retry_at > 0 AND next_retry_at <= ?
			ORDER BY next_retry_at`
	return r.list(ctx, query, models.SyncOpFailed, nowMillis)
}

func (r *SQLiteRepository) GetStaleInProgress(ctx context.Context, updatedBefore int64) ([]models.SyncState, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_states
			WHERE status=? AND updated_at < ?
			ORDER BY updated_at`
	return r.list(ctx, query, models.SyncOpInProgress, updatedBefore)
}

func (r *SQLiteRepository) DeleteCompletedBefore(ctx context.Context, updatedBefore int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_states WHERE status=? AND updated_at < ?`,
		models.SyncOpCompleted, updatedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed sync states: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_states WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
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

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.SyncOpStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_states GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync states: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncOpStatus]int64)
	for rows.Next() {
		var status models.SyncOpStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
