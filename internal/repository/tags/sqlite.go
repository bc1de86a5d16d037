package tags

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

const tagColumns = `id, username, label, color, description, owner, sync_status, created_at, updated_at, last_synced_at`

func scanTag(row interface{ Scan(...any) error }) (*models.Tag, error) {
	t := &models.Tag{}
	err := row.Scan(&t.ID, &t.Username, &t.Label, &t.Color, &t.Description,
		&t.Owner, &t.SyncStatus, &t.CreatedAt, &t.UpdatedAt, &t.LastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tag: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, t *models.Tag) error {
	query := `INSERT INTO tags (` + tagColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Username, t.Label, t.Color, t.Description, t.Owner,
		t.SyncStatus, t.CreatedAt, t.UpdatedAt, t.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, t *models.Tag) error {
	query := `INSERT INTO tags (` + tagColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				label = excluded.label,
				color = excluded.color,
				description = excluded.description,
				owner = excluded.owner,
				sync_status = excluded.sync_status,
				updated_at = excluded.updated_at,
				last_synced_at = excluded.last_synced_at`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Username, t.Label, t.Color, t.Description, t.Owner,
		t.SyncStatus, t.CreatedAt, t.UpdatedAt, t.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags WHERE id=?`
	return scanTag(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Tag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY created_at`)
}

func (r *SQLiteRepository) GetByOwner(ctx context.Context, owner string) ([]models.Tag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM tags WHERE owner=? ORDER BY created_at`, owner)
}

func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) ([]models.Tag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM tags WHERE username=? ORDER BY created_at`, username)
}

func (r *SQLiteRepository) GetByStatus(ctx context.Context, status models.SyncStatus) ([]models.Tag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM tags WHERE sync_status=? ORDER BY created_at`, status)
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.SyncStatus, syncedAt int64) error {
	query := `UPDATE tags SET sync_status=?,
			last_synced_at = CASE WHEN ? > 0 THEN ? ELSE last_synced_at END,
			updated_at = MAX(?, updated_at)
			WHERE id=?`
	now := models.NowMillis()
	res, err := r.db.ExecContext(ctx, query, status, syncedAt, syncedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update tag status: %w", err)
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

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tags: %w", err)
	}
	return n, nil
}
