package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/dbx"
	"github.com/tagmesh/tagmesh/internal/models"
)

// SQLiteEntryRepository implements EntryRepository over the cache_entries
// table.
type SQLiteEntryRepository struct {
	db dbx.DBTX
}

func NewSQLiteEntryRepository(db dbx.DBTX) *SQLiteEntryRepository {
	return &SQLiteEntryRepository{db: db}
}

const entryColumns = `id, kind, subject_id, handle, content_id, payload, is_valid, expires_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.CacheEntry, error) {
	e := &models.CacheEntry{}
	err := row.Scan(&e.ID, &e.Kind, &e.SubjectID, &e.Handle, &e.ContentID,
		&e.Payload, &e.IsValid, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan cache entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteEntryRepository) Create(ctx context.Context, e *models.CacheEntry) error {
	query := `INSERT INTO cache_entries (` + entryColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Kind, e.SubjectID, e.Handle, e.ContentID, e.Payload,
		e.IsValid, e.ExpiresAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteEntryRepository) GetLatestValid(ctx context.Context, kind models.CacheKind, subjectID string, nowMillis int64) (*models.CacheEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
			WHERE kind=? AND subject_id=? AND is_valid=1 AND expires_at > ?
			ORDER BY updated_at DESC, rowid DESC LIMIT 1`
	return scanEntry(r.db.QueryRowContext(ctx, query, kind, subjectID, nowMillis))
}

func (r *SQLiteEntryRepository) GetByContentID(ctx context.Context, kind models.CacheKind, contentID string, nowMillis int64) (*models.CacheEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
			WHERE kind=? AND content_id=? AND is_valid=1 AND expires_at > ?
			ORDER BY updated_at DESC, rowid DESC LIMIT 1`
	return scanEntry(r.db.QueryRowContext(ctx, query, kind, contentID, nowMillis))
}

func (r *SQLiteEntryRepository) Invalidate(ctx context.Context, kind models.CacheKind, subjectID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE cache_entries SET is_valid=0 WHERE kind=? AND subject_id=?`,
		kind, subjectID)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache entries: %w", err)
	}
	return nil
}

func (r *SQLiteEntryRepository) DeleteExpired(ctx context.Context, nowMillis int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteEntryRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// SQLiteBlockRepository implements BlockRepository over the content_blocks
// table.
type SQLiteBlockRepository struct {
	db dbx.DBTX
}

func NewSQLiteBlockRepository(db dbx.DBTX) *SQLiteBlockRepository {
	return &SQLiteBlockRepository{db: db}
}

const blockColumns = `content_id, data, size, pinned, last_accessed_at, expires_at, created_at, updated_at`

func scanBlock(row interface{ Scan(...any) error }) (*models.ContentBlock, error) {
	b := &models.ContentBlock{}
	err := row.Scan(&b.ContentID, &b.Data, &b.Size, &b.Pinned,
		&b.LastAccessedAt, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan content block: %w", err)
	}
	return b, nil
}

func (r *SQLiteBlockRepository) Upsert(ctx context.Context, b *models.ContentBlock) error {
	query := `INSERT INTO content_blocks (` + blockColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_id) DO UPDATE SET
				data = excluded.data,
				size = excluded.size,
				pinned = excluded.pinned,
				last_accessed_at = excluded.last_accessed_at,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		b.ContentID, b.Data, b.Size, b.Pinned, b.LastAccessedAt,
		b.ExpiresAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert content block: %w", err)
	}
	return nil
}

func (r *SQLiteBlockRepository) Get(ctx context.Context, contentID string) (*models.ContentBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM content_blocks WHERE content_id=?`
	return scanBlock(r.db.QueryRowContext(ctx, query, contentID))
}

func (r *SQLiteBlockRepository) Touch(ctx context.Context, contentID string, accessedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE content_blocks SET last_accessed_at=? WHERE content_id=?`,
		accessedAt, contentID)
	if err != nil {
		return fmt.Errorf("failed to touch content block: %w", err)
	}
	return nil
}

func (r *SQLiteBlockRepository) SetPinned(ctx context.Context, contentID string, pinned bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE content_blocks SET pinned=? WHERE content_id=?`, pinned, contentID)
	if err != nil {
		return fmt.Errorf("failed to set pinned flag: %w", err)
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

func (r *SQLiteBlockRepository) UnpinnedByAccessTime(ctx context.Context) ([]models.ContentBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM content_blocks
			WHERE pinned=0 ORDER BY last_accessed_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select content blocks: %w", err)
	}
	defer rows.Close()

	var result []models.ContentBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteBlockRepository) UnpinnedTotalSize(ctx context.Context) (int64, error) {
	var n int64
	query := `SELECT COALESCE(SUM(size), 0) FROM content_blocks WHERE pinned=0`
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to sum content block sizes: %w", err)
	}
	return n, nil
}

func (r *SQLiteBlockRepository) DeleteExpiredUnpinned(ctx context.Context, nowMillis int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM content_blocks WHERE pinned=0 AND expires_at > 0 AND expires_at <= ?`,
		nowMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired content blocks: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteBlockRepository) Delete(ctx context.Context, contentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM content_blocks WHERE content_id=?`, contentID)
	if err != nil {
		return fmt.Errorf("failed to delete content block: %w", err)
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

func (r *SQLiteBlockRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count content blocks: %w", err)
	}
	return n, nil
}
