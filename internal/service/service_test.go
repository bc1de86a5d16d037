package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), "file:service_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, table := range []string{"users", "tags", "subscriptions", "sync_states", "cache_entries", "content_blocks"} {
		_, err = db.Exec(`DELETE FROM ` + table)
		require.NoError(t, err)
	}
	return db
}
