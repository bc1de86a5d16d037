package contentstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
)

func TestComputeIDStable(t *testing.T) {
	a := ComputeID([]byte("hello"))
	b := ComputeID([]byte("hello"))
	c := ComputeID([]byte("world"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, strings.HasPrefix(a, "z"))
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte(`{"version":1}`)
	id, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, ComputeID(data), id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Stored bytes are not aliased to the caller's slice.
	data[0] = 'X'
	got2, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, byte('{'), got2[0])

	_, err = store.Get(ctx, "zUnknown")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStorePutIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id1, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	id2, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestMemoryStoreNames(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Resolve(ctx, "kUnpublished")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, store.Publish(ctx, "kAlice", "zFirst"))
	id, err := store.Resolve(ctx, "kAlice")
	require.NoError(t, err)
	require.Equal(t, "zFirst", id)

	// Republishing replaces the pointer.
	require.NoError(t, store.Publish(ctx, "kAlice", "zSecond"))
	id, err = store.Resolve(ctx, "kAlice")
	require.NoError(t, err)
	require.Equal(t, "zSecond", id)
}
