package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStorePutGet(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	v, err := store.Put(ctx, "/coralfs/v1/purge/head/0", []byte("head"))
	require.NoError(t, err)
	assert.Equal(t, Version(1), v)

	result, err := store.Get(ctx, "/coralfs/v1/purge/head/0")
	require.NoError(t, err)
	assert.True(t, result.Exists)
	assert.Equal(t, []byte("head"), result.Value)
	assert.Equal(t, Version(1), result.Version)
}

func TestMockStoreGetMissing(t *testing.T) {
	store := NewMockStore()

	result, err := store.Get(context.Background(), "/absent")
	require.NoError(t, err)
	assert.False(t, result.Exists)
}

func TestMockStoreCAS(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	// Expected version 0 means "create only".
	v, err := store.Put(ctx, "/k", []byte("a"), WithExpectedVersion(0))
	require.NoError(t, err)
	assert.Equal(t, Version(1), v)

	_, err = store.Put(ctx, "/k", []byte("b"), WithExpectedVersion(0))
	assert.ErrorIs(t, err, ErrVersionMismatch)

	// Matching version succeeds and bumps.
	v, err = store.Put(ctx, "/k", []byte("b"), WithExpectedVersion(1))
	require.NoError(t, err)
	assert.Equal(t, Version(2), v)

	// Stale version fails.
	_, err = store.Put(ctx, "/k", []byte("c"), WithExpectedVersion(1))
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestMockStoreDeleteIdempotent(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	store.Put(ctx, "/k", []byte("a"))
	require.NoError(t, store.Delete(ctx, "/k"))
	require.NoError(t, store.Delete(ctx, "/k"))

	result, err := store.Get(ctx, "/k")
	require.NoError(t, err)
	assert.False(t, result.Exists)
}

func TestMockStoreListSorted(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	store.Put(ctx, "/coralfs/v1/purge/head/2", []byte("b"))
	store.Put(ctx, "/coralfs/v1/purge/head/0", []byte("a"))
	store.Put(ctx, "/coralfs/v1/other", []byte("x"))

	kvs, err := store.List(ctx, "/coralfs/v1/purge/head/")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "/coralfs/v1/purge/head/0", kvs[0].Key)
	assert.Equal(t, "/coralfs/v1/purge/head/2", kvs[1].Key)
}

func TestMockStoreClosed(t *testing.T) {
	store := NewMockStore()
	store.Close()

	_, err := store.Get(context.Background(), "/k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Put(context.Background(), "/k", nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
