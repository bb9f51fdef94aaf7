package statestore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedisStoreWithClient(client, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestRedisStore_SetWithTTL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ephemeral", "x", time.Minute))
	val, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.Equal(t, "x", val)
}

func TestRedisStore_Sets(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	members, err := store.SMembers(ctx, "ids")
	require.NoError(t, err)
	require.Empty(t, members)

	require.NoError(t, store.SAdd(ctx, "ids", "1", "2"))
	require.NoError(t, store.SAdd(ctx, "ids", "2", "3"))

	members, err = store.SMembers(ctx, "ids")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2", "3"}, members)

	ok, err := store.SIsMember(ctx, "ids", "2")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SIsMember(ctx, "ids", "9")
	require.NoError(t, err)
	require.False(t, ok)

	// Adding zero members is a no-op, not an error.
	require.NoError(t, store.SAdd(ctx, "ids"))
}

func TestRedisStore_ScanByPrefix(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "task:1", "a", 0))
	require.NoError(t, store.Set(ctx, "task:2", "b", 0))
	require.NoError(t, store.Set(ctx, "other:1", "c", 0))

	keys, err := store.Scan(ctx, "task:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"task:1", "task:2"}, keys)
}
