package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts an in-memory Redis and returns a client bound to it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, "login:", 0)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Create(ctx, "abcd1234"))
	assert.ErrorIs(t, store.Create(ctx, "abcd1234"), ErrCodeExists)

	s, ok, err := store.Get(ctx, "abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)
	assert.False(t, s.CreatedAt.IsZero())
	assert.True(t, s.ExpiresAt.IsZero())

	resolved, err := store.Resolve(ctx, "abcd1234", User{ID: 100, FirstName: "Ivan", Username: "ivan"})
	require.NoError(t, err)
	assert.True(t, resolved)

	s, ok, err = store.Consume(ctx, "abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, s.Resolved())
	assert.Equal(t, User{ID: 100, FirstName: "Ivan", Username: "ivan"}, *s.User)

	_, ok, err = store.Consume(ctx, "abcd1234")
	require.NoError(t, err)
	assert.False(t, ok)

	exists := client.Exists(ctx, "login:abcd1234").Val()
	assert.Equal(t, int64(0), exists)
}

func TestRedisStoreResolveUnknownDoesNotCreateKey(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, "login:", time.Minute)

	resolved, err := store.Resolve(ctx, "missing1", User{ID: 1})
	require.NoError(t, err)
	assert.False(t, resolved)

	assert.Equal(t, int64(0), client.Exists(ctx, "login:missing1").Val())
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "login:", time.Minute)

	require.NoError(t, store.Create(ctx, "ttlcode1"))
	assert.Greater(t, client.TTL(ctx, "login:ttlcode1").Val(), time.Duration(0))

	_, err := store.Resolve(ctx, "ttlcode1", User{ID: 5, FirstName: "Keep"})
	require.NoError(t, err)
	assert.Greater(t, client.TTL(ctx, "login:ttlcode1").Val(), time.Duration(0), "resolve must keep the TTL")

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "ttlcode1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreLenCountsPrefixOnly(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, "login:", 0)

	require.NoError(t, store.Create(ctx, "one00001"))
	require.NoError(t, store.Create(ctx, "two00002"))
	require.NoError(t, client.Set(ctx, "other:key", "x", 0).Err())

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "", 0)
	mr.Close()

	_, _, err := store.Get(ctx, "whatever")
	assert.Error(t, err)
}
