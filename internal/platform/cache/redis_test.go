package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPageCache(t *testing.T, opts ...Option) (*PageCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewPageCache(client, opts...)
	require.NoError(t, err)
	return cache, mr
}

func TestPageCacheMissThenHit(t *testing.T) {
	cache, _ := setupPageCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "products:en::24:")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "products:en::24:", []byte(`{"items":[]}`)))

	data, ok, err := cache.Get(ctx, "products:en::24:")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"items":[]}`, string(data))
}

func TestPageCacheInvalidateHidesOlderEntries(t *testing.T) {
	cache, mr := setupPageCache(t, WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v1")))
	assert.True(t, mr.Exists("test:0:k"))

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry from the previous generation must not be served")

	require.NoError(t, cache.Set(ctx, "k", []byte("v2")))
	data, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))
	assert.True(t, mr.Exists("test:1:k"))
}

func TestPageCacheEntriesExpire(t *testing.T) {
	cache, mr := setupPageCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v")))
	ttl := mr.TTL(defaultPrefix + ":0:k")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+12*time.Second)

	mr.FastForward(2 * time.Minute)
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPageCacheReportsBackendErrors(t *testing.T) {
	cache, mr := setupPageCache(t)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, cache.Ping(context.Background()))
}

func TestNewPageCacheRequiresClient(t *testing.T) {
	_, err := NewPageCache(nil)
	assert.Error(t, err)
}
