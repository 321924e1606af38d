package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_SetAndExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewIdempotencyStore(client)
	ctx := context.Background()
	key := IdempotencyPrefixConsume + "k1"

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.SetWithTTL(ctx, key, "EVT1", 24*time.Hour))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	mr.FastForward(24*time.Hour + time.Second)

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIdempotencyStore_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err := NewIdempotencyStore(client).Exists(context.Background(), "k")
	assert.Error(t, err)
}
