package services

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func exerciseDeduper(t *testing.T, d Deduper, key string) {
	ctx := context.Background()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.Claim(ctx, key)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	require.NoError(t, d.Release(ctx, key))
	ok, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "claim succeeds again after release")
}

func TestMemoryDeduper(t *testing.T) {
	exerciseDeduper(t, NewMemoryDeduper(), fulfillmentKey(1))
}

func TestRedisDeduper(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	key := fulfillmentKey(987654321)
	client.Del(context.Background(), key)
	defer client.Del(context.Background(), key)

	exerciseDeduper(t, NewRedisDeduper(client), key)
	ttl, err := client.TTL(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Hours(), 23.0)
}
