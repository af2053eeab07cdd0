package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 24 * time.Hour

// Deduper guards side effects that must run at most once per key.
type Deduper interface {
	// Claim returns true for the first caller of key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops the key so a later Claim can succeed again.
	Release(ctx context.Context, key string) error
}

func fulfillmentKey(orderID int64) string {
	return fmt.Sprintf("fulfill:order:%d", orderID)
}

type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, key, 1, dedupeTTL).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

// MemoryDeduper is the single-process Deduper used without Redis.
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{keys: make(map[string]struct{})}
}

func (d *MemoryDeduper) Claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[key]; ok {
		return false, nil
	}
	d.keys[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}
