// internal/stockcache/stockcache.go

// Package stockcache mirrors on-hand quantities into Redis for cheap reads
// and deduplicates retried order submissions. Postgres stays authoritative;
// every value here can be rebuilt from it.
package stockcache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	quantityKeyPrefix = "stock:"
	idempotencyKeyTTL = 24 * time.Hour
)

// Cache is the Redis-backed stock cache.
type Cache struct {
	client *redis.Client
}

// New creates a new Cache.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// SetQuantity stores the committed on-hand quantity for an item.
func (c *Cache) SetQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return c.client.Set(ctx, quantityKeyPrefix+itemID.String(), quantity, 0).Err()
}

// Quantity returns the cached quantity and whether the item was present.
func (c *Cache) Quantity(ctx context.Context, itemID uuid.UUID) (int, bool, error) {
	quantity, err := c.client.Get(ctx, quantityKeyPrefix+itemID.String()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return quantity, true, nil
}

// SetIdempotency sets a key for idempotency check, returns false if it
// already exists.
func (c *Cache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ClearIdempotency releases a reserved key so the same request id can be
// submitted again after a failed attempt.
func (c *Cache) ClearIdempotency(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
