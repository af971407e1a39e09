package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"ms-reservation/internal/models"

	"github.com/go-redis/redis/v8"
)

const cacheKeyPrefix = "idem_result:"

// Cache keeps completed idempotency outcomes in Redis for the retention
// window, so retried clients get their stored result without touching
// Postgres. Misses simply fall through to the record table.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{Client: client, TTL: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	val, err := c.Client.Get(ctx, cacheKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.IdempotencyRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		// A corrupt cache entry is not fatal; the table has the truth.
		return nil, nil
	}
	return &rec, nil
}

func (c *Cache) Set(ctx context.Context, key string, rec *models.IdempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, cacheKeyPrefix+key, data, c.TTL).Err()
}
