package reclaimer

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const sweepLockKey = "reclaimer_sweep_lock"

// RedisSweepLock is a SetNX lease held for the duration of a sweep. The
// TTL guarantees a crashed holder cannot block sweeping forever, and the
// owner check on release keeps one replica from dropping another's lock.
type RedisSweepLock struct {
	Client *redis.Client
	TTL    time.Duration

	ownerID string
}

func NewRedisSweepLock(client *redis.Client, ttl time.Duration) *RedisSweepLock {
	return &RedisSweepLock{
		Client:  client,
		TTL:     ttl,
		ownerID: uuid.NewString(),
	}
}

func (l *RedisSweepLock) Acquire(ctx context.Context) (bool, error) {
	return l.Client.SetNX(ctx, sweepLockKey, l.ownerID, l.TTL).Result()
}

func (l *RedisSweepLock) Release(ctx context.Context) error {
	val, err := l.Client.Get(ctx, sweepLockKey).Result()
	if err == redis.Nil {
		return nil // lease already expired
	}
	if err != nil {
		return err
	}
	if val == l.ownerID {
		return l.Client.Del(ctx, sweepLockKey).Err()
	}
	return nil
}
