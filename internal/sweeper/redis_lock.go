package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockClient is the subset of *redis.Client the locker uses.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLocker takes a SET NX PX lock per schedule. The lock expires on its
// own if the holder dies; unlock only deletes a lock this holder still owns.
type RedisLocker struct {
	client LockClient
	prefix string
}

func NewRedisLocker(client LockClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "clean-matching:lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cur, err := l.client.Get(ctx, key).Result(); err == nil && cur == token {
			l.client.Del(ctx, key)
		}
	}, true, nil
}
