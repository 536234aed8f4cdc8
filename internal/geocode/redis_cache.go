package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/clean-matching/internal/models"
)

// KV is the subset of redis commands the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares geocode results between instances.
type RedisCache struct {
	client KV
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisCache(client KV, ttl time.Duration, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{client: client, prefix: "geocode:", ttl: ttl, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Coord, bool) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("geocode cache get", "err", err)
		}
		return models.Coord{}, false
	}
	var out models.Coord
	if _, err := fmt.Sscanf(v, "%f,%f", &out.Lat, &out.Lon); err != nil {
		return models.Coord{}, false
	}
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, key string, v models.Coord) {
	if err := c.client.Set(ctx, c.prefix+key, fmtCoord(v), c.ttl).Err(); err != nil {
		c.log.Warn("geocode cache set", "err", err)
	}
}
