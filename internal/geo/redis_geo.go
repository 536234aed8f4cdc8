package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/clean-matching/internal/models"
)

// GeoBackend is the subset of redis commands the locator needs.
type GeoBackend interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoSearch(ctx context.Context, key string, q *redis.GeoSearchQuery) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// ProfileLoader hydrates provider ids returned by GEOSEARCH.
type ProfileLoader interface {
	ProvidersByIDs(ctx context.Context, ids []string) ([]models.Provider, error)
}

// RedisLocator keeps approved provider positions in a Redis geo set and
// answers box queries with GEOSEARCH BYBOX.
type RedisLocator struct {
	client   GeoBackend
	key      string
	profiles ProfileLoader
}

func NewRedisLocator(client GeoBackend, key string, profiles ProfileLoader) *RedisLocator {
	return &RedisLocator{client: client, key: key, profiles: profiles}
}

// Index adds an approved, located provider to the set and removes anyone else.
func (r *RedisLocator) Index(ctx context.Context, p models.Provider) error {
	c, ok := p.Coord()
	if !ok || p.Status != models.ProviderApproved {
		if err := r.client.ZRem(ctx, r.key, p.ID).Err(); err != nil {
			return fmt.Errorf("geo remove %s: %w", p.ID, err)
		}
		return nil
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: p.ID}).Err(); err != nil {
		return fmt.Errorf("geo add %s: %w", p.ID, err)
	}
	return nil
}

func (r *RedisLocator) Nearby(ctx context.Context, center models.Coord, radiusKm float64) ([]models.Provider, error) {
	ids, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude: center.Lon,
		Latitude:  center.Lat,
		BoxWidth:  2 * radiusKm,
		BoxHeight: 2 * radiusKm,
		BoxUnit:   "km",
		Sort:      "ASC",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("geosearch: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	ps, err := r.profiles.ProvidersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	// the set can lag behind status changes
	out := ps[:0]
	for _, p := range ps {
		if p.Status == models.ProviderApproved {
			out = append(out, p)
		}
	}
	return out, nil
}
