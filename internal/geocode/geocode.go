// Package geocode turns free-text addresses into coordinates. Failures are
// never fatal to callers: an unresolved address falls back to text matching.
package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/models"
)

// Resolver is what the lifecycle manager depends on.
type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coord, bool)
}

// Lookup is a remote geocoder. found=false with a nil error means the
// address is unknown to the backend.
type Lookup interface {
	Lookup(ctx context.Context, address string) (c models.Coord, found bool, err error)
}

// Cache stores resolved coordinates by normalized address.
type Cache interface {
	Get(ctx context.Context, key string) (models.Coord, bool)
	Set(ctx context.Context, key string, c models.Coord)
}

// None resolves nothing. Used when no geocoder is configured.
type None struct{}

func (None) Resolve(context.Context, string) (models.Coord, bool) { return models.Coord{}, false }

// CachedResolver fronts a Lookup with a Cache.
type CachedResolver struct {
	lookup Lookup
	cache  Cache
	log    *slog.Logger
}

func NewCachedResolver(lookup Lookup, cache Cache, log *slog.Logger) *CachedResolver {
	if log == nil {
		log = slog.Default()
	}
	return &CachedResolver{lookup: lookup, cache: cache, log: log}
}

func (r *CachedResolver) Resolve(ctx context.Context, address string) (models.Coord, bool) {
	key := normalize(address)
	if key == "" {
		return models.Coord{}, false
	}
	if c, ok := r.cache.Get(ctx, key); ok {
		return c, true
	}
	c, found, err := r.lookup.Lookup(ctx, address)
	if err != nil {
		r.log.Warn("geocode failed", "address", address, "err", err)
		return models.Coord{}, false
	}
	if !found {
		return models.Coord{}, false
	}
	r.cache.Set(ctx, key, c)
	return c, true
}

func normalize(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// MemoryCache is a TTL cache held in process memory.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	clock clock.Clock
}

type cacheEntry struct {
	v  models.Coord
	ts time.Time
}

// NewMemoryCache creates a cache with the provided TTL.
func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, clock: clk}
}

// Get returns the cached value and true if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (models.Coord, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return models.Coord{}, false
	}
	if c.clock.Now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return models.Coord{}, false
	}
	return e.v, true
}

func (c *MemoryCache) Set(_ context.Context, key string, v models.Coord) {
	c.mu.Lock()
	c.store[key] = cacheEntry{v: v, ts: c.clock.Now()}
	c.mu.Unlock()
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
