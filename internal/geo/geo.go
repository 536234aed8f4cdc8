package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/clean-matching/internal/models"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.0
)

// Haversine distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceKm is Haversine over coordinates.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Box is an axis-aligned lat/lng rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoundingBox returns a box that contains every point within radiusKm of
// center. It over-approximates; callers re-check with Haversine. Near the
// poles the longitude span collapses to the full range.
func BoundingBox(center models.Coord, radiusKm float64) Box {
	dLat := radiusKm / kmPerDegree
	b := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}
	cos := math.Cos(center.Lat * math.Pi / 180)
	if cos < 1e-6 {
		return b
	}
	dLon := radiusKm / (kmPerDegree * cos)
	if dLon >= 180 {
		return b
	}
	b.MinLon = math.Max(center.Lon-dLon, -180)
	b.MaxLon = math.Min(center.Lon+dLon, 180)
	return b
}

// Contains reports whether c lies inside the box, edges included.
func (b Box) Contains(c models.Coord) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// MemoryIndex is an in-process provider locator. It backs tests and single
// node deployments that run without Redis.
type MemoryIndex struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{providers: make(map[string]models.Provider)}
}

// Index stores p when it is approved and located, and drops it otherwise.
func (g *MemoryIndex) Index(_ context.Context, p models.Provider) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := p.Coord(); !ok || p.Status != models.ProviderApproved {
		delete(g.providers, p.ID)
		return nil
	}
	g.providers[p.ID] = p
	return nil
}

// Nearby scans the index for providers inside the bounding box of radiusKm,
// closest first.
func (g *MemoryIndex) Nearby(_ context.Context, center models.Coord, radiusKm float64) ([]models.Provider, error) {
	box := BoundingBox(center, radiusKm)
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.Provider
		dist float64
	}
	arr := make([]pair, 0, len(g.providers))
	for _, p := range g.providers {
		c, _ := p.Coord()
		if !box.Contains(c) {
			continue
		}
		arr = append(arr, pair{p, DistanceKm(center, c)})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].p.ID < arr[j].p.ID
	})
	out := make([]models.Provider, 0, len(arr))
	for _, a := range arr {
		out = append(out, a.p)
	}
	return out, nil
}
