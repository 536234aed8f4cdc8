// Package matcher picks the providers to notify about a new request. The
// result is advisory; it never gates who may submit an offer.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/geo"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
)

// Locator pre-filters located, approved providers around a point. Results
// may include providers outside the radius.
type Locator interface {
	Nearby(ctx context.Context, center models.Coord, radiusKm float64) ([]models.Provider, error)
}

// Directory lists approved providers for text matching.
type Directory interface {
	ApprovedProviders(ctx context.Context) ([]models.Provider, error)
	ApprovedProvidersWithoutLocation(ctx context.Context) ([]models.Provider, error)
}

type Service struct {
	Locator   Locator
	Directory Directory
	Policy    *config.PolicyStore
}

// FindCandidates returns provider ids eligible for req: geographic matches
// by ascending distance, then text matches by id. Ids are unique.
func (s *Service) FindCandidates(ctx context.Context, req *models.Request) ([]string, error) {
	started := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(started).Seconds()) }()

	p := s.Policy.Current()
	maxRadius := p.MaxServiceRadiusKm
	tokens := AddressTokens(req.Address, p.AddressSuffixes)

	type hit struct {
		id   string
		dist float64
	}
	var geoHits []hit
	var textHits []string
	seen := map[string]bool{}

	center, located := req.Coord()
	var textPool []models.Provider
	if located {
		near, err := s.Locator.Nearby(ctx, center, maxRadius)
		if err != nil {
			return nil, fmt.Errorf("locate providers: %w", err)
		}
		for _, pr := range near {
			c, ok := pr.Coord()
			if !ok || seen[pr.ID] || !eligible(&pr, req.ServiceType) {
				continue
			}
			d := geo.DistanceKm(center, c)
			if d > reach(pr.ServiceRangeKm, maxRadius) {
				continue
			}
			seen[pr.ID] = true
			geoHits = append(geoHits, hit{pr.ID, d})
		}
		textPool, err = s.Directory.ApprovedProvidersWithoutLocation(ctx)
		if err != nil {
			return nil, fmt.Errorf("list unlocated providers: %w", err)
		}
	} else {
		var err error
		textPool, err = s.Directory.ApprovedProviders(ctx)
		if err != nil {
			return nil, fmt.Errorf("list providers: %w", err)
		}
	}
	for _, pr := range textPool {
		if seen[pr.ID] || !eligible(&pr, req.ServiceType) {
			continue
		}
		if !TextMatch(&pr, tokens, p.AddressSuffixes) {
			continue
		}
		seen[pr.ID] = true
		textHits = append(textHits, pr.ID)
	}

	sort.Slice(geoHits, func(i, j int) bool {
		if geoHits[i].dist != geoHits[j].dist {
			return geoHits[i].dist < geoHits[j].dist
		}
		return geoHits[i].id < geoHits[j].id
	})
	sort.Strings(textHits)

	out := make([]string, 0, len(geoHits)+len(textHits))
	for _, h := range geoHits {
		out = append(out, h.id)
	}
	out = append(out, textHits...)
	observability.CandidatesFound.Observe(float64(len(out)))
	return out, nil
}

func eligible(p *models.Provider, serviceType string) bool {
	if p.Status != models.ProviderApproved {
		return false
	}
	return len(p.Specialties) == 0 || p.Specialties.Contains(serviceType)
}

// reach is the distance a provider covers; zero means the platform maximum.
func reach(serviceRangeKm, maxRadius float64) float64 {
	if serviceRangeKm <= 0 {
		return maxRadius
	}
	return min(serviceRangeKm, maxRadius)
}
