package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/geo"
	"github.com/example/clean-matching/internal/models"
)

const providerCols = `id, name, status, address, lat, lng, service_range_km, specialties, service_areas, engagement_count, created_at, updated_at`

// UpsertProvider inserts a PENDING profile or updates the matching fields of
// an existing one. Status and engagement_count are left alone on update.
func (s *Store) UpsertProvider(ctx context.Context, p *models.Provider) error {
	_, err := s.exec(ctx, `
		INSERT INTO providers (`+providerCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			lat = excluded.lat,
			lng = excluded.lng,
			service_range_km = excluded.service_range_km,
			specialties = excluded.specialties,
			service_areas = excluded.service_areas,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Status, p.Address, p.Lat, p.Lon, p.ServiceRangeKm, p.Specialties, p.ServiceAreas,
		p.EngagementCount, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var p models.Provider
	if err := s.get(ctx, &p, `SELECT `+providerCols+` FROM providers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProvidersByIDs returns the profiles that exist, in id order.
func (s *Store) ProvidersByIDs(ctx context.Context, ids []string) ([]models.Provider, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := s.in(`SELECT `+providerCols+` FROM providers WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var out []models.Provider
	if err := s.sel(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetProviderStatus(ctx context.Context, id string, status models.ProviderStatus, now time.Time) error {
	n, err := s.exec(ctx, `UPDATE providers SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LockProvider takes the provider's row lock for the rest of the transaction.
func (s *Store) LockProvider(ctx context.Context, id string, now time.Time) error {
	n, err := s.exec(ctx, `UPDATE providers SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IncrementEngagementCount(ctx context.Context, id string, now time.Time) error {
	_, err := s.exec(ctx, `UPDATE providers SET engagement_count = engagement_count + 1, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// Nearby returns approved providers inside the bounding box of radiusKm
// around center. Distances are not checked here.
func (s *Store) Nearby(ctx context.Context, center models.Coord, radiusKm float64) ([]models.Provider, error) {
	box := geo.BoundingBox(center, radiusKm)
	var out []models.Provider
	err := s.sel(ctx, &out, `
		SELECT `+providerCols+` FROM providers
		WHERE status = ? AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
		ORDER BY id`,
		models.ProviderApproved, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	return out, err
}

// ApprovedProviders lists every approved provider. Used by the text matcher
// when the request has no coordinates.
func (s *Store) ApprovedProviders(ctx context.Context) ([]models.Provider, error) {
	var out []models.Provider
	err := s.sel(ctx, &out, `SELECT `+providerCols+` FROM providers WHERE status = ? ORDER BY id`, models.ProviderApproved)
	return out, err
}

// ApprovedProvidersWithoutLocation lists approved providers that were never
// geocoded and so can only match by text.
func (s *Store) ApprovedProvidersWithoutLocation(ctx context.Context) ([]models.Provider, error) {
	var out []models.Provider
	err := s.sel(ctx, &out, `
		SELECT `+providerCols+` FROM providers
		WHERE status = ? AND (lat IS NULL OR lng IS NULL)
		ORDER BY id`, models.ProviderApproved)
	return out, err
}
