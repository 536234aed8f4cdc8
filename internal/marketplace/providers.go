package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage"
)

// ProviderProfile is the matching-relevant profile a provider maintains.
type ProviderProfile struct {
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	ServiceRangeKm float64  `json:"service_range_km"`
	Specialties    []string `json:"specialties"`
	ServiceAreas   []string `json:"service_areas"`
}

func (in *ProviderProfile) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" {
		return apperr.Invalid("name is required")
	}
	if in.ServiceRangeKm < 0 {
		return apperr.Invalid("service_range_km must be >= 0")
	}
	for i, sp := range in.Specialties {
		in.Specialties[i] = strings.ToUpper(strings.TrimSpace(sp))
	}
	return validateCoord(in.Lat, in.Lon)
}

// UpsertProviderProfile stores the profile, geocoding the address when no
// coordinates are given. New profiles start PENDING; status is otherwise
// kept.
func (s *Service) UpsertProviderProfile(ctx context.Context, providerID string, in ProviderProfile) (*models.Provider, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Lat == nil && in.Address != "" {
		if c, ok := s.geocoder.Resolve(ctx, in.Address); ok {
			in.Lat, in.Lon = &c.Lat, &c.Lon
		}
	}
	now := s.clock.Now()
	p := &models.Provider{
		ID:             providerID,
		Name:           in.Name,
		Status:         models.ProviderPending,
		Address:        in.Address,
		Lat:            in.Lat,
		Lon:            in.Lon,
		ServiceRangeKm: in.ServiceRangeKm,
		Specialties:    models.StringList(in.Specialties),
		ServiceAreas:   models.StringList(in.ServiceAreas),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.UpsertProvider(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert provider: %w", err)
	}
	return s.reindex(ctx, providerID)
}

// ApproveProvider makes the provider eligible for matching and grants the
// trial subscription.
func (s *Service) ApproveProvider(ctx context.Context, providerID string) (*models.Provider, error) {
	if err := s.setProviderStatus(ctx, providerID, models.ProviderApproved); err != nil {
		return nil, err
	}
	if s.trials != nil {
		if _, err := s.trials.GrantTrial(ctx, providerID); err != nil {
			return nil, fmt.Errorf("grant trial: %w", err)
		}
	}
	s.log.Info("provider approved", "provider_id", providerID)
	return s.reindex(ctx, providerID)
}

// SuspendProvider removes the provider from matching and offer submission.
func (s *Service) SuspendProvider(ctx context.Context, providerID string) (*models.Provider, error) {
	if err := s.setProviderStatus(ctx, providerID, models.ProviderSuspended); err != nil {
		return nil, err
	}
	s.log.Info("provider suspended", "provider_id", providerID)
	return s.reindex(ctx, providerID)
}

func (s *Service) GetProvider(ctx context.Context, providerID string) (*models.Provider, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, notFound(err, apperr.ErrProviderNotFound)
	}
	return p, nil
}

func (s *Service) setProviderStatus(ctx context.Context, providerID string, status models.ProviderStatus) error {
	err := s.store.SetProviderStatus(ctx, providerID, status, s.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.ErrProviderNotFound
	}
	return err
}

// reindex reloads the stored profile and pushes it to the locator.
func (s *Service) reindex(ctx context.Context, providerID string) (*models.Provider, error) {
	p, err := s.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if s.index != nil {
		if err := s.index.Index(ctx, *p); err != nil {
			s.log.Warn("index provider failed", "provider_id", providerID, "err", err)
		}
	}
	return p, nil
}
