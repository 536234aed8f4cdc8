package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
	"github.com/example/clean-matching/internal/storage"
)

// NewRequest is the customer-supplied part of a Request.
type NewRequest struct {
	ServiceType string           `json:"service_type"`
	Address     string           `json:"address"`
	Lat         *float64         `json:"lat,omitempty"`
	Lon         *float64         `json:"lon,omitempty"`
	AreaSize    *float64         `json:"area_size,omitempty"`
	DesiredAt   *time.Time       `json:"desired_at,omitempty"`
	Description string           `json:"description"`
	Budget      int64            `json:"budget"`
	Checklist   models.Checklist `json:"checklist"`
	Images      []string         `json:"images"`
	MaxOffers   int              `json:"max_offers"`
}

func (in *NewRequest) validate() error {
	in.ServiceType = strings.ToUpper(strings.TrimSpace(in.ServiceType))
	in.Address = strings.TrimSpace(in.Address)
	switch {
	case in.ServiceType == "":
		return apperr.Invalid("service_type is required")
	case in.Address == "":
		return apperr.Invalid("address is required")
	case in.Budget < 0:
		return apperr.Invalid("budget must be >= 0")
	case in.MaxOffers < 0:
		return apperr.Invalid("max_offers must be >= 0")
	case in.AreaSize != nil && *in.AreaSize <= 0:
		return apperr.Invalid("area_size must be > 0")
	}
	return validateCoord(in.Lat, in.Lon)
}

func validateCoord(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return apperr.Invalid("lat and lon must be given together")
	}
	if lat != nil && (*lat < -90 || *lat > 90 || *lon < -180 || *lon > 180) {
		return apperr.Invalid("coordinates out of range")
	}
	return nil
}

// CreateRequest opens a request for the customer and alerts matching
// providers. Coordinates are resolved before the insert when absent; an
// unresolved address leaves the request on the text matching path.
func (s *Service) CreateRequest(ctx context.Context, customerID string, in NewRequest) (*models.Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := s.policy.Current()
	if in.Lat == nil {
		if c, ok := s.geocoder.Resolve(ctx, in.Address); ok {
			in.Lat, in.Lon = &c.Lat, &c.Lon
		}
	}
	maxOffers := in.MaxOffers
	if maxOffers == 0 {
		maxOffers = p.DefaultMaxOffers
	}

	now := s.clock.Now()
	req := &models.Request{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		ServiceType: in.ServiceType,
		Address:     in.Address,
		Lat:         in.Lat,
		Lon:         in.Lon,
		AreaSize:    in.AreaSize,
		DesiredAt:   in.DesiredAt,
		Description: in.Description,
		Budget:      in.Budget,
		Checklist:   in.Checklist,
		Images:      models.StringList(in.Images),
		Status:      models.RequestOpen,
		MaxOffers:   maxOffers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithTx(ctx, func(tx *storage.Store) error {
		open, err := tx.CountOpenRequests(ctx, customerID)
		if err != nil {
			return fmt.Errorf("count open requests: %w", err)
		}
		if open >= p.MaxOpenRequests {
			return apperr.ErrOpenRequestLimit
		}
		if p.DuplicateWindow > 0 {
			dup, err := tx.HasRecentDuplicate(ctx, customerID, req.ServiceType, req.Address, now.Add(-p.DuplicateWindow))
			if err != nil {
				return fmt.Errorf("duplicate check: %w", err)
			}
			if dup {
				return apperr.ErrDuplicateRequest
			}
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	s.log.Info("request created", "request_id", req.ID, "customer_id", customerID, "service_type", req.ServiceType, "located", req.Lat != nil)

	s.alertCandidates(ctx, req)
	return req, nil
}

func (s *Service) alertCandidates(ctx context.Context, req *models.Request) {
	ids, err := s.matcher.FindCandidates(ctx, req)
	if err != nil {
		s.log.Warn("find candidates failed", "request_id", req.ID, "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	s.notify.NotifyMany(ctx, ids, dispatch.Notice{
		Kind:  dispatch.KindRequestCreated,
		Title: "New cleaning request nearby",
		Body:  fmt.Sprintf("%s at %s", req.ServiceType, req.Address),
		Data:  map[string]string{"request_id": req.ID, "service_type": req.ServiceType},
	})
}

func (s *Service) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrRequestNotFound)
	}
	return req, nil
}

func (s *Service) ListMyRequests(ctx context.Context, customerID string) ([]models.Request, error) {
	return s.store.ListRequestsByCustomer(ctx, customerID)
}

// Candidates recomputes the providers a request would alert. Owner only.
func (s *Service) Candidates(ctx context.Context, customerID, requestID string) ([]string, error) {
	req, err := s.ownedRequest(ctx, customerID, requestID)
	if err != nil {
		return nil, err
	}
	return s.matcher.FindCandidates(ctx, req)
}

// ListOffers returns the offers on a request. Owner only.
func (s *Service) ListOffers(ctx context.Context, customerID, requestID string) ([]models.Offer, error) {
	if _, err := s.ownedRequest(ctx, customerID, requestID); err != nil {
		return nil, err
	}
	return s.store.ListOffersByRequest(ctx, requestID)
}

func (s *Service) ListMyOffers(ctx context.Context, providerID string) ([]models.Offer, error) {
	return s.store.ListOffersByProvider(ctx, providerID)
}

func (s *Service) ownedRequest(ctx context.Context, customerID, requestID string) (*models.Request, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customerID {
		return nil, apperr.ErrForbidden
	}
	return req, nil
}
