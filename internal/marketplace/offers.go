package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
	"github.com/example/clean-matching/internal/points"
	"github.com/example/clean-matching/internal/storage"
)

// NewOffer is the provider-supplied part of an Offer.
type NewOffer struct {
	Price            int64      `json:"price"`
	Message          string     `json:"message"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	AvailableAt      *time.Time `json:"available_at,omitempty"`
	Images           []string   `json:"images"`
}

func (in *NewOffer) validate() error {
	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.Price <= 0:
		return apperr.Invalid("price must be > 0")
	case in.EstimatedMinutes < 0:
		return apperr.Invalid("estimated_minutes must be >= 0")
	}
	return nil
}

// SubmitOffer places a provider's bid on an open request. The pre-checks
// give each refusal its own error; the transaction re-checks quota under the
// provider row lock and claims the slot with a guarded update, and the
// (request, provider) unique key settles concurrent duplicates.
func (s *Service) SubmitOffer(ctx context.Context, providerID, requestID string, in NewOffer) (*models.Offer, error) {
	o, err := s.submitOffer(ctx, providerID, requestID, in)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			observability.OfferDenied.WithLabelValues(ae.Code).Inc()
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) submitOffer(ctx context.Context, providerID, requestID string, in NewOffer) (*models.Offer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	prov, err := s.store.GetProvider(ctx, providerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if prov == nil || prov.Status != models.ProviderApproved {
		return nil, apperr.ErrProviderNotApproved
	}
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestOpen {
		return nil, apperr.ErrRequestNotOpen
	}
	exists, err := s.store.OfferExists(ctx, requestID, providerID)
	if err != nil {
		return nil, fmt.Errorf("offer exists: %w", err)
	}
	if exists {
		return nil, apperr.ErrOfferExists
	}
	if req.OfferCount >= req.MaxOffers {
		return nil, apperr.ErrOfferLimitReached
	}
	usage, err := s.quota.CanSubmit(ctx, providerID)
	if err != nil {
		return nil, err
	}
	cost := s.policy.Current().OfferPointCost
	if cost > 0 && s.points != nil {
		bal, err := s.points.Balance(ctx, providerID)
		if err != nil {
			return nil, fmt.Errorf("point balance: %w", err)
		}
		if bal < cost {
			return nil, apperr.ErrInsufficientPoints
		}
	}

	now := s.clock.Now()
	offer := &models.Offer{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		ProviderID:       providerID,
		Price:            in.Price,
		Message:          in.Message,
		EstimatedMinutes: in.EstimatedMinutes,
		AvailableAt:      in.AvailableAt,
		Images:           models.StringList(in.Images),
		Status:           models.OfferSubmitted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.store.WithTx(ctx, func(tx *storage.Store) error {
		if err := tx.LockProvider(ctx, providerID, now); err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		used, err := s.quota.UsedToday(ctx, tx, providerID)
		if err != nil {
			return err
		}
		if used >= usage.Limit {
			return apperr.ErrQuotaExhausted
		}
		claimed, err := tx.ClaimOfferSlot(ctx, requestID, now)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if !claimed {
			cur, err := tx.GetRequest(ctx, requestID)
			if err != nil {
				return notFound(err, apperr.ErrRequestNotFound)
			}
			if cur.Status != models.RequestOpen {
				return apperr.ErrRequestNotOpen
			}
			return apperr.ErrOfferLimitReached
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.ErrOfferExists
			}
			return fmt.Errorf("insert offer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.OffersSubmitted.Inc()
	s.log.Info("offer submitted", "offer_id", offer.ID, "request_id", requestID, "provider_id", providerID, "price", offer.Price)

	if cost > 0 && s.points != nil {
		s.chargeOffer(ctx, offer, cost)
	}
	if _, err := s.quota.Consume(ctx, providerID, offer.ID); err != nil {
		s.log.Warn("quota consume failed", "offer_id", offer.ID, "err", err)
	}
	s.notify.NotifyOne(ctx, req.CustomerID, dispatch.Notice{
		Kind:  dispatch.KindOfferReceived,
		Title: "New offer received",
		Body:  fmt.Sprintf("%s offered %d", prov.Name, offer.Price),
		Data:  map[string]string{"request_id": requestID, "offer_id": offer.ID},
	})
	return offer, nil
}

// chargeOffer debits the offer cost after commit. A failed debit leaves the
// offer in place with points_used 0, so nothing is refunded later.
func (s *Service) chargeOffer(ctx context.Context, o *models.Offer, cost int64) {
	if err := s.points.Debit(ctx, o.ProviderID, cost, "offer submitted", o.ID); err != nil {
		msg := "points debit failed"
		if errors.Is(err, points.ErrInsufficient) {
			msg = "points debit refused"
		}
		s.log.Warn(msg, "offer_id", o.ID, "provider_id", o.ProviderID, "amount", cost, "err", err)
		return
	}
	if err := s.store.SetOfferPointsUsed(ctx, o.ID, cost, s.clock.Now()); err != nil {
		s.log.Error("record points used failed", "offer_id", o.ID, "amount", cost, "err", err)
		return
	}
	o.PointsUsed = cost
}

// RejectOffer declines a single submitted offer and frees its slot on the
// request. Sibling offers and the request status are untouched.
func (s *Service) RejectOffer(ctx context.Context, customerID, offerID string) (*models.Offer, error) {
	offer, req, err := s.ownedOffer(ctx, customerID, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.OfferSubmitted {
		return nil, apperr.ErrOfferProcessed
	}
	now := s.clock.Now()
	err = s.store.WithTx(ctx, func(tx *storage.Store) error {
		ok, err := tx.TransitionOffer(ctx, offerID, models.OfferSubmitted, models.OfferRejected, models.RejectByCustomer, now)
		if err != nil {
			return fmt.Errorf("reject offer: %w", err)
		}
		if !ok {
			return apperr.ErrOfferProcessed
		}
		return tx.ReleaseOfferSlot(ctx, req.ID, now)
	})
	if err != nil {
		return nil, err
	}
	offer.Status = models.OfferRejected
	offer.RejectReason = models.RejectByCustomer
	offer.UpdatedAt = now
	observability.OffersRejected.WithLabelValues(models.RejectByCustomer).Inc()

	s.notify.NotifyOne(ctx, offer.ProviderID, dispatch.Notice{
		Kind:  dispatch.KindOfferRejected,
		Title: "Offer declined",
		Body:  "The customer declined your offer.",
		Data:  map[string]string{"request_id": req.ID, "offer_id": offer.ID},
	})
	return offer, nil
}

// ownedOffer loads an offer and its request and checks the customer owns
// the request.
func (s *Service) ownedOffer(ctx context.Context, customerID, offerID string) (*models.Offer, *models.Request, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, notFound(err, apperr.ErrOfferNotFound)
	}
	req, err := s.GetRequest(ctx, offer.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if req.CustomerID != customerID {
		return nil, nil, apperr.ErrForbidden
	}
	return offer, req, nil
}
