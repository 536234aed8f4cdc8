package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
	"github.com/example/clean-matching/internal/storage"
)

// AcceptOffer turns a submitted offer into an engagement. In one
// transaction the offer is accepted, the request closed, every other
// submitted offer rejected, the engagement inserted and the provider's
// engagement count bumped; all of it commits or none does. The chat room
// and notifications follow the commit.
func (s *Service) AcceptOffer(ctx context.Context, customerID, offerID string) (*models.Engagement, error) {
	offer, req, err := s.ownedOffer(ctx, customerID, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.OfferSubmitted {
		return nil, apperr.ErrOfferProcessed
	}

	now := s.clock.Now()
	eng := &models.Engagement{
		ID:               uuid.NewString(),
		RequestID:        req.ID,
		OfferID:          offer.ID,
		CustomerID:       req.CustomerID,
		ProviderID:       offer.ProviderID,
		ServiceType:      req.ServiceType,
		Address:          req.Address,
		Lat:              req.Lat,
		Lon:              req.Lon,
		Price:            offer.Price,
		ScheduledAt:      scheduleOf(req, offer),
		EstimatedMinutes: offer.EstimatedMinutes,
		Status:           models.EngagementAccepted,
		CompletionImages: models.StringList{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	var losers []models.Offer
	err = s.store.WithTx(ctx, func(tx *storage.Store) error {
		ok, err := tx.TransitionOffer(ctx, offer.ID, models.OfferSubmitted, models.OfferAccepted, "", now)
		if err != nil {
			return fmt.Errorf("accept offer: %w", err)
		}
		if !ok {
			return apperr.ErrOfferProcessed
		}
		if ok, err = tx.CloseRequest(ctx, req.ID, now); err != nil {
			return fmt.Errorf("close request: %w", err)
		}
		if !ok {
			return apperr.ErrRequestNotOpen
		}
		if losers, err = tx.RejectSiblings(ctx, req.ID, offer.ID, models.RejectAcceptedOther, now); err != nil {
			return fmt.Errorf("reject siblings: %w", err)
		}
		for range losers {
			if err := tx.ReleaseOfferSlot(ctx, req.ID, now); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		if err := tx.InsertEngagement(ctx, eng); err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.ErrOfferProcessed
			}
			return fmt.Errorf("insert engagement: %w", err)
		}
		if err := tx.IncrementEngagementCount(ctx, offer.ProviderID, now); err != nil {
			return fmt.Errorf("engagement count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.OffersAccepted.Inc()
	if len(losers) > 0 {
		observability.OffersRejected.WithLabelValues(models.RejectAcceptedOther).Add(float64(len(losers)))
	}
	s.log.Info("offer accepted", "offer_id", offer.ID, "request_id", req.ID, "engagement_id", eng.ID, "rejected", len(losers))

	s.openRoom(ctx, eng)
	s.announceAcceptance(ctx, eng, losers)
	return eng, nil
}

// scheduleOf prefers the provider's availability over the customer's wish.
func scheduleOf(req *models.Request, offer *models.Offer) *time.Time {
	if offer.AvailableAt != nil {
		return offer.AvailableAt
	}
	return req.DesiredAt
}

// openRoom provisions the chat room. Failure leaves the engagement without
// a room; the room can be opened later since provisioning is idempotent.
func (s *Service) openRoom(ctx context.Context, eng *models.Engagement) {
	if s.rooms == nil {
		return
	}
	roomID, err := s.rooms.OpenRoom(ctx, eng.ID, eng.CustomerID, eng.ProviderID)
	if err != nil {
		s.log.Error("open room failed", "engagement_id", eng.ID, "err", err)
		return
	}
	if err := s.store.SetEngagementRoom(ctx, eng.ID, roomID, s.clock.Now()); err != nil {
		s.log.Error("record room failed", "engagement_id", eng.ID, "room_id", roomID, "err", err)
		return
	}
	eng.RoomID = roomID
}

func (s *Service) announceAcceptance(ctx context.Context, eng *models.Engagement, losers []models.Offer) {
	data := map[string]string{"request_id": eng.RequestID, "engagement_id": eng.ID}
	if eng.RoomID != "" {
		data["room_id"] = eng.RoomID
	}
	s.notify.NotifyOne(ctx, eng.CustomerID, dispatch.Notice{
		Kind:  dispatch.KindEngagementCreated,
		Title: "Booking confirmed",
		Body:  fmt.Sprintf("%s at %s is booked.", eng.ServiceType, eng.Address),
		Data:  data,
	})
	s.notify.NotifyOne(ctx, eng.ProviderID, dispatch.Notice{
		Kind:  dispatch.KindOfferAccepted,
		Title: "Your offer was accepted",
		Body:  fmt.Sprintf("%s at %s for %d.", eng.ServiceType, eng.Address, eng.Price),
		Data:  data,
	})
	if len(losers) == 0 {
		return
	}
	ids := make([]string, 0, len(losers))
	for _, o := range losers {
		ids = append(ids, o.ProviderID)
	}
	s.notify.NotifyMany(ctx, ids, dispatch.Notice{
		Kind:  dispatch.KindOfferRejected,
		Title: "Request closed",
		Body:  "The customer chose another offer.",
		Data:  map[string]string{"request_id": eng.RequestID, "reason": models.RejectAcceptedOther},
	})
}
