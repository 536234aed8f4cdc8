package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/models"
)

const offerCols = `id, request_id, provider_id, price, message, estimated_minutes, available_at, images, status,
	reject_reason, points_used, created_at, updated_at`

func (s *Store) InsertOffer(ctx context.Context, o *models.Offer) error {
	_, err := s.exec(ctx, `
		INSERT INTO offers (`+offerCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RequestID, o.ProviderID, o.Price, o.Message, o.EstimatedMinutes, o.AvailableAt, o.Images, o.Status,
		o.RejectReason, o.PointsUsed, o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var o models.Offer
	if err := s.get(ctx, &o, `SELECT `+offerCols+` FROM offers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) OfferExists(ctx context.Context, requestID, providerID string) (bool, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM offers WHERE request_id = ? AND provider_id = ?`, requestID, providerID)
	return n > 0, err
}

// CountOffersSince counts the provider's offers created at or after since,
// whatever their status. This is the quota counter.
func (s *Store) CountOffersSince(ctx context.Context, providerID string, since time.Time) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM offers WHERE provider_id = ? AND created_at >= ?`, providerID, since)
	return n, err
}

func (s *Store) ListOffersByRequest(ctx context.Context, requestID string) ([]models.Offer, error) {
	var out []models.Offer
	err := s.sel(ctx, &out, `SELECT `+offerCols+` FROM offers WHERE request_id = ? ORDER BY created_at, id`, requestID)
	return out, err
}

func (s *Store) ListOffersByProvider(ctx context.Context, providerID string) ([]models.Offer, error) {
	var out []models.Offer
	err := s.sel(ctx, &out, `SELECT `+offerCols+` FROM offers WHERE provider_id = ? ORDER BY created_at DESC, id`, providerID)
	return out, err
}

// TransitionOffer moves an offer from one status to another and reports
// whether this call performed the move.
func (s *Store) TransitionOffer(ctx context.Context, id string, from, to models.OfferStatus, reason string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE offers SET status = ?, reject_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, reason, now, id, from)
	return n == 1, err
}

// RejectSiblings rejects every other SUBMITTED offer on the request and
// returns the rows it rejected.
func (s *Store) RejectSiblings(ctx context.Context, requestID, winnerID, reason string, now time.Time) ([]models.Offer, error) {
	var losers []models.Offer
	if err := s.sel(ctx, &losers, `
		SELECT `+offerCols+` FROM offers
		WHERE request_id = ? AND id <> ? AND status = ?
		ORDER BY id`,
		requestID, winnerID, models.OfferSubmitted); err != nil {
		return nil, err
	}
	if len(losers) == 0 {
		return nil, nil
	}
	if _, err := s.exec(ctx, `
		UPDATE offers SET status = ?, reject_reason = ?, updated_at = ?
		WHERE request_id = ? AND id <> ? AND status = ?`,
		models.OfferRejected, reason, now, requestID, winnerID, models.OfferSubmitted); err != nil {
		return nil, err
	}
	for i := range losers {
		losers[i].Status = models.OfferRejected
		losers[i].RejectReason = reason
		losers[i].UpdatedAt = now
	}
	return losers, nil
}

// ListStaleOffers returns SUBMITTED offers created before cutoff, oldest first.
func (s *Store) ListStaleOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.Offer, error) {
	var out []models.Offer
	err := s.sel(ctx, &out, `
		SELECT `+offerCols+` FROM offers
		WHERE status = ? AND created_at < ?
		ORDER BY created_at, id
		LIMIT ?`,
		models.OfferSubmitted, cutoff, limit)
	return out, err
}

// ListUnrefundedExpiredOffers returns expired offers that cost points but have
// no refund journaled under refundKind yet.
func (s *Store) ListUnrefundedExpiredOffers(ctx context.Context, refundKind string, limit int) ([]models.Offer, error) {
	var out []models.Offer
	err := s.sel(ctx, &out, `
		SELECT `+offerCols+` FROM offers o
		WHERE o.status = ? AND o.reject_reason = ? AND o.points_used > 0
		  AND NOT EXISTS (
			SELECT 1 FROM point_transactions t
			WHERE t.kind = ? AND t.related_id = o.id
		  )
		ORDER BY o.updated_at, o.id
		LIMIT ?`,
		models.OfferRejected, models.RejectExpired, refundKind, limit)
	return out, err
}

func (s *Store) SetOfferPointsUsed(ctx context.Context, id string, points int64, now time.Time) error {
	_, err := s.exec(ctx, `UPDATE offers SET points_used = ?, updated_at = ? WHERE id = ?`, points, now, id)
	return err
}
