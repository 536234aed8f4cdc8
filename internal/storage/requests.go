package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/models"
)

const requestCols = `id, customer_id, service_type, address, lat, lng, area_size, desired_at, description, budget,
	checklist, images, status, max_offers, offer_count, created_at, closed_at, updated_at`

func (s *Store) InsertRequest(ctx context.Context, r *models.Request) error {
	_, err := s.exec(ctx, `
		INSERT INTO requests (`+requestCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CustomerID, r.ServiceType, r.Address, r.Lat, r.Lon, r.AreaSize, r.DesiredAt, r.Description, r.Budget,
		r.Checklist, r.Images, r.Status, r.MaxOffers, r.OfferCount, r.CreatedAt, r.ClosedAt, r.UpdatedAt)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	var r models.Request
	if err := s.get(ctx, &r, `SELECT `+requestCols+` FROM requests WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequestsByCustomer returns the customer's requests, newest first.
func (s *Store) ListRequestsByCustomer(ctx context.Context, customerID string) ([]models.Request, error) {
	var out []models.Request
	err := s.sel(ctx, &out, `SELECT `+requestCols+` FROM requests WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
	return out, err
}

func (s *Store) CountOpenRequests(ctx context.Context, customerID string) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM requests WHERE customer_id = ? AND status = ?`, customerID, models.RequestOpen)
	return n, err
}

// HasRecentDuplicate reports a request with the same customer, service type
// and address created at or after since, whatever its status.
func (s *Store) HasRecentDuplicate(ctx context.Context, customerID, serviceType, address string, since time.Time) (bool, error) {
	var n int
	err := s.get(ctx, &n, `
		SELECT COUNT(*) FROM requests
		WHERE customer_id = ? AND service_type = ? AND address = ? AND created_at >= ?`,
		customerID, serviceType, address, since)
	return n > 0, err
}

// ClaimOfferSlot increments offer_count when the request is still OPEN and
// below max_offers. It reports false when no slot was taken.
func (s *Store) ClaimOfferSlot(ctx context.Context, requestID string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE requests SET offer_count = offer_count + 1, updated_at = ?
		WHERE id = ? AND status = ? AND offer_count < max_offers`,
		now, requestID, models.RequestOpen)
	return n == 1, err
}

// ReleaseOfferSlot gives back a slot after an offer leaves SUBMITTED
// without being accepted.
func (s *Store) ReleaseOfferSlot(ctx context.Context, requestID string, now time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE requests SET offer_count = offer_count - 1, updated_at = ?
		WHERE id = ? AND offer_count > 0`, now, requestID)
	return err
}

// CloseRequest moves an OPEN request to CLOSED. It reports false when the
// request was not OPEN.
func (s *Store) CloseRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE requests SET status = ?, closed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.RequestClosed, now, now, id, models.RequestOpen)
	return n == 1, err
}

// ExpireOpenRequests marks every OPEN request created before cutoff EXPIRED
// in one statement.
func (s *Store) ExpireOpenRequests(ctx context.Context, cutoff, now time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE requests SET status = ?, closed_at = ?, updated_at = ?
		WHERE status = ? AND created_at < ?`,
		models.RequestExpired, now, now, models.RequestOpen, cutoff)
}
