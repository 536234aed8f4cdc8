package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/models"
)

const engagementCols = `id, request_id, offer_id, customer_id, provider_id, service_type, address, lat, lng, price,
	scheduled_at, estimated_minutes, status, room_id, completion_reported_at, completion_images, completed_at,
	auto_completed, cancelled_by, cancelled_at, created_at, updated_at`

func (s *Store) InsertEngagement(ctx context.Context, e *models.Engagement) error {
	_, err := s.exec(ctx, `
		INSERT INTO engagements (`+engagementCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.OfferID, e.CustomerID, e.ProviderID, e.ServiceType, e.Address, e.Lat, e.Lon, e.Price,
		e.ScheduledAt, e.EstimatedMinutes, e.Status, e.RoomID, e.CompletionReportedAt, e.CompletionImages, e.CompletedAt,
		e.AutoCompleted, e.CancelledBy, e.CancelledAt, e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *Store) GetEngagement(ctx context.Context, id string) (*models.Engagement, error) {
	var e models.Engagement
	if err := s.get(ctx, &e, `SELECT `+engagementCols+` FROM engagements WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEngagementByOffer(ctx context.Context, offerID string) (*models.Engagement, error) {
	var e models.Engagement
	if err := s.get(ctx, &e, `SELECT `+engagementCols+` FROM engagements WHERE offer_id = ?`, offerID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CountEngagementsByRequest(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM engagements WHERE request_id = ?`, requestID)
	return n, err
}

func (s *Store) SetEngagementRoom(ctx context.Context, id, roomID string, now time.Time) error {
	_, err := s.exec(ctx, `UPDATE engagements SET room_id = ?, updated_at = ? WHERE id = ?`, roomID, now, id)
	return err
}

// ReportEngagementCompletion records the provider's completion report on an
// ACCEPTED engagement. The first report wins.
func (s *Store) ReportEngagementCompletion(ctx context.Context, id string, images models.StringList, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE engagements SET completion_reported_at = ?, completion_images = ?, updated_at = ?
		WHERE id = ? AND status = ? AND completion_reported_at IS NULL`,
		now, images, now, id, models.EngagementAccepted)
	return n == 1, err
}

// CompleteEngagement moves an ACCEPTED engagement to COMPLETED. Automatic
// completion additionally requires a completion report.
func (s *Store) CompleteEngagement(ctx context.Context, id string, auto bool, now time.Time) (bool, error) {
	q := `UPDATE engagements SET status = ?, completed_at = ?, auto_completed = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	if auto {
		q += ` AND completion_reported_at IS NOT NULL`
	}
	n, err := s.exec(ctx, q, models.EngagementCompleted, now, auto, now, id, models.EngagementAccepted)
	return n == 1, err
}

// CancelEngagement cancels a PENDING or ACCEPTED engagement.
func (s *Store) CancelEngagement(ctx context.Context, id, by string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE engagements SET status = ?, cancelled_by = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.EngagementCancelled, by, now, now, id, models.EngagementPending, models.EngagementAccepted)
	return n == 1, err
}

// ListAutoCompletable returns ACCEPTED engagements whose completion was
// reported before cutoff.
func (s *Store) ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int) ([]models.Engagement, error) {
	var out []models.Engagement
	err := s.sel(ctx, &out, `
		SELECT `+engagementCols+` FROM engagements
		WHERE status = ? AND completion_reported_at IS NOT NULL AND completion_reported_at < ?
		ORDER BY completion_reported_at, id
		LIMIT ?`,
		models.EngagementAccepted, cutoff, limit)
	return out, err
}
