package storage

import (
	"context"
	"time"

	"github.com/example/clean-matching/internal/models"
)

const subscriptionCols = `id, provider_id, tier, status, period_months, current_period_start, current_period_end,
	paused_at, cancelled_at, source, created_at, updated_at`

func (s *Store) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ProviderID, sub.Tier, sub.Status, sub.PeriodMonths, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.PausedAt, sub.CancelledAt, sub.Source, sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.get(ctx, &sub, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns the provider's full history, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, providerID string) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.sel(ctx, &out, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE provider_id = ?
		ORDER BY created_at, id`, providerID)
	return out, err
}

// ActiveSubscriptions returns ACTIVE rows whose period contains at.
func (s *Store) ActiveSubscriptions(ctx context.Context, providerID string, at time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.sel(ctx, &out, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE provider_id = ? AND status = ? AND current_period_start <= ? AND current_period_end >= ?
		ORDER BY current_period_start, id`,
		providerID, models.SubscriptionActive, at, at)
	return out, err
}

// ListSubscriptionsByStatus returns the provider's rows in one status,
// earliest period first.
func (s *Store) ListSubscriptionsByStatus(ctx context.Context, providerID string, status models.SubscriptionStatus) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.sel(ctx, &out, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE provider_id = ? AND status = ?
		ORDER BY current_period_start, id`,
		providerID, status)
	return out, err
}

// SaveSubscription writes the mutable fields of sub when its stored status
// still equals expect. It reports false when another writer got there first.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription, expect models.SubscriptionStatus) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE subscriptions SET
			tier = ?, status = ?, period_months = ?, current_period_start = ?, current_period_end = ?,
			paused_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		sub.Tier, sub.Status, sub.PeriodMonths, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.PausedAt, sub.CancelledAt, sub.UpdatedAt, sub.ID, expect)
	return n == 1, err
}

// ExpireActiveSubscriptions expires every ACTIVE row of the provider.
func (s *Store) ExpireActiveSubscriptions(ctx context.Context, providerID string, now time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE subscriptions SET status = ?, updated_at = ?
		WHERE provider_id = ? AND status = ?`,
		models.SubscriptionExpired, now, providerID, models.SubscriptionActive)
}

// ListLapsedSubscriptions returns ACTIVE rows whose period ended before now.
func (s *Store) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.sel(ctx, &out, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE status = ? AND current_period_end < ?
		ORDER BY current_period_end, id
		LIMIT ?`,
		models.SubscriptionActive, now, limit)
	return out, err
}

// ProvidersDueForPromotion lists providers holding a QUEUED row and nothing
// that blocks its promotion at now: no ACTIVE row covering now and no
// PAUSED row.
func (s *Store) ProvidersDueForPromotion(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var out []string
	err := s.sel(ctx, &out, `
		SELECT DISTINCT q.provider_id FROM subscriptions q
		WHERE q.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM subscriptions c
			WHERE c.provider_id = q.provider_id
			AND (c.status = ? OR (c.status = ? AND c.current_period_start <= ? AND c.current_period_end >= ?))
		)
		ORDER BY q.provider_id
		LIMIT ?`,
		models.SubscriptionQueued, models.SubscriptionPaused, models.SubscriptionActive, now, now, limit)
	return out, err
}
