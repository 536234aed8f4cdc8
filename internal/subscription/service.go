// Package subscription manages provider tier grants. A provider may stack
// several rows; the effective tier is the highest-priority ACTIVE row whose
// period covers now, and QUEUED rows take over when coverage runs out.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage"
)

type Service struct {
	store  *storage.Store
	policy *config.PolicyStore
	clock  clock.Clock
	log    *slog.Logger
}

func NewService(store *storage.Store, policy *config.PolicyStore, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, policy: policy, clock: clk, log: log}
}

// EffectiveTier returns the tier governing the provider right now, or nil
// when no subscription covers now. A due QUEUED row is promoted on the way.
func (s *Service) EffectiveTier(ctx context.Context, providerID string) (*models.Tier, error) {
	now := s.clock.Now()
	active, err := s.store.ActiveSubscriptions(ctx, providerID, now)
	if err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}
	if len(active) == 0 {
		promoted, err := s.promote(ctx, providerID, now)
		if err != nil {
			return nil, err
		}
		if promoted == nil {
			return nil, nil
		}
		active = []models.Subscription{*promoted}
	}
	p := s.policy.Current()
	var best *models.Tier
	for _, sub := range active {
		t, ok := p.TierFor(sub.Tier)
		if !ok {
			s.log.Warn("subscription with unknown tier", "subscription_id", sub.ID, "tier", sub.Tier)
			continue
		}
		if best == nil || t.Priority > best.Priority {
			t := t
			best = &t
		}
	}
	return best, nil
}

// GrantTrial gives a newly approved provider the policy's trial tier. A
// provider gets one trial; later calls return the existing row.
func (s *Service) GrantTrial(ctx context.Context, providerID string) (*models.Subscription, error) {
	subs, err := s.store.ListSubscriptions(ctx, providerID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].Source == models.SourceTrial {
			return &subs[i], nil
		}
	}
	p := s.policy.Current()
	return s.Purchase(ctx, providerID, p.TrialTier, p.TrialMonths, models.SourceTrial)
}

// Purchase adds a period of tier. It starts now when nothing covers the
// provider, otherwise it queues behind the latest scheduled end.
func (s *Service) Purchase(ctx context.Context, providerID, tier string, months int, source string) (*models.Subscription, error) {
	t, ok := s.policy.Current().TierFor(tier)
	if !ok {
		return nil, apperr.Invalid(fmt.Sprintf("unknown tier %q", tier))
	}
	if months <= 0 {
		return nil, apperr.Invalid("months must be positive")
	}
	if source == "" {
		source = models.SourcePurchase
	}
	now := s.clock.Now()
	subs, err := s.store.ListSubscriptions(ctx, providerID)
	if err != nil {
		return nil, err
	}
	covered := false
	latestEnd := now
	for _, sub := range subs {
		switch sub.Status {
		case models.SubscriptionActive:
			if sub.Covers(now) {
				covered = true
			}
		case models.SubscriptionPaused:
			covered = true
		case models.SubscriptionQueued:
		default:
			continue
		}
		if sub.CurrentPeriodEnd.After(latestEnd) {
			latestEnd = sub.CurrentPeriodEnd
		}
	}
	sub := &models.Subscription{
		ID:           uuid.NewString(),
		ProviderID:   providerID,
		Tier:         t.Name,
		PeriodMonths: months,
		Source:       source,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if covered {
		sub.Status = models.SubscriptionQueued
		sub.CurrentPeriodStart = latestEnd
	} else {
		sub.Status = models.SubscriptionActive
		sub.CurrentPeriodStart = now
	}
	sub.CurrentPeriodEnd = sub.CurrentPeriodStart.AddDate(0, months, 0)
	if err := s.store.InsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	s.log.Info("subscription added", "provider_id", providerID, "subscription_id", sub.ID, "tier", sub.Tier, "status", sub.Status, "source", source)
	return sub, nil
}

// Extend pushes the end of a live subscription out by months.
func (s *Service) Extend(ctx context.Context, id string, months int) (*models.Subscription, error) {
	if months <= 0 {
		return nil, apperr.Invalid("months must be positive")
	}
	return s.mutate(ctx, id, func(sub *models.Subscription, _ time.Time) error {
		if sub.Status == models.SubscriptionExpired {
			return apperr.ErrSubscriptionState
		}
		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.AddDate(0, months, 0)
		sub.PeriodMonths += months
		return nil
	})
}

// Pause freezes an ACTIVE subscription. The paused time is added back to
// the period on Resume.
func (s *Service) Pause(ctx context.Context, id string) (*models.Subscription, error) {
	return s.mutate(ctx, id, func(sub *models.Subscription, now time.Time) error {
		if sub.Status != models.SubscriptionActive {
			return apperr.ErrSubscriptionState
		}
		sub.Status = models.SubscriptionPaused
		sub.PausedAt = &now
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	return s.mutate(ctx, id, func(sub *models.Subscription, now time.Time) error {
		if sub.Status != models.SubscriptionPaused || sub.PausedAt == nil {
			return apperr.ErrSubscriptionState
		}
		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(now.Sub(*sub.PausedAt))
		sub.Status = models.SubscriptionActive
		sub.PausedAt = nil
		return nil
	})
}

// Cancel expires the row immediately. History is kept.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Subscription, error) {
	return s.mutate(ctx, id, func(sub *models.Subscription, now time.Time) error {
		if sub.Status == models.SubscriptionExpired {
			return apperr.ErrSubscriptionState
		}
		sub.Status = models.SubscriptionExpired
		sub.CancelledAt = &now
		return nil
	})
}

// ChangeTier is the admin override: every ACTIVE row is expired and a fresh
// ADMIN row of tier starts now.
func (s *Service) ChangeTier(ctx context.Context, providerID, tier string, months int) (*models.Subscription, error) {
	t, ok := s.policy.Current().TierFor(tier)
	if !ok {
		return nil, apperr.Invalid(fmt.Sprintf("unknown tier %q", tier))
	}
	if months <= 0 {
		months = 1
	}
	now := s.clock.Now()
	sub := &models.Subscription{
		ID:                 uuid.NewString(),
		ProviderID:         providerID,
		Tier:               t.Name,
		Status:             models.SubscriptionActive,
		PeriodMonths:       months,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, months, 0),
		Source:             models.SourceAdmin,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.store.WithTx(ctx, func(tx *storage.Store) error {
		if _, err := tx.ExpireActiveSubscriptions(ctx, providerID, now); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("change tier: %w", err)
	}
	s.log.Info("tier changed", "provider_id", providerID, "tier", sub.Tier, "subscription_id", sub.ID)
	return sub, nil
}

// PromoteDue activates the next QUEUED row when nothing covers the provider.
func (s *Service) PromoteDue(ctx context.Context, providerID string) (*models.Subscription, error) {
	now := s.clock.Now()
	active, err := s.store.ActiveSubscriptions(ctx, providerID, now)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, nil
	}
	return s.promote(ctx, providerID, now)
}

// ExpireLapsed expires one ACTIVE row whose period has ended. It reports
// false when the row was already moved by someone else.
func (s *Service) ExpireLapsed(ctx context.Context, sub models.Subscription) (bool, error) {
	now := s.clock.Now()
	if !sub.CurrentPeriodEnd.Before(now) {
		return false, nil
	}
	sub.Status = models.SubscriptionExpired
	sub.UpdatedAt = now
	return s.store.SaveSubscription(ctx, &sub, models.SubscriptionActive)
}

// Lapsed lists ACTIVE rows past their end.
func (s *Service) Lapsed(ctx context.Context, limit int) ([]models.Subscription, error) {
	return s.store.ListLapsedSubscriptions(ctx, s.clock.Now(), limit)
}

// ProvidersDueForPromotion lists providers whose queued row can take over
// now.
func (s *Service) ProvidersDueForPromotion(ctx context.Context, limit int) ([]string, error) {
	return s.store.ProvidersDueForPromotion(ctx, s.clock.Now(), limit)
}

func (s *Service) List(ctx context.Context, providerID string) ([]models.Subscription, error) {
	return s.store.ListSubscriptions(ctx, providerID)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrSubscriptionNotFound
	}
	return sub, err
}

// promote flips the earliest QUEUED row to ACTIVE, restarting its period at
// now with the same length. Paused coverage blocks promotion.
func (s *Service) promote(ctx context.Context, providerID string, now time.Time) (*models.Subscription, error) {
	paused, err := s.store.ListSubscriptionsByStatus(ctx, providerID, models.SubscriptionPaused)
	if err != nil {
		return nil, err
	}
	if len(paused) > 0 {
		return nil, nil
	}
	queued, err := s.store.ListSubscriptionsByStatus(ctx, providerID, models.SubscriptionQueued)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, nil
	}
	next := queued[0]
	length := next.CurrentPeriodEnd.Sub(next.CurrentPeriodStart)
	next.Status = models.SubscriptionActive
	next.CurrentPeriodStart = now
	next.CurrentPeriodEnd = now.Add(length)
	next.UpdatedAt = now
	ok, err := s.store.SaveSubscription(ctx, &next, models.SubscriptionQueued)
	if err != nil {
		return nil, fmt.Errorf("promote subscription: %w", err)
	}
	if !ok {
		// promoted concurrently
		active, err := s.store.ActiveSubscriptions(ctx, providerID, now)
		if err != nil || len(active) == 0 {
			return nil, err
		}
		return &active[0], nil
	}
	s.log.Info("subscription promoted", "provider_id", providerID, "subscription_id", next.ID, "tier", next.Tier)
	return &next, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(sub *models.Subscription, now time.Time) error) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	expect := sub.Status
	if err := fn(sub, now); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	ok, err := s.store.SaveSubscription(ctx, sub, expect)
	if err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	if !ok {
		return nil, apperr.ErrSubscriptionState
	}
	return sub, nil
}
