// Package sweeper runs the time-driven lifecycle passes. Every pass selects
// by a status-guarded predicate, so re-running it is a no-op for rows it
// already moved, and isolates items so one failure never stops the batch.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
	"github.com/example/clean-matching/internal/points"
	"github.com/example/clean-matching/internal/storage"
)

// Sweep names, also used as metric labels and lock keys.
const (
	SweepOffers        = "expire_offers"
	SweepRequests      = "expire_requests"
	SweepAutoComplete  = "auto_complete"
	SweepSubscriptions = "subscriptions"
)

const defaultBatch = 500

// Report summarizes one pass.
type Report struct {
	Sweep     string `json:"sweep"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// Subscriptions is the part of the subscription stack the daily pass drives.
type Subscriptions interface {
	Lapsed(ctx context.Context, limit int) ([]models.Subscription, error)
	ExpireLapsed(ctx context.Context, sub models.Subscription) (bool, error)
	ProvidersDueForPromotion(ctx context.Context, limit int) ([]string, error)
	PromoteDue(ctx context.Context, providerID string) (*models.Subscription, error)
}

type Sweeper struct {
	store  *storage.Store
	subs   Subscriptions
	points points.Ledger
	notify dispatch.Notifier
	policy *config.PolicyStore
	clock  clock.Clock
	log    *slog.Logger

	// BatchSize caps the rows one pass selects; the rest wait for the next run.
	BatchSize int
}

func New(store *storage.Store, subs Subscriptions, pts points.Ledger, notify dispatch.Notifier, policy *config.PolicyStore, clk clock.Clock, log *slog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, subs: subs, points: pts, notify: notify, policy: policy, clock: clk, log: log, BatchSize: defaultBatch}
}

// ExpireOffers rejects SUBMITTED offers older than the offer TTL and frees
// their request slot. Points are refunded only after the rejection commits;
// a refund that fails is retried on the next run.
func (s *Sweeper) ExpireOffers(ctx context.Context) Report {
	rep := Report{Sweep: SweepOffers}
	now := s.clock.Now()
	stale, err := s.store.ListStaleOffers(ctx, now.Add(-s.policy.Current().OfferTTL), s.BatchSize)
	if err != nil {
		return s.selectFailed(rep, err)
	}
	for _, o := range stale {
		s.each(ctx, &rep, "offer_id", o.ID, func(ctx context.Context) (bool, error) {
			return s.expireOffer(ctx, o)
		})
	}
	s.refundExpired(ctx, &rep)
	return s.done(rep)
}

func (s *Sweeper) expireOffer(ctx context.Context, o models.Offer) (bool, error) {
	now := s.clock.Now()
	var moved bool
	err := s.store.WithTx(ctx, func(tx *storage.Store) error {
		var err error
		moved, err = tx.TransitionOffer(ctx, o.ID, models.OfferSubmitted, models.OfferRejected, models.RejectExpired, now)
		if err != nil || !moved {
			return err
		}
		return tx.ReleaseOfferSlot(ctx, o.RequestID, now)
	})
	if err != nil || !moved {
		return false, err
	}
	observability.OffersRejected.WithLabelValues(models.RejectExpired).Inc()
	if s.notify != nil {
		s.notify.NotifyOne(ctx, o.ProviderID, dispatch.Notice{
			Kind:  dispatch.KindOfferExpired,
			Title: "Offer expired",
			Body:  "Your offer was not answered in time.",
			Data:  map[string]string{"request_id": o.RequestID, "offer_id": o.ID},
		})
	}
	return true, nil
}

// refundExpired returns points for expired offers whose refund is not yet
// journaled. Offers that lost the race to acceptance are never selected.
func (s *Sweeper) refundExpired(ctx context.Context, rep *Report) {
	if s.points == nil {
		return
	}
	owed, err := s.store.ListUnrefundedExpiredOffers(ctx, points.KindRefund, s.BatchSize)
	if err != nil {
		rep.Failed++
		s.log.Error("sweep select failed", "sweep", rep.Sweep, "err", err)
		return
	}
	for _, o := range owed {
		s.each(ctx, rep, "offer_id", o.ID, func(ctx context.Context) (bool, error) {
			if err := s.points.Refund(ctx, o.ProviderID, o.PointsUsed, "offer expired", o.ID); err != nil {
				return false, fmt.Errorf("refund: %w", err)
			}
			return false, nil
		})
	}
}

// ExpireRequests expires OPEN requests past the request TTL in one bulk
// update. No offer was accepted on them, so nothing else changes.
func (s *Sweeper) ExpireRequests(ctx context.Context) Report {
	rep := Report{Sweep: SweepRequests}
	now := s.clock.Now()
	n, err := s.store.ExpireOpenRequests(ctx, now.Add(-s.policy.Current().RequestTTL), now)
	if err != nil {
		return s.selectFailed(rep, err)
	}
	rep.Processed = int(n)
	return s.done(rep)
}

// AutoComplete completes ACCEPTED engagements whose completion report has
// waited longer than the confirmation TTL.
func (s *Sweeper) AutoComplete(ctx context.Context) Report {
	rep := Report{Sweep: SweepAutoComplete}
	now := s.clock.Now()
	due, err := s.store.ListAutoCompletable(ctx, now.Add(-s.policy.Current().CompletionConfirmTTL), s.BatchSize)
	if err != nil {
		return s.selectFailed(rep, err)
	}
	for _, e := range due {
		s.each(ctx, &rep, "engagement_id", e.ID, func(ctx context.Context) (bool, error) {
			ok, err := s.store.CompleteEngagement(ctx, e.ID, true, s.clock.Now())
			if err != nil || !ok {
				return false, err
			}
			if s.notify != nil {
				s.notify.NotifyMany(ctx, []string{e.CustomerID, e.ProviderID}, dispatch.Notice{
					Kind:  dispatch.KindEngagementCompleted,
					Title: "Job completed",
					Body:  "The job was confirmed automatically.",
					Data:  map[string]string{"engagement_id": e.ID, "auto": "true"},
				})
			}
			return true, nil
		})
	}
	return s.done(rep)
}

// Subscriptions expires lapsed ACTIVE rows and promotes due QUEUED rows.
func (s *Sweeper) Subscriptions(ctx context.Context) Report {
	rep := Report{Sweep: SweepSubscriptions}
	lapsed, err := s.subs.Lapsed(ctx, s.BatchSize)
	if err != nil {
		return s.selectFailed(rep, err)
	}
	for _, sub := range lapsed {
		s.each(ctx, &rep, "subscription_id", sub.ID, func(ctx context.Context) (bool, error) {
			return s.subs.ExpireLapsed(ctx, sub)
		})
	}
	providers, err := s.subs.ProvidersDueForPromotion(ctx, s.BatchSize)
	if err != nil {
		rep.Failed++
		s.log.Error("sweep select failed", "sweep", rep.Sweep, "err", err)
		return s.done(rep)
	}
	for _, id := range providers {
		s.each(ctx, &rep, "provider_id", id, func(ctx context.Context) (bool, error) {
			promoted, err := s.subs.PromoteDue(ctx, id)
			return promoted != nil, err
		})
	}
	return s.done(rep)
}

// each runs fn under the per-item timeout. An item that errors or times
// out is logged and left for the next run.
func (s *Sweeper) each(ctx context.Context, rep *Report, key, id string, fn func(ctx context.Context) (bool, error)) {
	itemCtx, cancel := context.WithTimeout(ctx, s.policy.Current().SweepItemTimeout)
	defer cancel()
	moved, err := fn(itemCtx)
	if err != nil {
		rep.Failed++
		msg := "sweep item failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "sweep item timed out"
		}
		s.log.Warn(msg, "sweep", rep.Sweep, key, id, "err", err)
		return
	}
	if moved {
		rep.Processed++
	}
}

func (s *Sweeper) selectFailed(rep Report, err error) Report {
	rep.Failed++
	s.log.Error("sweep select failed", "sweep", rep.Sweep, "err", err)
	return s.done(rep)
}

func (s *Sweeper) done(rep Report) Report {
	observability.SweepProcessed.WithLabelValues(rep.Sweep).Add(float64(rep.Processed))
	observability.SweepFailed.WithLabelValues(rep.Sweep).Add(float64(rep.Failed))
	if rep.Processed > 0 || rep.Failed > 0 {
		s.log.Info("sweep finished", "sweep", rep.Sweep, "processed", rep.Processed, "failed", rep.Failed)
	}
	return rep
}

// Hourly runs the offer and request expiry passes.
func (s *Sweeper) Hourly(ctx context.Context) []Report {
	return []Report{s.ExpireOffers(ctx), s.ExpireRequests(ctx)}
}

// Daily runs auto-completion and the subscription pass.
func (s *Sweeper) Daily(ctx context.Context) []Report {
	return []Report{s.AutoComplete(ctx), s.Subscriptions(ctx)}
}
