// Package quota enforces the per-provider daily offer limit. The counter is
// derived from the offers table; nothing is stored per day.
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
	"github.com/example/clean-matching/internal/storage"
)

// TierResolver yields the provider's effective tier, nil when none.
type TierResolver interface {
	EffectiveTier(ctx context.Context, providerID string) (*models.Tier, error)
}

// Usage is a point-in-time view of a provider's daily quota.
type Usage struct {
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Tier      string `json:"tier,omitempty"`
}

type Ledger struct {
	store  *storage.Store
	tiers  TierResolver
	policy *config.PolicyStore
	clock  clock.Clock
	log    *slog.Logger
}

func NewLedger(store *storage.Store, tiers TierResolver, policy *config.PolicyStore, clk clock.Clock, log *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, tiers: tiers, policy: policy, clock: clk, log: log}
}

// Usage reports today's counts without judging them.
func (l *Ledger) Usage(ctx context.Context, providerID string) (Usage, error) {
	tier, err := l.tiers.EffectiveTier(ctx, providerID)
	if err != nil {
		return Usage{}, fmt.Errorf("effective tier: %w", err)
	}
	used, err := l.UsedToday(ctx, l.store, providerID)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Used: used}
	if tier != nil {
		u.Tier = tier.Name
		u.Limit = tier.DailyOfferLimit
	}
	u.Remaining = max(u.Limit-used, 0)
	u.Allowed = used < u.Limit
	return u, nil
}

// CanSubmit is Usage plus a verdict: ErrNoSubscription when the limit is
// zero, ErrQuotaExhausted when today's offers reached it.
func (l *Ledger) CanSubmit(ctx context.Context, providerID string) (Usage, error) {
	u, err := l.Usage(ctx, providerID)
	if err != nil {
		return u, err
	}
	if u.Limit == 0 {
		return u, apperr.ErrNoSubscription
	}
	if !u.Allowed {
		return u, apperr.ErrQuotaExhausted
	}
	return u, nil
}

// UsedToday counts the provider's offers since local midnight. st may be
// bound to a transaction.
func (l *Ledger) UsedToday(ctx context.Context, st *storage.Store, providerID string) (int, error) {
	now := l.clock.Now()
	n, err := st.CountOffersSince(ctx, providerID, l.policy.Current().DayStart(now))
	if err != nil {
		return 0, fmt.Errorf("count offers: %w", err)
	}
	return n, nil
}

// Consume runs after an offer commits. The counter already includes the
// offer, so this re-reads usage and records it.
func (l *Ledger) Consume(ctx context.Context, providerID, offerID string) (Usage, error) {
	u, err := l.Usage(ctx, providerID)
	if err != nil {
		return u, err
	}
	if u.Limit > 0 {
		observability.QuotaUsed.WithLabelValues(u.Tier).Observe(float64(u.Used) / float64(u.Limit))
	}
	l.log.Debug("quota consumed", "provider_id", providerID, "offer_id", offerID, "used", u.Used, "limit", u.Limit)
	return u, nil
}
