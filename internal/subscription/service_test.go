package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/logging"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage/storagetest"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(start)
	svc := NewService(storagetest.New(t), config.StaticPolicy(config.DefaultPolicy()), clk, logging.Discard())
	return svc, clk
}

func TestNoSubscriptionMeansNoTier(t *testing.T) {
	svc, _ := newService(t)
	tier, err := svc.EffectiveTier(context.Background(), "p1")
	if err != nil || tier != nil {
		t.Fatalf("expected nil tier, got %+v %v", tier, err)
	}
}

func TestHighestPriorityWins(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for i, tier := range []string{models.TierBasic, models.TierPremium, models.TierPro} {
		err := svc.store.InsertSubscription(ctx, &models.Subscription{
			ID: fmt.Sprintf("s%d", i), ProviderID: "p1", Tier: tier, Status: models.SubscriptionActive, PeriodMonths: 1,
			CurrentPeriodStart: start.Add(-time.Hour), CurrentPeriodEnd: start.AddDate(0, 1, 0),
			Source: models.SourceAdmin, CreatedAt: start, UpdatedAt: start,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	tier, err := svc.EffectiveTier(ctx, "p1")
	if err != nil || tier == nil || tier.Name != models.TierPremium || tier.DailyOfferLimit != 30 {
		t.Fatalf("expected PREMIUM, got %+v %v", tier, err)
	}
}

func TestChangeTierExpiresActiveRows(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	trial, err := svc.GrantTrial(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)
	if _, err := svc.ChangeTier(ctx, "p1", models.TierPro, 1); err != nil {
		t.Fatal(err)
	}
	tier, _ := svc.EffectiveTier(ctx, "p1")
	if tier == nil || tier.Name != models.TierPro {
		t.Fatalf("expected PRO, got %+v", tier)
	}
	got, _ := svc.Get(ctx, trial.ID)
	if got.Status != models.SubscriptionExpired {
		t.Fatalf("expected trial expired by tier change, got %s", got.Status)
	}
	subs, _ := svc.List(ctx, "p1")
	if len(subs) != 2 || subs[1].Source != models.SourceAdmin {
		t.Fatalf("expected history kept, got %+v", subs)
	}
}

func TestGrantTrialOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, err := svc.GrantTrial(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.GrantTrial(ctx, "p1")
	if err != nil || a.ID != b.ID {
		t.Fatalf("expected same trial, got %v / %v (%v)", a.ID, b.ID, err)
	}
}

func TestPurchaseQueuesAndPromotesOnRead(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	trial, _ := svc.GrantTrial(ctx, "p1")
	queued, err := svc.Purchase(ctx, "p1", models.TierPremium, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if queued.Status != models.SubscriptionQueued || !queued.CurrentPeriodStart.Equal(trial.CurrentPeriodEnd) {
		t.Fatalf("expected queued behind trial, got %+v", queued)
	}
	if tier, _ := svc.EffectiveTier(ctx, "p1"); tier.Name != models.TierBasic {
		t.Fatalf("queued row must not apply early, got %+v", tier)
	}

	clk.Set(trial.CurrentPeriodEnd.Add(time.Minute))
	tier, err := svc.EffectiveTier(ctx, "p1")
	if err != nil || tier == nil || tier.Name != models.TierPremium {
		t.Fatalf("expected promotion to PREMIUM, got %+v %v", tier, err)
	}
	got, _ := svc.Get(ctx, queued.ID)
	if got.Status != models.SubscriptionActive || !got.CurrentPeriodStart.Equal(clk.Now()) {
		t.Fatalf("unexpected promoted row %+v", got)
	}
	if got.CurrentPeriodEnd.Sub(got.CurrentPeriodStart) != queued.CurrentPeriodEnd.Sub(queued.CurrentPeriodStart) {
		t.Fatal("promotion must keep the purchased length")
	}
}

func TestPauseResumeShiftsEnd(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	sub, _ := svc.GrantTrial(ctx, "p1")
	originalEnd := sub.CurrentPeriodEnd

	if _, err := svc.Pause(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if tier, _ := svc.EffectiveTier(ctx, "p1"); tier != nil {
		t.Fatalf("paused subscription must not grant a tier, got %+v", tier)
	}
	if _, err := svc.Pause(ctx, sub.ID); !errors.Is(err, apperr.ErrSubscriptionState) {
		t.Fatalf("expected state error, got %v", err)
	}
	clk.Advance(72 * time.Hour)
	resumed, err := svc.Resume(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !resumed.CurrentPeriodEnd.Equal(originalEnd.Add(72*time.Hour)) || resumed.PausedAt != nil {
		t.Fatalf("unexpected resumed row %+v", resumed)
	}
}

func TestPausedCoverageBlocksPromotion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sub, _ := svc.GrantTrial(ctx, "p1")
	if _, err := svc.Purchase(ctx, "p1", models.TierPro, 1, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Pause(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	promoted, err := svc.PromoteDue(ctx, "p1")
	if err != nil || promoted != nil {
		t.Fatalf("expected no promotion while paused, got %+v %v", promoted, err)
	}
}

func TestExtendCancelAndExpire(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	sub, _ := svc.GrantTrial(ctx, "p1")
	ext, err := svc.Extend(ctx, sub.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !ext.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd.AddDate(0, 2, 0)) || ext.PeriodMonths != 3 {
		t.Fatalf("unexpected extension %+v", ext)
	}

	clk.Set(ext.CurrentPeriodEnd.Add(time.Hour))
	lapsed, _ := svc.Lapsed(ctx, 10)
	if len(lapsed) != 1 {
		t.Fatalf("expected one lapsed row, got %d", len(lapsed))
	}
	if ok, err := svc.ExpireLapsed(ctx, lapsed[0]); err != nil || !ok {
		t.Fatalf("expire: %v %v", ok, err)
	}
	if ok, _ := svc.ExpireLapsed(ctx, lapsed[0]); ok {
		t.Fatal("second expiry must be a no-op")
	}
	if _, err := svc.Cancel(ctx, sub.ID); !errors.Is(err, apperr.ErrSubscriptionState) {
		t.Fatalf("expired rows cannot be cancelled, got %v", err)
	}

	other, _ := svc.Purchase(ctx, "p2", models.TierPro, 1, "")
	cancelled, err := svc.Cancel(ctx, other.ID)
	if err != nil || cancelled.Status != models.SubscriptionExpired || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancel %+v %v", cancelled, err)
	}
}

func TestPurchaseValidation(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Purchase(context.Background(), "p1", "GOLD", 1, ""); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected invalid tier, got %v", err)
	}
	if _, err := svc.Extend(context.Background(), "missing", 1); !errors.Is(err, apperr.ErrSubscriptionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
