package quota

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
	"github.com/example/clean-matching/internal/storage"
	"github.com/example/clean-matching/internal/storage/storagetest"
)

type fixedTier struct{ tier *models.Tier }

func (f fixedTier) EffectiveTier(context.Context, string) (*models.Tier, error) { return f.tier, nil }

func seoulPolicy(t *testing.T) *config.PolicyStore {
	t.Helper()
	p := config.DefaultPolicy()
	p.Timezone = "Asia/Seoul"
	return config.StaticPolicy(p)
}

func addOffer(t *testing.T, st *storage.Store, n int, providerID string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	reqID := fmt.Sprintf("r%d", n)
	if err := st.InsertRequest(ctx, &models.Request{ID: reqID, CustomerID: "c", ServiceType: "HOME", Address: "a", Status: models.RequestOpen, MaxOffers: 5, CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertOffer(ctx, &models.Offer{ID: fmt.Sprintf("o%d", n), RequestID: reqID, ProviderID: providerID, Status: models.OfferSubmitted, CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
}

func TestNoSubscriptionIsDistinctFromExhausted(t *testing.T) {
	st := storagetest.New(t)
	l := NewLedger(st, fixedTier{}, config.StaticPolicy(config.DefaultPolicy()), clock.Fake(time.Now()), logging.Discard())
	u, err := l.CanSubmit(context.Background(), "p1")
	if !errors.Is(err, apperr.ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}
	if u.Allowed || u.Limit != 0 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestQuotaMonotonicWithinDay(t *testing.T) {
	st := storagetest.New(t)
	// 2026-03-02 10:00 KST
	clk := clock.Fake(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	l := NewLedger(st, fixedTier{&models.Tier{Name: models.TierBasic, DailyOfferLimit: 3}}, seoulPolicy(t), clk, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := l.CanSubmit(ctx, "p1")
		if err != nil || u.Used != i || u.Remaining != 3-i {
			t.Fatalf("step %d: %+v %v", i, u, err)
		}
		addOffer(t, st, i, "p1", clk.Now())
		if _, err := l.Consume(ctx, "p1", fmt.Sprintf("o%d", i)); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Minute)
	}
	u, err := l.CanSubmit(ctx, "p1")
	if !errors.Is(err, apperr.ErrQuotaExhausted) || u.Used != 3 || u.Remaining != 0 {
		t.Fatalf("expected exhausted, got %+v %v", u, err)
	}
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	st := storagetest.New(t)
	// 23:59 KST on 2026-03-02
	clk := clock.Fake(time.Date(2026, 3, 2, 14, 59, 0, 0, time.UTC))
	l := NewLedger(st, fixedTier{&models.Tier{Name: models.TierBasic, DailyOfferLimit: 1}}, seoulPolicy(t), clk, logging.Discard())
	ctx := context.Background()

	addOffer(t, st, 1, "p1", clk.Now())
	if _, err := l.CanSubmit(ctx, "p1"); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("expected exhausted before midnight, got %v", err)
	}
	clk.Advance(time.Minute) // 00:00 KST
	u, err := l.CanSubmit(ctx, "p1")
	if err != nil || u.Used != 0 {
		t.Fatalf("expected fresh day, got %+v %v", u, err)
	}
	// UTC midnight is still mid-day in Seoul and must not reset anything
	addOffer(t, st, 2, "p1", clk.Now())
	clk.Set(time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC))
	if _, err := l.CanSubmit(ctx, "p1"); !errors.Is(err, apperr.ErrQuotaExhausted) {
		t.Fatalf("expected exhausted after UTC midnight, got %v", err)
	}
}
