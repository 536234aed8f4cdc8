package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage"
	"github.com/example/clean-matching/internal/storage/storagetest"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func seedRequest(t *testing.T, st *storage.Store, id string, maxOffers int, created time.Time) *models.Request {
	t.Helper()
	r := &models.Request{
		ID: id, CustomerID: "c1", ServiceType: "HOME", Address: "서울 강남구 역삼동 1",
		Lat: f(37.5), Lon: f(127.03), Checklist: models.Checklist{"windows": true},
		Images: models.StringList{"a.jpg"}, Status: models.RequestOpen, MaxOffers: maxOffers,
		CreatedAt: created, UpdatedAt: created,
	}
	if err := st.InsertRequest(context.Background(), r); err != nil {
		t.Fatalf("insert request: %v", err)
	}
	return r
}

func seedOffer(t *testing.T, st *storage.Store, id, requestID, providerID string, created time.Time) *models.Offer {
	t.Helper()
	o := &models.Offer{
		ID: id, RequestID: requestID, ProviderID: providerID, Price: 50000,
		Status: models.OfferSubmitted, CreatedAt: created, UpdatedAt: created,
	}
	if err := st.InsertOffer(context.Background(), o); err != nil {
		t.Fatalf("insert offer: %v", err)
	}
	return o
}

func TestRequestRoundTrip(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 5, t0)

	got, err := st.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(t0) || got.Status != models.RequestOpen || !got.Checklist["windows"] {
		t.Fatalf("unexpected request %+v", got)
	}
	if c, ok := got.Coord(); !ok || c.Lat != 37.5 {
		t.Fatalf("expected coordinates, got %+v", c)
	}
	if got.AreaSize != nil || got.ClosedAt != nil {
		t.Fatalf("expected nil optionals, got %+v", got)
	}
	if _, err := st.GetRequest(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateWindowAndOpenCount(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 5, t0)

	dup, err := st.HasRecentDuplicate(ctx, "c1", "HOME", "서울 강남구 역삼동 1", t0.Add(-time.Hour))
	if err != nil || !dup {
		t.Fatalf("expected duplicate, got %v %v", dup, err)
	}
	dup, err = st.HasRecentDuplicate(ctx, "c1", "HOME", "서울 강남구 역삼동 1", t0.Add(time.Second))
	if err != nil || dup {
		t.Fatalf("expected no duplicate after window, got %v %v", dup, err)
	}
	if n, _ := st.CountOpenRequests(ctx, "c1"); n != 1 {
		t.Fatalf("expected 1 open, got %d", n)
	}
	if ok, _ := st.CloseRequest(ctx, "r1", t0); !ok {
		t.Fatal("expected close")
	}
	if ok, _ := st.CloseRequest(ctx, "r1", t0); ok {
		t.Fatal("expected second close to be a no-op")
	}
	if n, _ := st.CountOpenRequests(ctx, "c1"); n != 0 {
		t.Fatalf("expected 0 open, got %d", n)
	}
}

func TestClaimOfferSlotRespectsLimit(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 2, t0)

	for i := 0; i < 2; i++ {
		if ok, err := st.ClaimOfferSlot(ctx, "r1", t0); err != nil || !ok {
			t.Fatalf("claim %d: %v %v", i, ok, err)
		}
	}
	if ok, _ := st.ClaimOfferSlot(ctx, "r1", t0); ok {
		t.Fatal("expected third claim to fail")
	}
	if err := st.ReleaseOfferSlot(ctx, "r1", t0); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.ClaimOfferSlot(ctx, "r1", t0); !ok {
		t.Fatal("expected claim after release")
	}
}

func TestOfferUniquePerProvider(t *testing.T) {
	st := storagetest.New(t)
	seedRequest(t, st, "r1", 5, t0)
	seedOffer(t, st, "o1", "r1", "p1", t0)

	err := st.InsertOffer(context.Background(), &models.Offer{
		ID: "o2", RequestID: "r1", ProviderID: "p1", Status: models.OfferSubmitted, CreatedAt: t0, UpdatedAt: t0,
	})
	if !storage.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestRejectSiblings(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 5, t0)
	seedOffer(t, st, "o1", "r1", "p1", t0)
	seedOffer(t, st, "o2", "r1", "p2", t0)
	seedOffer(t, st, "o3", "r1", "p3", t0)
	if ok, _ := st.TransitionOffer(ctx, "o3", models.OfferSubmitted, models.OfferRejected, models.RejectByCustomer, t0); !ok {
		t.Fatal("expected o3 rejected")
	}

	err := st.WithTx(ctx, func(tx *storage.Store) error {
		if ok, err := tx.TransitionOffer(ctx, "o1", models.OfferSubmitted, models.OfferAccepted, "", t0); err != nil || !ok {
			t.Fatalf("accept: %v %v", ok, err)
		}
		losers, err := tx.RejectSiblings(ctx, "r1", "o1", models.RejectAcceptedOther, t0)
		if err != nil {
			return err
		}
		if len(losers) != 1 || losers[0].ID != "o2" {
			t.Fatalf("expected o2 as only loser, got %+v", losers)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	o3, _ := st.GetOffer(ctx, "o3")
	if o3.RejectReason != models.RejectByCustomer {
		t.Fatalf("expected earlier rejection kept, got %q", o3.RejectReason)
	}
	o2, _ := st.GetOffer(ctx, "o2")
	if o2.Status != models.OfferRejected || o2.RejectReason != models.RejectAcceptedOther {
		t.Fatalf("unexpected o2 %+v", o2)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *storage.Store) error {
		seedRequest(t, tx, "r1", 5, t0)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := st.GetRequest(ctx, "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestCountOffersSince(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 5, t0)
	seedRequest(t, st, "r2", 5, t0)
	seedOffer(t, st, "o1", "r1", "p1", t0.Add(-25*time.Hour))
	seedOffer(t, st, "o2", "r2", "p1", t0.Add(500*time.Millisecond))

	n, err := st.CountOffersSince(ctx, "p1", t0)
	if err != nil || n != 1 {
		t.Fatalf("expected 1, got %d %v", n, err)
	}
	n, _ = st.CountOffersSince(ctx, "p1", t0.Add(-48*time.Hour))
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestExpireAndStaleQueries(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "old", 5, t0.Add(-8*24*time.Hour))
	seedRequest(t, st, "new", 5, t0)
	seedOffer(t, st, "o-old", "new", "p1", t0.Add(-73*time.Hour))
	seedOffer(t, st, "o-new", "new", "p2", t0)

	n, err := st.ExpireOpenRequests(ctx, t0.Add(-7*24*time.Hour), t0)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d %v", n, err)
	}
	old, _ := st.GetRequest(ctx, "old")
	if old.Status != models.RequestExpired || old.ClosedAt == nil {
		t.Fatalf("unexpected %+v", old)
	}
	stale, err := st.ListStaleOffers(ctx, t0.Add(-72*time.Hour), 10)
	if err != nil || len(stale) != 1 || stale[0].ID != "o-old" {
		t.Fatalf("unexpected stale offers %+v %v", stale, err)
	}
}

func TestProvidersNearbyAndUpsert(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	for _, p := range []models.Provider{
		{ID: "p1", Status: models.ProviderApproved, Lat: f(37.55), Lon: f(127.04), Specialties: models.StringList{"HOME"}},
		{ID: "p2", Status: models.ProviderApproved, Lat: f(35.1), Lon: f(129.0)},
		{ID: "p3", Status: models.ProviderApproved, ServiceAreas: models.StringList{"강남"}},
		{ID: "p4", Status: models.ProviderPending, Lat: f(37.5), Lon: f(127.03)},
	} {
		p := p
		p.CreatedAt, p.UpdatedAt = t0, t0
		if err := st.UpsertProvider(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}
	near, err := st.Nearby(ctx, models.Coord{Lat: 37.5, Lon: 127.03}, 50)
	if err != nil || len(near) != 1 || near[0].ID != "p1" {
		t.Fatalf("unexpected nearby %+v %v", near, err)
	}
	if !near[0].Specialties.Contains("HOME") {
		t.Fatalf("expected specialties decoded, got %v", near[0].Specialties)
	}
	noLoc, _ := st.ApprovedProvidersWithoutLocation(ctx)
	if len(noLoc) != 1 || noLoc[0].ID != "p3" {
		t.Fatalf("unexpected providers without location %+v", noLoc)
	}

	// upsert keeps status
	if err := st.UpsertProvider(ctx, &models.Provider{ID: "p4", Name: "renamed", Status: models.ProviderApproved, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	p4, _ := st.GetProvider(ctx, "p4")
	if p4.Name != "renamed" || p4.Status != models.ProviderPending {
		t.Fatalf("unexpected upsert result %+v", p4)
	}
	byIDs, _ := st.ProvidersByIDs(ctx, []string{"p3", "p1", "zz"})
	if len(byIDs) != 2 || byIDs[0].ID != "p1" {
		t.Fatalf("unexpected ProvidersByIDs %+v", byIDs)
	}
}

func TestSubscriptionQueries(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	active := &models.Subscription{
		ID: "s1", ProviderID: "p1", Tier: models.TierBasic, Status: models.SubscriptionActive, PeriodMonths: 1,
		CurrentPeriodStart: t0.Add(-24 * time.Hour), CurrentPeriodEnd: t0.Add(24 * time.Hour),
		Source: models.SourceTrial, CreatedAt: t0, UpdatedAt: t0,
	}
	queued := &models.Subscription{
		ID: "s2", ProviderID: "p1", Tier: models.TierPro, Status: models.SubscriptionQueued, PeriodMonths: 1,
		CurrentPeriodStart: t0.Add(24 * time.Hour), CurrentPeriodEnd: t0.Add(31 * 24 * time.Hour),
		Source: models.SourcePurchase, CreatedAt: t0, UpdatedAt: t0,
	}
	for _, s := range []*models.Subscription{active, queued} {
		if err := st.InsertSubscription(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.ActiveSubscriptions(ctx, "p1", t0)
	if err != nil || len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("unexpected active %+v %v", got, err)
	}
	if got, _ := st.ActiveSubscriptions(ctx, "p1", t0.Add(48*time.Hour)); len(got) != 0 {
		t.Fatalf("expected no coverage after end, got %+v", got)
	}
	lapsed, _ := st.ListLapsedSubscriptions(ctx, t0.Add(48*time.Hour), 10)
	if len(lapsed) != 1 {
		t.Fatalf("expected lapsed s1, got %+v", lapsed)
	}
	if covered, _ := st.ProvidersDueForPromotion(ctx, t0, 10); len(covered) != 0 {
		t.Fatalf("queued row behind coverage is not due, got %v", covered)
	}
	providers, _ := st.ProvidersDueForPromotion(ctx, t0.Add(48*time.Hour), 10)
	if len(providers) != 1 || providers[0] != "p1" {
		t.Fatalf("unexpected %v", providers)
	}

	queued.Status = models.SubscriptionActive
	if ok, _ := st.SaveSubscription(ctx, queued, models.SubscriptionQueued); !ok {
		t.Fatal("expected promotion")
	}
	if ok, _ := st.SaveSubscription(ctx, queued, models.SubscriptionQueued); ok {
		t.Fatal("expected stale save to fail")
	}
}

func TestEngagementTransitions(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedRequest(t, st, "r1", 5, t0)
	seedOffer(t, st, "o1", "r1", "p1", t0)
	e := &models.Engagement{
		ID: "e1", RequestID: "r1", OfferID: "o1", CustomerID: "c1", ProviderID: "p1", ServiceType: "HOME",
		Address: "addr", Price: 50000, Status: models.EngagementAccepted, CreatedAt: t0, UpdatedAt: t0,
	}
	if err := st.InsertEngagement(ctx, e); err != nil {
		t.Fatal(err)
	}
	dupe := *e
	dupe.ID = "e2"
	if err := st.InsertEngagement(ctx, &dupe); !storage.IsUniqueViolation(err) {
		t.Fatalf("expected one engagement per offer, got %v", err)
	}
	if ok, _ := st.CompleteEngagement(ctx, "e1", true, t0); ok {
		t.Fatal("auto completion needs a report")
	}
	if ok, _ := st.ReportEngagementCompletion(ctx, "e1", models.StringList{"done.jpg"}, t0); !ok {
		t.Fatal("expected report")
	}
	due, _ := st.ListAutoCompletable(ctx, t0.Add(time.Minute), 10)
	if len(due) != 1 {
		t.Fatalf("expected e1 due, got %+v", due)
	}
	if ok, _ := st.CompleteEngagement(ctx, "e1", true, t0); !ok {
		t.Fatal("expected auto completion")
	}
	got, _ := st.GetEngagement(ctx, "e1")
	if got.Status != models.EngagementCompleted || !got.AutoCompleted || got.CompletionImages[0] != "done.jpg" {
		t.Fatalf("unexpected %+v", got)
	}
	if ok, _ := st.CancelEngagement(ctx, "e1", "c1", t0); ok {
		t.Fatal("completed engagements cannot be cancelled")
	}
}

func TestNotificationsIdempotent(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	n := &models.Notification{ID: "n1", UserID: "u1", Kind: "OFFER_RECEIVED", Data: models.StringMap{"offer_id": "o1"}, CreatedAt: t0}
	if ok, err := st.InsertNotification(ctx, n); err != nil || !ok {
		t.Fatalf("insert: %v %v", ok, err)
	}
	if ok, err := st.InsertNotification(ctx, n); err != nil || ok {
		t.Fatalf("redelivery should be ignored: %v %v", ok, err)
	}
	list, _ := st.ListNotifications(ctx, "u1", 10)
	if len(list) != 1 || list[0].Data["offer_id"] != "o1" {
		t.Fatalf("unexpected %+v", list)
	}
	if err := st.MarkNotificationRead(ctx, "u1", "n1", t0); err != nil {
		t.Fatal(err)
	}
}
