package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage/storagetest"
)

// fakeChannel implements dispatch.Channel for tests
type fakeChannel struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(context.Context, models.Notification) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("send fail")
	}
	return nil
}

func TestDeliverWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeChannel{fail: 2}
	start := time.Now()
	if err := deliverWithRetry(context.Background(), f, models.Notification{ID: "n1", UserID: "u1"}, 3, 5*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestDeliverWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeChannel{fail: 5}
	if err := deliverWithRetry(context.Background(), f, models.Notification{ID: "n1", UserID: "u1"}, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestDeliverWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeChannel{fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := deliverWithRetry(ctx, f, models.Notification{ID: "n1"}, 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls)
	}
}

func TestDecodeNotification(t *testing.T) {
	if _, err := decodeNotification([]byte("{")); err == nil {
		t.Fatal("expected a json error")
	}
	if _, err := decodeNotification([]byte(`{"id":"n1"}`)); err == nil {
		t.Fatal("expected an error without user_id")
	}
	n, err := decodeNotification([]byte(`{"id":"n1","user_id":"u1","kind":"OFFER_RECEIVED"}`))
	if err != nil || n.Kind != dispatch.KindOfferReceived {
		t.Fatalf("unexpected %+v %v", n, err)
	}
}

func TestRedeliveryStoresOnce(t *testing.T) {
	st := storagetest.New(t)
	ch := dispatch.StoreChannel{Store: st}
	n := models.Notification{ID: "n1", UserID: "u1", Kind: dispatch.KindOfferExpired, CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	for i := 0; i < 2; i++ {
		if err := deliverWithRetry(context.Background(), ch, n, 1, 0); err != nil {
			t.Fatal(err)
		}
	}
	list, err := st.ListNotifications(context.Background(), "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one stored notification, got %d", len(list))
	}
}
