package points

import (
	"context"
	"errors"
	"testing"

	"github.com/example/clean-matching/internal/storage/storagetest"
)

func TestLedgerIdempotentMovements(t *testing.T) {
	st := storagetest.New(t)
	l := NewSQLLedger(st.DB(), nil)
	ctx := context.Background()

	if err := l.Debit(ctx, "p1", 10, "offer", "o1"); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	if err := l.Grant(ctx, "p1", 100, "purchase", "order-1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Grant(ctx, "p1", 100, "purchase", "order-1"); err != nil {
		t.Fatal(err)
	}
	// the failed debit did not consume its key
	for i := 0; i < 2; i++ {
		if err := l.Debit(ctx, "p1", 10, "offer", "o1"); err != nil {
			t.Fatal(err)
		}
	}
	if b, _ := l.Balance(ctx, "p1"); b != 90 {
		t.Fatalf("expected 90, got %d", b)
	}
	for i := 0; i < 3; i++ {
		if err := l.Refund(ctx, "p1", 10, "offer expired", "o1"); err != nil {
			t.Fatal(err)
		}
	}
	if b, _ := l.Balance(ctx, "p1"); b != 100 {
		t.Fatalf("expected 100 after single refund, got %d", b)
	}
}
