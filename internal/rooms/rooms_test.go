package rooms

import (
	"context"
	"testing"

	"github.com/example/clean-matching/internal/storage/storagetest"
)

func TestOpenRoomOncePerEngagement(t *testing.T) {
	st := storagetest.New(t)
	p := NewSQLProvisioner(st.DB(), nil)
	ctx := context.Background()

	first, err := p.OpenRoom(ctx, "e1", "c1", "p1")
	if err != nil || first == "" {
		t.Fatalf("open: %q %v", first, err)
	}
	again, err := p.OpenRoom(ctx, "e1", "c1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("expected same room, got %s and %s", first, again)
	}
	other, _ := p.OpenRoom(ctx, "e2", "c1", "p1")
	if other == first {
		t.Fatal("expected a new room for another engagement")
	}
}
