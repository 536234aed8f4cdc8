package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Fake(start)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected %v, got %v", start.Add(90*time.Minute), got)
	}
}

func TestFakeNormalizesToUTC(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	c := Fake(time.Date(2026, 3, 1, 9, 0, 0, 1500, seoul))
	now := c.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
	if now.Nanosecond() != 1000 {
		t.Fatalf("expected microsecond truncation, got %dns", now.Nanosecond())
	}
}

func TestRealIsUTC(t *testing.T) {
	if loc := Real().Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}
