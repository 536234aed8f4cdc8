package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicyFileOverlaysDefaults(t *testing.T) {
	path := writePolicy(t, `
max_open_requests: 5
offer_ttl: 24h
timezone: Asia/Seoul
tiers:
  PRO:
    daily_offer_limit: 12
    priority: 2
`)
	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.MaxOpenRequests != 5 {
		t.Fatalf("expected 5 open requests, got %d", p.MaxOpenRequests)
	}
	if p.OfferTTL != 24*time.Hour {
		t.Fatalf("expected 24h offer ttl, got %v", p.OfferTTL)
	}
	if p.RequestTTL != 7*24*time.Hour {
		t.Fatalf("expected default request ttl, got %v", p.RequestTTL)
	}
	pro, ok := p.TierFor("pro")
	if !ok || pro.DailyOfferLimit != 12 {
		t.Fatalf("expected PRO limit 12, got %+v ok=%v", pro, ok)
	}
	if basic, ok := p.TierFor("BASIC"); !ok || basic.DailyOfferLimit != 3 {
		t.Fatalf("expected BASIC default kept, got %+v ok=%v", basic, ok)
	}
}

func TestLoadPolicyFileRejectsBadValues(t *testing.T) {
	path := writePolicy(t, "max_open_requests: 0\ntimezone: Mars/Olympus\n")
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDayStartUsesPolicyZone(t *testing.T) {
	p := DefaultPolicy()
	p.Timezone = "Asia/Seoul"
	if err := p.validate(); err != nil {
		t.Fatal(err)
	}
	// 2026-03-01 23:30 KST
	at := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	want := time.Date(2026, 2, 28, 15, 0, 0, 0, time.UTC)
	if got := p.DayStart(at); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	// 2026-03-02 00:10 KST rolls the day
	at = time.Date(2026, 3, 1, 15, 10, 0, 0, time.UTC)
	want = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	if got := p.DayStart(at); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPolicyStoreReloadKeepsPreviousOnError(t *testing.T) {
	path := writePolicy(t, "max_open_requests: 4\n")
	s, err := NewPolicyStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("max_open_requests: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := s.Current().MaxOpenRequests; got != 4 {
		t.Fatalf("expected previous snapshot, got %d", got)
	}
	if err := os.WriteFile(path, []byte("max_open_requests: 6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().MaxOpenRequests; got != 6 {
		t.Fatalf("expected reloaded value, got %d", got)
	}
}
