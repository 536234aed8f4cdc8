package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/example/clean-matching/internal/models"
)

// TierPolicy is the configurable part of a subscription tier.
type TierPolicy struct {
	DailyOfferLimit int `yaml:"daily_offer_limit"`
	Priority        int `yaml:"priority"`
}

// Policy holds the business rules read at operation time. A snapshot is
// immutable once published through a PolicyStore.
type Policy struct {
	MaxOpenRequests      int                   `yaml:"max_open_requests"`
	DuplicateWindow      time.Duration         `yaml:"duplicate_window"`
	RequestTTL           time.Duration         `yaml:"request_ttl"`
	OfferTTL             time.Duration         `yaml:"offer_ttl"`
	CompletionConfirmTTL time.Duration         `yaml:"completion_confirm_ttl"`
	DefaultMaxOffers     int                   `yaml:"default_max_offers"`
	MaxServiceRadiusKm   float64               `yaml:"max_service_radius_km"`
	Timezone             string                `yaml:"timezone"`
	SweepItemTimeout     time.Duration         `yaml:"sweep_item_timeout"`
	OfferPointCost       int64                 `yaml:"offer_point_cost"`
	TrialTier            string                `yaml:"trial_tier"`
	TrialMonths          int                   `yaml:"trial_months"`
	AddressSuffixes      []string              `yaml:"address_suffixes"`
	Tiers                map[string]TierPolicy `yaml:"tiers"`

	loc *time.Location
}

// DefaultPolicy returns the built-in rules. Address suffixes are the Korean
// administrative unit markers stripped before text matching.
func DefaultPolicy() Policy {
	return Policy{
		MaxOpenRequests:      3,
		DuplicateWindow:      7 * 24 * time.Hour,
		RequestTTL:           7 * 24 * time.Hour,
		OfferTTL:             72 * time.Hour,
		CompletionConfirmTTL: 48 * time.Hour,
		DefaultMaxOffers:     5,
		MaxServiceRadiusKm:   50,
		Timezone:             "UTC",
		SweepItemTimeout:     10 * time.Second,
		TrialTier:            models.TierBasic,
		TrialMonths:          1,
		AddressSuffixes:      []string{"특별자치시", "특별자치도", "특별시", "광역시", "도", "시", "군", "구", "읍", "면", "동"},
		Tiers: map[string]TierPolicy{
			models.TierBasic:   {DailyOfferLimit: 3, Priority: 1},
			models.TierPro:     {DailyOfferLimit: 10, Priority: 2},
			models.TierPremium: {DailyOfferLimit: 30, Priority: 3},
		},
		loc: time.UTC,
	}
}

// LoadPolicyFile overlays the YAML document at path onto DefaultPolicy.
// Keys absent from the file keep their defaults.
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) validate() error {
	var errs []error
	if p.MaxOpenRequests <= 0 {
		errs = append(errs, errors.New("max_open_requests must be > 0"))
	}
	if p.DefaultMaxOffers <= 0 {
		errs = append(errs, errors.New("default_max_offers must be > 0"))
	}
	if p.DuplicateWindow < 0 || p.RequestTTL <= 0 || p.OfferTTL <= 0 || p.CompletionConfirmTTL <= 0 {
		errs = append(errs, errors.New("ttl values must be positive"))
	}
	if p.MaxServiceRadiusKm <= 0 {
		errs = append(errs, errors.New("max_service_radius_km must be > 0"))
	}
	if p.SweepItemTimeout <= 0 {
		errs = append(errs, errors.New("sweep_item_timeout must be > 0"))
	}
	if p.OfferPointCost < 0 {
		errs = append(errs, errors.New("offer_point_cost must be >= 0"))
	}
	for name, t := range p.Tiers {
		if t.DailyOfferLimit < 0 {
			errs = append(errs, fmt.Errorf("tier %s: daily_offer_limit must be >= 0", name))
		}
	}
	if _, ok := p.Tiers[p.TrialTier]; !ok {
		errs = append(errs, fmt.Errorf("trial_tier %q is not a configured tier", p.TrialTier))
	}
	if p.TrialMonths <= 0 {
		errs = append(errs, errors.New("trial_months must be > 0"))
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	} else {
		p.loc = loc
	}
	return errors.Join(errs...)
}

// Location is the zone that defines a quota day.
func (p *Policy) Location() *time.Location {
	if p.loc == nil {
		return time.UTC
	}
	return p.loc
}

// DayStart returns local midnight of the day containing t, in UTC.
func (p *Policy) DayStart(t time.Time) time.Time {
	lt := t.In(p.Location())
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.Location()).UTC()
}

// TierFor resolves a tier name. Unknown names are reported with ok=false.
func (p *Policy) TierFor(name string) (models.Tier, bool) {
	t, ok := p.Tiers[strings.ToUpper(name)]
	if !ok {
		return models.Tier{}, false
	}
	return models.Tier{Name: strings.ToUpper(name), DailyOfferLimit: t.DailyOfferLimit, Priority: t.Priority}, true
}

// PolicyStore publishes Policy snapshots. Readers call Current on every
// operation; Reload swaps the snapshot atomically.
type PolicyStore struct {
	path   string
	log    *slog.Logger
	mu     sync.Mutex
	policy atomic.Pointer[Policy]
}

// NewPolicyStore loads path, or the defaults when path is empty.
func NewPolicyStore(path string, log *slog.Logger) (*PolicyStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &PolicyStore{path: path, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// StaticPolicy wraps a fixed policy, mainly for tests.
func StaticPolicy(p Policy) *PolicyStore {
	if err := p.validate(); err != nil {
		panic(err)
	}
	s := &PolicyStore{log: slog.Default()}
	s.policy.Store(&p)
	return s
}

func (s *PolicyStore) Current() *Policy {
	return s.policy.Load()
}

// Reload re-reads the policy file. On error the previous snapshot stays.
func (s *PolicyStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		p   Policy
		err error
	)
	if s.path == "" {
		if s.policy.Load() != nil {
			return nil
		}
		p = DefaultPolicy()
	} else if p, err = LoadPolicyFile(s.path); err != nil {
		return err
	}
	s.policy.Store(&p)
	s.log.Info("policy loaded", "path", s.path, "timezone", p.Timezone, "tiers", len(p.Tiers))
	return nil
}
