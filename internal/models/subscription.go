package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionPaused  SubscriptionStatus = "PAUSED"
	SubscriptionQueued  SubscriptionStatus = "QUEUED"
	SubscriptionExpired SubscriptionStatus = "EXPIRED"
)

// Where a subscription row came from.
const (
	SourceTrial    = "TRIAL"
	SourcePurchase = "PURCHASE"
	SourceAdmin    = "ADMIN"
)

// Tier names. Limits and priorities live in the runtime policy.
const (
	TierBasic   = "BASIC"
	TierPro     = "PRO"
	TierPremium = "PREMIUM"
)

// Tier is a resolved tier definition.
type Tier struct {
	Name            string `json:"name"`
	DailyOfferLimit int    `json:"daily_offer_limit"`
	Priority        int    `json:"priority"`
}

// Subscription is one time-boxed tier grant. A provider may hold several
// rows at once; the effective tier is picked from the ACTIVE ones.
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	ProviderID         string             `json:"provider_id" db:"provider_id"`
	Tier               string             `json:"tier" db:"tier"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	PeriodMonths       int                `json:"period_months" db:"period_months"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end"`
	PausedAt           *time.Time         `json:"paused_at,omitempty" db:"paused_at"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Source             string             `json:"source" db:"source"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// Covers reports whether the row's current period contains t.
func (s *Subscription) Covers(t time.Time) bool {
	return !t.Before(s.CurrentPeriodStart) && !t.After(s.CurrentPeriodEnd)
}
