package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type RequestStatus string

const (
	RequestOpen    RequestStatus = "OPEN"
	RequestClosed  RequestStatus = "CLOSED"
	RequestExpired RequestStatus = "EXPIRED"
)

type OfferStatus string

const (
	OfferSubmitted OfferStatus = "SUBMITTED"
	OfferAccepted  OfferStatus = "ACCEPTED"
	OfferRejected  OfferStatus = "REJECTED"
)

// Why an offer left SUBMITTED without being accepted.
const (
	RejectByCustomer    = "CUSTOMER"
	RejectAcceptedOther = "ACCEPTED_OTHER"
	RejectExpired       = "EXPIRED"
)

type EngagementStatus string

const (
	EngagementPending   EngagementStatus = "PENDING"
	EngagementAccepted  EngagementStatus = "ACCEPTED"
	EngagementCompleted EngagementStatus = "COMPLETED"
	EngagementCancelled EngagementStatus = "CANCELLED"
)

type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "PENDING"
	ProviderApproved  ProviderStatus = "APPROVED"
	ProviderSuspended ProviderStatus = "SUSPENDED"
)

// Request is a customer's ask for a cleaning service.
type Request struct {
	ID          string        `json:"id" db:"id"`
	CustomerID  string        `json:"customer_id" db:"customer_id"`
	ServiceType string        `json:"service_type" db:"service_type"`
	Address     string        `json:"address" db:"address"`
	Lat         *float64      `json:"lat,omitempty" db:"lat"`
	Lon         *float64      `json:"lon,omitempty" db:"lng"`
	AreaSize    *float64      `json:"area_size,omitempty" db:"area_size"`
	DesiredAt   *time.Time    `json:"desired_at,omitempty" db:"desired_at"`
	Description string        `json:"description" db:"description"`
	Budget      int64         `json:"budget" db:"budget"`
	Checklist   Checklist     `json:"checklist" db:"checklist"`
	Images      StringList    `json:"images" db:"images"`
	Status      RequestStatus `json:"status" db:"status"`
	MaxOffers   int           `json:"max_offers" db:"max_offers"`
	OfferCount  int           `json:"offer_count" db:"offer_count"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Coord returns the request location, or false when it was never geocoded.
func (r *Request) Coord() (Coord, bool) {
	if r.Lat == nil || r.Lon == nil {
		return Coord{}, false
	}
	return Coord{Lat: *r.Lat, Lon: *r.Lon}, true
}

// Offer is a provider's priced bid against exactly one request.
type Offer struct {
	ID               string      `json:"id" db:"id"`
	RequestID        string      `json:"request_id" db:"request_id"`
	ProviderID       string      `json:"provider_id" db:"provider_id"`
	Price            int64       `json:"price" db:"price"`
	Message          string      `json:"message" db:"message"`
	EstimatedMinutes int         `json:"estimated_minutes" db:"estimated_minutes"`
	AvailableAt      *time.Time  `json:"available_at,omitempty" db:"available_at"`
	Images           StringList  `json:"images" db:"images"`
	Status           OfferStatus `json:"status" db:"status"`
	RejectReason     string      `json:"reject_reason,omitempty" db:"reject_reason"`
	PointsUsed       int64       `json:"points_used" db:"points_used"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Engagement is the binding outcome of an accepted offer. Service details
// are copied at acceptance time and never re-joined from the request.
type Engagement struct {
	ID                   string           `json:"id" db:"id"`
	RequestID            string           `json:"request_id" db:"request_id"`
	OfferID              string           `json:"offer_id" db:"offer_id"`
	CustomerID           string           `json:"customer_id" db:"customer_id"`
	ProviderID           string           `json:"provider_id" db:"provider_id"`
	ServiceType          string           `json:"service_type" db:"service_type"`
	Address              string           `json:"address" db:"address"`
	Lat                  *float64         `json:"lat,omitempty" db:"lat"`
	Lon                  *float64         `json:"lon,omitempty" db:"lng"`
	Price                int64            `json:"price" db:"price"`
	ScheduledAt          *time.Time       `json:"scheduled_at,omitempty" db:"scheduled_at"`
	EstimatedMinutes     int              `json:"estimated_minutes" db:"estimated_minutes"`
	Status               EngagementStatus `json:"status" db:"status"`
	RoomID               string           `json:"room_id,omitempty" db:"room_id"`
	CompletionReportedAt *time.Time       `json:"completion_reported_at,omitempty" db:"completion_reported_at"`
	CompletionImages     StringList       `json:"completion_images" db:"completion_images"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	AutoCompleted        bool             `json:"auto_completed" db:"auto_completed"`
	CancelledBy          string           `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelledAt          *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// Provider is the matching-relevant part of a service provider profile.
type Provider struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Status          ProviderStatus `json:"status" db:"status"`
	Address         string         `json:"address" db:"address"`
	Lat             *float64       `json:"lat,omitempty" db:"lat"`
	Lon             *float64       `json:"lon,omitempty" db:"lng"`
	ServiceRangeKm  float64        `json:"service_range_km" db:"service_range_km"`
	Specialties     StringList     `json:"specialties" db:"specialties"`
	ServiceAreas    StringList     `json:"service_areas" db:"service_areas"`
	EngagementCount int            `json:"engagement_count" db:"engagement_count"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

func (p *Provider) Coord() (Coord, bool) {
	if p.Lat == nil || p.Lon == nil {
		return Coord{}, false
	}
	return Coord{Lat: *p.Lat, Lon: *p.Lon}, true
}

// Notification is a delivered in-app notice, persisted by the consumer.
type Notification struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Kind      string     `json:"kind" db:"kind"`
	Title     string     `json:"title" db:"title"`
	Body      string     `json:"body" db:"body"`
	Data      StringMap  `json:"data,omitempty" db:"data"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
}
