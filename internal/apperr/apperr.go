// Package apperr holds the user-facing error taxonomy shared by the
// services and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindInvalid
	KindUnauthorized
)

// Error is a classified, user-actionable error. Code is stable and meant
// for clients; Message is human readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Invalid builds a validation error for a caller-supplied field.
func Invalid(message string) *Error {
	return &Error{Kind: KindInvalid, Code: "invalid_argument", Message: message}
}

var (
	ErrRequestNotFound      = New(KindNotFound, "request_not_found", "request not found")
	ErrOfferNotFound        = New(KindNotFound, "offer_not_found", "offer not found")
	ErrEngagementNotFound   = New(KindNotFound, "engagement_not_found", "engagement not found")
	ErrProviderNotFound     = New(KindNotFound, "provider_not_found", "provider not found")
	ErrSubscriptionNotFound = New(KindNotFound, "subscription_not_found", "subscription not found")
	ErrNotificationNotFound = New(KindNotFound, "notification_not_found", "notification not found or already read")

	ErrOpenRequestLimit    = New(KindConflict, "open_request_limit", "too many open requests; close or wait for one to expire")
	ErrDuplicateRequest    = New(KindConflict, "duplicate_request", "an identical request was created recently")
	ErrRequestNotOpen      = New(KindConflict, "request_not_open", "request is no longer accepting offers")
	ErrOfferExists         = New(KindConflict, "offer_exists", "you already submitted an offer for this request")
	ErrOfferLimitReached   = New(KindConflict, "offer_limit_reached", "request has reached its maximum number of offers")
	ErrQuotaExhausted      = New(KindConflict, "quota_exhausted", "daily offer limit reached")
	ErrNoSubscription      = New(KindConflict, "no_subscription", "an active subscription is required to submit offers")
	ErrInsufficientPoints  = New(KindConflict, "insufficient_points", "not enough points to submit an offer")
	ErrOfferProcessed      = New(KindConflict, "offer_processed", "offer was already accepted or rejected")
	ErrProviderNotApproved = New(KindConflict, "provider_not_approved", "provider profile is not approved")
	ErrEngagementState     = New(KindConflict, "engagement_state", "engagement cannot change from its current status")
	ErrSubscriptionState   = New(KindConflict, "subscription_state", "subscription cannot change from its current status")

	ErrForbidden    = New(KindForbidden, "forbidden", "you do not own this resource")
	ErrUnauthorized = New(KindUnauthorized, "unauthorized", "missing or invalid credentials")
)

// KindOf classifies err. Anything not built by this package is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
