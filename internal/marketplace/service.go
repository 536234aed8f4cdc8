// Package marketplace owns the request, offer and engagement state machines.
// Every state change is a guarded conditional update; network calls
// (geocoding, rooms, points, notifications) run outside transactions.
package marketplace

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/geocode"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/points"
	"github.com/example/clean-matching/internal/quota"
	"github.com/example/clean-matching/internal/rooms"
	"github.com/example/clean-matching/internal/storage"
)

type Matcher interface {
	FindCandidates(ctx context.Context, req *models.Request) ([]string, error)
}

// Quota is the daily offer gate. UsedToday is re-read inside the offer
// transaction with the transaction-bound store.
type Quota interface {
	CanSubmit(ctx context.Context, providerID string) (quota.Usage, error)
	UsedToday(ctx context.Context, st *storage.Store, providerID string) (int, error)
	Consume(ctx context.Context, providerID, offerID string) (quota.Usage, error)
}

type TrialGranter interface {
	GrantTrial(ctx context.Context, providerID string) (*models.Subscription, error)
}

// ProviderIndex keeps the geographic locator in sync with profiles.
type ProviderIndex interface {
	Index(ctx context.Context, p models.Provider) error
}

// Deps are the collaborators of a Service. Geocoder, Points, Rooms, Notifier
// and Index may be nil.
type Deps struct {
	Matcher  Matcher
	Quota    Quota
	Trials   TrialGranter
	Geocoder geocode.Resolver
	Points   points.Ledger
	Rooms    rooms.Provisioner
	Notifier dispatch.Notifier
	Index    ProviderIndex
	Policy   *config.PolicyStore
	Clock    clock.Clock
	Log      *slog.Logger
}

type Service struct {
	store    *storage.Store
	matcher  Matcher
	quota    Quota
	trials   TrialGranter
	geocoder geocode.Resolver
	points   points.Ledger
	rooms    rooms.Provisioner
	notify   dispatch.Notifier
	index    ProviderIndex
	policy   *config.PolicyStore
	clock    clock.Clock
	log      *slog.Logger
}

func NewService(store *storage.Store, d Deps) *Service {
	s := &Service{
		store:    store,
		matcher:  d.Matcher,
		quota:    d.Quota,
		trials:   d.Trials,
		geocoder: d.Geocoder,
		points:   d.Points,
		rooms:    d.Rooms,
		notify:   d.Notifier,
		index:    d.Index,
		policy:   d.Policy,
		clock:    d.Clock,
		log:      d.Log,
	}
	if s.geocoder == nil {
		s.geocoder = geocode.None{}
	}
	if s.notify == nil {
		s.notify = noopNotifier{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

type noopNotifier struct{}

func (noopNotifier) NotifyOne(context.Context, string, dispatch.Notice) {}
func (noopNotifier) NotifyMany(context.Context, []string, dispatch.Notice) {}

// notFound maps storage.ErrNotFound to the domain error.
func notFound(err error, domain *apperr.Error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain
	}
	return err
}
