// Package httpapi exposes the marketplace over JSON/HTTP and pushes live
// notifications over websockets.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/marketplace"
	"github.com/example/clean-matching/internal/quota"
	"github.com/example/clean-matching/internal/storage"
	"github.com/example/clean-matching/internal/subscription"
)

type Server struct {
	Market *marketplace.Service
	Subs   *subscription.Service
	Quota  *quota.Ledger
	Policy *config.PolicyStore
	Store  *storage.Store
	WSReg  *dispatch.WSRegistry
	Auth   *Authenticator
	Clock  clock.Clock

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer builds the router around the services set on s.
func NewServer(s *Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if s.Clock == nil {
		s.Clock = clock.Real()
	}
	s.logger = logger
	s.mux = mux.NewRouter()
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireAuth)

	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", s.handleListMyRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/candidates", s.handleCandidates).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/offers", s.handleListOffers).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/offers", s.handleSubmitOffer).Methods(http.MethodPost)

	api.HandleFunc("/offers/{id}/accept", s.handleAcceptOffer).Methods(http.MethodPost)
	api.HandleFunc("/offers/{id}/reject", s.handleRejectOffer).Methods(http.MethodPost)

	api.HandleFunc("/providers/me/profile", s.handleUpsertProfile).Methods(http.MethodPut)
	api.HandleFunc("/providers/me/quota", s.handleQuota).Methods(http.MethodGet)
	api.HandleFunc("/providers/me/offers", s.handleMyOffers).Methods(http.MethodGet)
	api.HandleFunc("/providers/me/subscriptions", s.handleMySubscriptions).Methods(http.MethodGet)

	api.HandleFunc("/engagements/{id}", s.handleGetEngagement).Methods(http.MethodGet)
	api.HandleFunc("/engagements/{id}/report", s.handleReportCompletion).Methods(http.MethodPost)
	api.HandleFunc("/engagements/{id}/confirm", s.handleConfirmCompletion).Methods(http.MethodPost)
	api.HandleFunc("/engagements/{id}/cancel", s.handleCancelEngagement).Methods(http.MethodPost)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/providers/{id}/approve", s.handleApproveProvider).Methods(http.MethodPost)
	admin.HandleFunc("/providers/{id}/suspend", s.handleSuspendProvider).Methods(http.MethodPost)
	admin.HandleFunc("/providers/{id}/tier", s.handleChangeTier).Methods(http.MethodPost)
	admin.HandleFunc("/providers/{id}/subscriptions", s.handleAdminGrant).Methods(http.MethodPost)
	admin.HandleFunc("/subscriptions/{id}/{action:extend|pause|resume|cancel}", s.handleSubscriptionAction).Methods(http.MethodPost)
	admin.HandleFunc("/policy/reload", s.handleReloadPolicy).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "err", err)
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
