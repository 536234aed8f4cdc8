package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/clean-matching/internal/apperr"
	"github.com/example/clean-matching/internal/marketplace"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/storage"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in marketplace.NewRequest
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.Market.CreateRequest(r.Context(), userID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListMyRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Market.ListMyRequests(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": nonNil(reqs)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Market.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Market.Candidates(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider_ids": nonNil(ids)})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Market.ListOffers(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": nonNil(offers)})
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var in marketplace.NewOffer
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.Market.SubmitOffer(r.Context(), userID(r), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Market.AcceptOffer(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.Market.RejectOffer(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var in marketplace.ProviderProfile
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Market.UpsertProviderProfile(r.Context(), userID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	u, err := s.Quota.Usage(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleMyOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Market.ListMyOffers(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": nonNil(offers)})
}

func (s *Server) handleMySubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Subs.List(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tier, err := s.Subs.EffectiveTier(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"effective_tier": tier, "subscriptions": nonNil(subs)})
}

type tierBody struct {
	Tier   string `json:"tier"`
	Months int    `json:"months"`
}

func (s *Server) handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Market.GetEngagement(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (s *Server) handleReportCompletion(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Images []string `json:"images"`
	}
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	eng, err := s.Market.ReportCompletion(r.Context(), userID(r), mux.Vars(r)["id"], in.Images)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (s *Server) handleConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Market.ConfirmCompletion(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (s *Server) handleCancelEngagement(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Market.CancelEngagement(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			s.writeError(w, r, apperr.Invalid("limit must be between 1 and 200"))
			return
		}
		limit = n
	}
	list, err := s.Store.ListNotifications(r.Context(), userID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(list)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := s.Store.MarkNotificationRead(r.Context(), userID(r), mux.Vars(r)["id"], s.Clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		err = apperr.ErrNotificationNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.Market.ApproveProvider(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuspendProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.Market.SuspendProvider(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleChangeTier(w http.ResponseWriter, r *http.Request) {
	var in tierBody
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.Subs.ChangeTier(r.Context(), mux.Vars(r)["id"], in.Tier, in.Months)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var in tierBody
	if err := decode(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.Subs.Purchase(r.Context(), mux.Vars(r)["id"], in.Tier, in.Months, models.SourceAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleSubscriptionAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	var (
		sub *models.Subscription
		err error
	)
	switch vars["action"] {
	case "extend":
		var in struct {
			Months int `json:"months"`
		}
		if err := decode(r, w, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		sub, err = s.Subs.Extend(r.Context(), id, in.Months)
	case "pause":
		sub, err = s.Subs.Pause(r.Context(), id)
	case "resume":
		sub, err = s.Subs.Resume(r.Context(), id)
	case "cancel":
		sub, err = s.Subs.Cancel(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.Policy.Reload(); err != nil {
		s.writeError(w, r, apperr.Invalid(err.Error()))
		return
	}
	p := s.Policy.Current()
	writeJSON(w, http.StatusOK, map[string]any{"timezone": p.Timezone, "tiers": p.Tiers})
}

var upgrader = websocket.Upgrader{}

// handleWS authenticates with the bearer header or a token query parameter,
// since browsers cannot set headers on websocket handshakes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	claims, err := s.Auth.Parse(raw)
	if err != nil {
		s.writeError(w, r, apperr.ErrUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", claims.UserID, "err", err)
		return
	}
	s.WSReg.Add(claims.UserID, conn)
	go func() {
		defer conn.Close()
		defer s.WSReg.Remove(claims.UserID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// nonNil keeps empty lists as [] rather than null in responses.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
