package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/geo"
	"github.com/example/clean-matching/internal/logging"
	"github.com/example/clean-matching/internal/marketplace"
	"github.com/example/clean-matching/internal/matcher"
	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/quota"
	"github.com/example/clean-matching/internal/storage/storagetest"
	"github.com/example/clean-matching/internal/subscription"
)

type testAPI struct {
	srv  *Server
	auth *Authenticator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := storagetest.New(t)
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	log := logging.Discard()
	policy := config.StaticPolicy(config.DefaultPolicy())
	subs := subscription.NewService(st, policy, clk, log)
	q := quota.NewLedger(st, subs, policy, clk, log)
	idx := geo.NewMemoryIndex()
	ws := dispatch.NewWSRegistry()
	market := marketplace.NewService(st, marketplace.Deps{
		Matcher:  &matcher.Service{Locator: idx, Directory: st, Policy: policy},
		Quota:    q,
		Trials:   subs,
		Notifier: dispatch.NewFanout(clk, log, dispatch.StoreChannel{Store: st}, ws),
		Index:    idx,
		Policy:   policy,
		Clock:    clk,
		Log:      log,
	})
	auth := NewAuthenticator("test-secret")
	srv := NewServer(&Server{
		Market: market,
		Subs:   subs,
		Quota:  q,
		Policy: policy,
		Store:  st,
		WSReg:  ws,
		Auth:   auth,
		Clock:  clk,
	}, log)
	return &testAPI{srv: srv, auth: auth}
}

func (a *testAPI) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := a.auth.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.srv.ServeHTTP(rr, req)
	out := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
	}
	return rr, out
}

func TestRequiresBearerToken(t *testing.T) {
	a := newTestAPI(t)
	rr, body := a.do(t, http.MethodGet, "/api/v1/requests", "", nil)
	if rr.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %v", rr.Code, body)
	}
	rr, _ = a.do(t, http.MethodGet, "/api/v1/requests", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rr.Code)
	}
	other := NewAuthenticator("other-secret")
	forged, _ := other.Issue("c1", "", time.Hour)
	rr, _ = a.do(t, http.MethodGet, "/api/v1/requests", forged, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signature, got %d", rr.Code)
	}
}

func TestAdminRoutesNeedAdminRole(t *testing.T) {
	a := newTestAPI(t)
	rr, body := a.do(t, http.MethodPost, "/api/v1/admin/providers/p1/approve", a.token(t, "c1", "customer"), nil)
	if rr.Code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("expected 403, got %d %v", rr.Code, body)
	}
	rr, body = a.do(t, http.MethodPost, "/api/v1/admin/providers/p1/approve", a.token(t, "root", RoleAdmin), nil)
	if rr.Code != http.StatusNotFound || body["error"] != "provider_not_found" {
		t.Fatalf("expected 404 provider_not_found, got %d %v", rr.Code, body)
	}
}

func TestProvidersCannotGrantThemselvesATier(t *testing.T) {
	a := newTestAPI(t)
	provider := a.token(t, "p1", "provider")
	body := map[string]any{"tier": "PREMIUM", "months": 12}

	rr, out := a.do(t, http.MethodPost, "/api/v1/admin/providers/p1/subscriptions", provider, body)
	if rr.Code != http.StatusForbidden || out["error"] != "forbidden" {
		t.Fatalf("expected 403 for a non-admin grant, got %d %v", rr.Code, out)
	}
	if rr, _ = a.do(t, http.MethodPost, "/api/v1/providers/me/subscriptions", provider, body); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected no self-service purchase, got %d", rr.Code)
	}
	rr, usage := a.do(t, http.MethodGet, "/api/v1/providers/me/quota", provider, nil)
	if rr.Code != http.StatusOK || usage["limit"].(float64) != 0 || usage["allowed"] != false {
		t.Fatalf("expected no tier, got %d %v", rr.Code, usage)
	}

	rr, out = a.do(t, http.MethodPost, "/api/v1/admin/providers/p1/subscriptions", a.token(t, "root", RoleAdmin), body)
	if rr.Code != http.StatusCreated || out["tier"] != "PREMIUM" {
		t.Fatalf("expected admin grant, got %d %v", rr.Code, out)
	}
}

func TestRequestOfferAcceptFlow(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, "root", RoleAdmin)
	customer := a.token(t, "c1", "customer")
	provider := a.token(t, "p1", "provider")

	rr, _ := a.do(t, http.MethodPut, "/api/v1/providers/me/profile", provider, map[string]any{
		"name": "Clean Co", "address": "서울 강남구 역삼동", "lat": 37.55, "lon": 127.04, "service_range_km": 10,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("profile: %d %s", rr.Code, rr.Body)
	}
	if rr, _ = a.do(t, http.MethodPost, "/api/v1/admin/providers/p1/approve", admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rr.Code, rr.Body)
	}

	rr, created := a.do(t, http.MethodPost, "/api/v1/requests", customer, map[string]any{
		"service_type": "HOME", "address": "서울 강남구 역삼동 1", "lat": 37.50, "lon": 127.03, "budget": 90000,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create request: %d %s", rr.Code, rr.Body)
	}
	reqID := created["id"].(string)

	rr, cands := a.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/candidates", customer, nil)
	if rr.Code != http.StatusOK || len(cands["provider_ids"].([]any)) != 1 {
		t.Fatalf("candidates: %d %v", rr.Code, cands)
	}

	rr, offer := a.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/offers", provider, map[string]any{
		"price": 85000, "message": "tomorrow morning", "estimated_minutes": 180,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit offer: %d %s", rr.Code, rr.Body)
	}
	rr, dup := a.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/offers", provider, map[string]any{"price": 80000})
	if rr.Code != http.StatusConflict || dup["error"] != "offer_exists" {
		t.Fatalf("expected 409 offer_exists, got %d %v", rr.Code, dup)
	}

	rr, usage := a.do(t, http.MethodGet, "/api/v1/providers/me/quota", provider, nil)
	if rr.Code != http.StatusOK || usage["used"].(float64) != 1 || usage["limit"].(float64) != 3 {
		t.Fatalf("quota: %d %v", rr.Code, usage)
	}

	offerID := offer["id"].(string)
	if rr, _ = a.do(t, http.MethodPost, "/api/v1/offers/"+offerID+"/accept", provider, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("only the owner may accept, got %d", rr.Code)
	}
	rr, eng := a.do(t, http.MethodPost, "/api/v1/offers/"+offerID+"/accept", customer, nil)
	if rr.Code != http.StatusOK || eng["status"] != string(models.EngagementAccepted) {
		t.Fatalf("accept: %d %v", rr.Code, eng)
	}

	rr, inbox := a.do(t, http.MethodGet, "/api/v1/notifications", customer, nil)
	if rr.Code != http.StatusOK || len(inbox["notifications"].([]any)) < 2 {
		t.Fatalf("expected offer and booking notices, got %d %v", rr.Code, inbox)
	}
	first := inbox["notifications"].([]any)[0].(map[string]any)
	if rr, _ = a.do(t, http.MethodPost, "/api/v1/notifications/"+first["id"].(string)+"/read", customer, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("mark read: %d", rr.Code)
	}
	if rr, _ = a.do(t, http.MethodPost, "/api/v1/notifications/"+first["id"].(string)+"/read", customer, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second mark read should 404, got %d", rr.Code)
	}
}

func TestRejectsMalformedBody(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+a.token(t, "c1", ""))
	rr := httptest.NewRecorder()
	a.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	rr, _ := a.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebsocketReceivesNotifications(t *testing.T) {
	a := newTestAPI(t)
	ts := httptest.NewServer(a.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + a.token(t, "c1", "")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !a.srv.WSReg.Connected("c1") {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := a.srv.WSReg.Send(context.Background(), models.Notification{ID: "n1", UserID: "c1", Kind: dispatch.KindOfferReceived}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Notification
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "n1" || got.Kind != dispatch.KindOfferReceived {
		t.Fatalf("unexpected message %+v", got)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?token=bad", nil); err == nil {
		t.Fatal("expected handshake refusal for a bad token")
	}
}
