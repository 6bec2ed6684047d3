package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/store"
	"github.com/go-training/xero-oauth/pkg/xero"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newFakeXero serves the token and connections endpoints.
func newFakeXero(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") == "rejected" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":1800}`))
	})
	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","tenantId":"tenant-abc","tenantType":"ORGANISATION"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, configured bool) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	fake := newFakeXero(t)
	backend := store.NewMemoryStore()
	tokens := authz.NewSettingsTokenStore(backend)
	if configured {
		if err := tokens.SaveCredentials(context.Background(), core.ClientCredentials{ClientID: "id", ClientSecret: "secret"}); err != nil {
			t.Fatalf("SaveCredentials() error = %v", err)
		}
	}

	endpoints := xero.WithEndpoints(fake.URL+"/authorize", fake.URL+"/connect/token", fake.URL+"/connections")
	controller := authz.New(
		tokens,
		authz.NewSessionStateGuard(backend),
		func(creds core.ClientCredentials) authz.Negotiator {
			return xero.NewNegotiator(creds, "http://localhost/xero/authorize", endpoints, xero.WithTimeout(time.Second))
		},
		xero.NewConnectionsClient(endpoints, xero.WithTimeout(time.Second)),
		authz.WithLocker(backend),
	)
	return newRouter(controller, prometheus.NewRegistry(), false), backend
}

func do(router http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sessionFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
				t.Errorf("session cookie = %+v, want HttpOnly SameSite=Lax", c)
			}
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestAuthorizationRoundTrip(t *testing.T) {
	router, backend := newTestRouter(t, true)

	w := do(router, "/xero/connect")
	if w.Code != http.StatusFound {
		t.Fatalf("connect status = %d, want %d: %s", w.Code, http.StatusFound, w.Body.String())
	}
	session := sessionFrom(t, w)

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" || location.Query().Get("client_id") != "id" {
		t.Fatalf("authorization URL = %s", location)
	}

	w = do(router, "/xero/authorize?code=good&state="+url.QueryEscape(state), session)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/xero/authorize" {
		t.Fatalf("callback = %d %q, want redirect to /xero/authorize: %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}

	tenantID, err := backend.GetSetting(context.Background(), core.SettingTenantID)
	if err != nil || tenantID != "tenant-abc" {
		t.Errorf("stored tenant = %q, %v, want tenant-abc", tenantID, err)
	}

	w = do(router, "/xero/authorize", session)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"authorized"`) {
		t.Errorf("status = %d %s, want authorized", w.Code, w.Body.String())
	}
}

func TestAuthorizeStateMismatch(t *testing.T) {
	router, backend := newTestRouter(t, true)

	w := do(router, "/xero/connect")
	session := sessionFrom(t, w)

	w = do(router, "/xero/authorize?code=good&state=forged", session)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if _, err := backend.GetSetting(context.Background(), core.SettingAccessToken); !errors.Is(err, core.ErrSettingNotFound) {
		t.Errorf("token stored after mismatch: %v", err)
	}
}

func TestAuthorizeRejectedCode(t *testing.T) {
	router, _ := newTestRouter(t, true)

	w := do(router, "/xero/connect")
	session := sessionFrom(t, w)
	location, _ := url.Parse(w.Header().Get("Location"))

	w = do(router, "/xero/authorize?code=rejected&state="+url.QueryEscape(location.Query().Get("state")), session)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestAuthorizeNotConfigured(t *testing.T) {
	router, _ := newTestRouter(t, false)

	w := do(router, "/xero/connect")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"not_configured"`) {
		t.Errorf("connect = %d %s, want not_configured", w.Code, w.Body.String())
	}
}

func TestAuthorizeNeedsAuthorization(t *testing.T) {
	router, _ := newTestRouter(t, true)

	w := do(router, "/xero/authorize?error=access_denied")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"needs_authorization"`) || !strings.Contains(body, `"access_denied"`) {
		t.Errorf("body = %s", body)
	}
}

func TestSessionCookieReused(t *testing.T) {
	router, _ := newTestRouter(t, true)

	first := sessionFrom(t, do(router, "/xero/connect"))
	second := sessionFrom(t, do(router, "/xero/connect", first))
	if first.Value != second.Value {
		t.Errorf("session changed from %q to %q", first.Value, second.Value)
	}

	forged := &http.Cookie{Name: sessionCookie, Value: "not-a-uuid"}
	third := sessionFrom(t, do(router, "/xero/connect", forged))
	if third.Value == forged.Value {
		t.Error("malformed session cookie was accepted")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, true)

	if w := do(router, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := do(router, "/metrics"); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

type stubEvaluator struct {
	report *authz.Report
	err    error
	calls  int
}

func (s *stubEvaluator) Evaluate(context.Context, authz.Request) (*authz.Report, error) {
	s.calls++
	return s.report, s.err
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"state mismatch", authz.ErrStateMismatch, http.StatusForbidden},
		{"transport", xero.ErrTransport, http.StatusGatewayTimeout},
		{"invalid grant", errors.Join(xero.ErrProtocol, xero.ErrInvalidGrant), http.StatusBadGateway},
		{"no tenant", errors.Join(xero.ErrProtocol, xero.ErrNoTenant), http.StatusBadGateway},
		{"protocol", xero.ErrProtocol, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubEvaluator{err: tt.err}, prometheus.NewRegistry(), false)
			if w := do(router, "/xero/authorize?code=x&state=y"); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRenewLoop(t *testing.T) {
	eval := &stubEvaluator{report: &authz.Report{Status: authz.StatusAuthorized}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- renewLoop(ctx, eval, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("renewLoop() error = %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("Evaluate() calls = %d, want 1", eval.calls)
	}
}

func TestRenewLoopDisabled(t *testing.T) {
	eval := &stubEvaluator{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := renewLoop(ctx, eval, 0); err != nil {
		t.Fatalf("renewLoop() error = %v", err)
	}
	if eval.calls != 0 {
		t.Errorf("Evaluate() calls = %d, want 0", eval.calls)
	}
}
