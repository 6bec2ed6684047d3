package xero

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"
)

var testCreds = core.ClientCredentials{ClientID: "client-id", ClientSecret: "client-secret"}

type fakeTokenEndpoint struct {
	status int
	body   string
	delay  time.Duration
	calls  atomic.Int32

	mu   sync.Mutex
	form url.Values
	user string
	pass string
}

func (f *fakeTokenEndpoint) request() (url.Values, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form, f.user, f.pass
}

func (f *fakeTokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	_ = r.ParseForm()
	f.mu.Lock()
	f.form = r.PostForm
	f.user, f.pass, _ = r.BasicAuth()
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func newTestNegotiator(t *testing.T, endpoint *fakeTokenEndpoint, opts ...Option) *Negotiator {
	t.Helper()
	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithEndpoints("https://login.example.test/authorize", srv.URL+"/connect/token", ""),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
	}, opts...)
	return NewNegotiator(testCreds, "https://app.example.test/xero/authorize", opts...)
}

func TestNegotiator_AuthorizationURL(t *testing.T) {
	n := NewNegotiator(testCreds, "https://app.example.test/xero/authorize")

	raw := n.AuthorizationURL(Scopes, "state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthorizationURL() returned unparseable URL: %v", err)
	}

	if got := u.Scheme + "://" + u.Host + u.Path; got != AuthorizeURL {
		t.Errorf("base URL = %q, want %q", got, AuthorizeURL)
	}

	q := u.Query()
	want := map[string]string{
		"response_type": "code",
		"client_id":     "client-id",
		"redirect_uri":  "https://app.example.test/xero/authorize",
		"scope":         "offline_access accounting.settings accounting.transactions accounting.contacts accounting.journals.read accounting.reports.read",
		"state":         "state-123",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
}

func TestNegotiator_ExchangeCode(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		status: http.StatusOK,
		body:   `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":1800,"scope":"offline_access"}`,
	}
	n := newTestNegotiator(t, endpoint)

	tokens, err := n.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Errorf("tokens = %q/%q, want at-1/rt-1", tokens.AccessToken, tokens.RefreshToken)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", tokens.TokenType)
	}
	if tokens.Expiry.IsZero() {
		t.Error("Expiry should be set from expires_in")
	}
	if want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC); !tokens.IssuedAt.Equal(want) {
		t.Errorf("IssuedAt = %v, want %v", tokens.IssuedAt, want)
	}

	var raw map[string]any
	if err := json.Unmarshal(tokens.Raw, &raw); err != nil {
		t.Fatalf("Raw is not JSON: %v", err)
	}
	if raw["scope"] != "offline_access" {
		t.Errorf("Raw scope = %v, want offline_access", raw["scope"])
	}

	form, user, pass := endpoint.request()
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q, want authorization_code", got)
	}
	if got := form.Get("code"); got != "code-1" {
		t.Errorf("code = %q, want code-1", got)
	}
	if got := form.Get("redirect_uri"); got != "https://app.example.test/xero/authorize" {
		t.Errorf("redirect_uri = %q", got)
	}
	if user != "client-id" || pass != "client-secret" {
		t.Errorf("basic auth = %q/%q, want client credentials", user, pass)
	}
	if got := endpoint.calls.Load(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestNegotiator_Refresh(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		status: http.StatusOK,
		body:   `{"access_token":"at-2","refresh_token":"rt-2","token_type":"Bearer","expires_in":1800}`,
	}
	n := newTestNegotiator(t, endpoint)

	tokens, err := n.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tokens.AccessToken != "at-2" || tokens.RefreshToken != "rt-2" {
		t.Errorf("tokens = %q/%q, want at-2/rt-2", tokens.AccessToken, tokens.RefreshToken)
	}
	form, _, _ := endpoint.request()
	if got := form.Get("grant_type"); got != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", got)
	}
	if got := form.Get("refresh_token"); got != "rt-1" {
		t.Errorf("refresh_token = %q, want rt-1", got)
	}
}

func TestNegotiator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  *fakeTokenEndpoint
		opts      []Option
		wantErrs  []error
		wantClass string
	}{
		{
			name: "refresh response without refresh_token",
			endpoint: &fakeTokenEndpoint{
				status: http.StatusOK,
				body:   `{"access_token":"at-2","token_type":"Bearer","expires_in":1800}`,
			},
			wantErrs:  []error{ErrProtocol, ErrMissingRefreshToken},
			wantClass: "protocol",
		},
		{
			name: "invalid grant",
			endpoint: &fakeTokenEndpoint{
				status: http.StatusBadRequest,
				body:   `{"error":"invalid_grant"}`,
			},
			wantErrs:  []error{ErrProtocol, ErrInvalidGrant},
			wantClass: "invalid_grant",
		},
		{
			name: "other provider error",
			endpoint: &fakeTokenEndpoint{
				status: http.StatusUnauthorized,
				body:   `{"error":"invalid_client"}`,
			},
			wantErrs:  []error{ErrProtocol},
			wantClass: "protocol",
		},
		{
			name: "malformed body",
			endpoint: &fakeTokenEndpoint{
				status: http.StatusOK,
				body:   `{not json`,
			},
			wantErrs:  []error{ErrProtocol},
			wantClass: "protocol",
		},
		{
			name: "timeout",
			endpoint: &fakeTokenEndpoint{
				status: http.StatusOK,
				body:   `{"access_token":"at-2","refresh_token":"rt-2"}`,
				delay:  time.Second,
			},
			opts:      []Option{WithTimeout(50 * time.Millisecond)},
			wantErrs:  []error{ErrTransport},
			wantClass: "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNegotiator(t, tt.endpoint, tt.opts...)

			tokens, err := n.Refresh(context.Background(), "rt-1")
			if err == nil {
				t.Fatalf("Refresh() = %+v, want error", tokens)
			}
			for _, want := range tt.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("Refresh() error = %v, want errors.Is %v", err, want)
				}
			}
			if got := Classify(err); got != tt.wantClass {
				t.Errorf("Classify() = %q, want %q", got, tt.wantClass)
			}
		})
	}
}

func TestNegotiator_ExchangeWithoutRefreshToken(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		status: http.StatusOK,
		body:   `{"access_token":"at-1","token_type":"Bearer","expires_in":1800}`,
	}
	n := newTestNegotiator(t, endpoint)

	_, err := n.ExchangeCode(context.Background(), "code-1")
	if !errors.Is(err, ErrMissingRefreshToken) {
		t.Fatalf("ExchangeCode() error = %v, want ErrMissingRefreshToken", err)
	}
}

func TestNegotiator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokenURL := srv.URL + "/connect/token"
	srv.Close()

	n := NewNegotiator(testCreds, "https://app.example.test/xero/authorize",
		WithEndpoints("", tokenURL, ""),
		WithTimeout(time.Second),
	)

	_, err := n.Refresh(context.Background(), "rt-1")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Refresh() error = %v, want ErrTransport", err)
	}
}

func TestNegotiator_EmptyInputs(t *testing.T) {
	endpoint := &fakeTokenEndpoint{status: http.StatusOK, body: `{}`}
	n := newTestNegotiator(t, endpoint)

	if _, err := n.Refresh(context.Background(), ""); !errors.Is(err, ErrProtocol) {
		t.Errorf("Refresh(\"\") error = %v, want ErrProtocol", err)
	}
	if _, err := n.ExchangeCode(context.Background(), ""); !errors.Is(err, ErrProtocol) {
		t.Errorf("ExchangeCode(\"\") error = %v, want ErrProtocol", err)
	}
	if got := endpoint.calls.Load(); got != 0 {
		t.Errorf("token endpoint calls = %d, want 0", got)
	}
}

func TestScopeString(t *testing.T) {
	got := ScopeString([]string{"a", "b"})
	if got != "a b" {
		t.Errorf("ScopeString() = %q, want %q", got, "a b")
	}
	if !strings.HasPrefix(ScopeString(Scopes), "offline_access ") {
		t.Error("offline_access must be requested first")
	}
}
