package core

import (
	"context"
	"testing"
	"time"
)

func TestClientCredentials_Configured(t *testing.T) {
	tests := []struct {
		name  string
		creds ClientCredentials
		want  bool
	}{
		{name: "both present", creds: ClientCredentials{ClientID: "id", ClientSecret: "secret"}, want: true},
		{name: "missing secret", creds: ClientCredentials{ClientID: "id"}, want: false},
		{name: "missing id", creds: ClientCredentials{ClientSecret: "secret"}, want: false},
		{name: "whitespace only", creds: ClientCredentials{ClientID: "  ", ClientSecret: "\t"}, want: false},
		{name: "empty", creds: ClientCredentials{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenSet_ValidAt(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		tokens *TokenSet
		leeway time.Duration
		want   bool
	}{
		{name: "nil set", tokens: nil, want: false},
		{name: "no expiry", tokens: &TokenSet{AccessToken: "a"}, want: false},
		{name: "no access token", tokens: &TokenSet{Expiry: now.Add(time.Hour)}, want: false},
		{name: "valid", tokens: &TokenSet{AccessToken: "a", Expiry: now.Add(time.Hour)}, leeway: time.Minute, want: true},
		{name: "inside leeway", tokens: &TokenSet{AccessToken: "a", Expiry: now.Add(30 * time.Second)}, leeway: time.Minute, want: false},
		{name: "expired", tokens: &TokenSet{AccessToken: "a", Expiry: now.Add(-time.Second)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tokens.ValidAt(now, tt.leeway); got != tt.want {
				t.Errorf("ValidAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenSet_Renewable(t *testing.T) {
	var nilSet *TokenSet
	if nilSet.Renewable() {
		t.Error("nil TokenSet should not be renewable")
	}
	expired := &TokenSet{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}
	if !expired.Renewable() {
		t.Error("expired TokenSet with refresh token should stay renewable")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() = %q, want empty", got)
	}

	ctx = WithRequestID(ctx)
	if got := RequestIDFromContext(ctx); got == "" {
		t.Error("WithRequestID() did not set a request ID")
	}

	ctx = WithSessionID(ctx, "session-1")
	if got := SessionIDFromContext(ctx); got != "session-1" {
		t.Errorf("SessionIDFromContext() = %q, want %q", got, "session-1")
	}
}
