package core

import (
	"encoding/json"
	"strings"
	"time"
)

// ClientCredentials identifies this application to the provider.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Configured reports whether both the client ID and secret are present.
func (c ClientCredentials) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// TokenSet is the persisted result of a successful token grant.
// It is always replaced as a whole.
type TokenSet struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type,omitempty"`
	Expiry       time.Time       `json:"expiry,omitempty"`
	IssuedAt     time.Time       `json:"issued_at,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Renewable reports whether the set carries a refresh token.
// A renewable set is kept even after its access token expires.
func (t *TokenSet) Renewable() bool {
	return t != nil && t.RefreshToken != ""
}

// ValidAt reports whether the access token is usable at now plus leeway.
// A zero expiry is treated as already expired.
func (t *TokenSet) ValidAt(now time.Time, leeway time.Duration) bool {
	if t == nil || t.AccessToken == "" || t.Expiry.IsZero() {
		return false
	}
	return now.Add(leeway).Before(t.Expiry)
}

// TenantBinding records the provider tenant a TokenSet grants access to.
// Unverified is set after a failed renewal and cleared by the next
// successful tenant resolution.
type TenantBinding struct {
	TenantID   string `json:"tenant_id"`
	Unverified bool   `json:"unverified,omitempty"`
}

// Bound reports whether a tenant ID is present.
func (b *TenantBinding) Bound() bool {
	return b != nil && b.TenantID != ""
}

// Trusted reports whether the binding is present and was not invalidated
// by a failed renewal.
func (b *TenantBinding) Trusted() bool {
	return b.Bound() && !b.Unverified
}
