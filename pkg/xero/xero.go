// Package xero talks to the Xero identity and connections endpoints.
package xero

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

const (
	// AuthorizeURL is the Xero authorization endpoint.
	AuthorizeURL = "https://login.xero.com/identity/connect/authorize"
	// TokenURL is the Xero token endpoint.
	TokenURL = "https://identity.xero.com/connect/token"
	// ConnectionsURL lists the tenants a token has been granted.
	ConnectionsURL = "https://api.xero.com/connections"

	// DefaultRequestTimeout bounds every outbound call.
	DefaultRequestTimeout = 30 * time.Second
)

// Scopes is requested on every authorization. offline_access yields the refresh token.
var Scopes = []string{
	"offline_access",
	"accounting.settings",
	"accounting.transactions",
	"accounting.contacts",
	"accounting.journals.read",
	"accounting.reports.read",
}

// ScopeString returns the scopes joined the way the authorize endpoint expects.
func ScopeString(scopes []string) string {
	return strings.Join(scopes, " ")
}

var tracer = otel.Tracer("github.com/go-training/xero-oauth/pkg/xero")

var (
	// ErrTransport marks failures to reach the provider, including timeouts.
	ErrTransport = errors.New("xero: transport failure")
	// ErrProtocol marks malformed, incomplete or error responses from the provider.
	ErrProtocol = errors.New("xero: protocol failure")
	// ErrInvalidGrant marks a rejected code or refresh token. It always comes with ErrProtocol.
	ErrInvalidGrant = errors.New("xero: invalid grant")
	// ErrMissingRefreshToken is returned when a grant response has no refresh_token.
	ErrMissingRefreshToken = errors.New("xero: token response missing refresh_token")
	// ErrMissingAccessToken is returned when a grant response has no access_token.
	ErrMissingAccessToken = errors.New("xero: token response missing access_token")
	// ErrNoTenant is returned when the connections list yields no tenant ID.
	ErrNoTenant = errors.New("xero: no connected tenant")
)

// Classify returns "transport", "invalid_grant", "protocol" or "ok" for err.
// It is meant for logs and metric labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	default:
		return "protocol"
	}
}

// transportError reports whether err came from the HTTP round trip itself.
func transportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func wrapTransport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
