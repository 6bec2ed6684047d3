package authz

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"

	"golang.org/x/oauth2"
)

const (
	stateNamespace = "xero"
	stateKey       = "oauth2state"

	// DefaultStateTTL is how long an issued state stays redeemable.
	DefaultStateTTL = 10 * time.Minute
)

// StateGuard issues and verifies the anti-CSRF state for one session.
type StateGuard interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	// Verify consumes the issued state. It reports false for every
	// candidate when nothing was issued.
	Verify(ctx context.Context, sessionID, candidate string) (bool, error)
}

// SessionStateGuard keeps the state in a core.SessionStore.
type SessionStateGuard struct {
	sessions core.SessionStore
	ttl      time.Duration
	generate func() string
}

// NewSessionStateGuard creates a SessionStateGuard with DefaultStateTTL.
func NewSessionStateGuard(sessions core.SessionStore) *SessionStateGuard {
	return &SessionStateGuard{
		sessions: sessions,
		ttl:      DefaultStateTTL,
		// 32 random bytes, base64url encoded.
		generate: oauth2.GenerateVerifier,
	}
}

// Issue stores a fresh state for sessionID, replacing any earlier one.
func (g *SessionStateGuard) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}
	state := g.generate()
	if err := g.sessions.PutSessionValue(ctx, sessionID, sessionStateKey(), state, g.ttl); err != nil {
		return "", fmt.Errorf("store authorization state: %w", err)
	}
	return state, nil
}

// Verify takes the stored state and compares it with candidate in constant time.
func (g *SessionStateGuard) Verify(ctx context.Context, sessionID, candidate string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	stored, err := g.sessions.TakeSessionValue(ctx, sessionID, sessionStateKey())
	if errors.Is(err, core.ErrSessionValueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read authorization state: %w", err)
	}
	if stored == "" || candidate == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1, nil
}

func sessionStateKey() string {
	return stateNamespace + ":" + stateKey
}
