package authz

import "errors"

var (
	// ErrStateMismatch is returned when a callback's state does not match the
	// value issued to the session. The authorization code is never exchanged.
	ErrStateMismatch = errors.New("authz: authorization state mismatch")
	// ErrNoSession is returned when state is issued without a session ID.
	ErrNoSession = errors.New("authz: session ID is required")
	// ErrIncompleteTokenSet is returned when a token set without both tokens would be persisted.
	ErrIncompleteTokenSet = errors.New("authz: token set requires access and refresh tokens")
	// ErrCredentialsRequired is returned when empty client credentials would be persisted.
	ErrCredentialsRequired = errors.New("authz: client ID and secret are required")
	// ErrTenantUnbound is returned when a token set would be persisted without a tenant.
	ErrTenantUnbound = errors.New("authz: tenant binding is empty")
)
