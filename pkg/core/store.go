package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSettingNotFound is returned by a SettingsStore for a setting that was never written.
	ErrSettingNotFound = errors.New("setting not found")
	// ErrSessionValueNotFound is returned by a SessionStore for a missing or expired value.
	ErrSessionValueNotFound = errors.New("session value not found")
)

// Settings keys shared by every SettingsStore backend.
const (
	SettingClientID     = "xero_client_id"
	SettingClientSecret = "xero_client_secret"
	SettingAccessToken  = "xero_access_token"
	SettingTenantID     = "xero_tenant_id"
	// SettingTenantStatus is "verified" or "unverified". A missing value reads as verified.
	SettingTenantStatus = "xero_tenant_status"
)

// Values of SettingTenantStatus.
const (
	TenantVerified   = "verified"
	TenantUnverified = "unverified"
)

// SettingsStore is a process-wide key-value store for named settings.
// Values are read and written whole; AddSettings writes several keys atomically.
type SettingsStore interface {
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
	AddSettings(ctx context.Context, values map[string]string) error
}

// SessionStore keeps short-lived values scoped to one browser session.
// TakeSessionValue returns the value and removes it in the same operation.
type SessionStore interface {
	PutSessionValue(ctx context.Context, sessionID, key, value string, ttl time.Duration) error
	TakeSessionValue(ctx context.Context, sessionID, key string) (string, error)
}

// Locker provides mutual exclusion keyed by name.
// The returned unlock function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Store combines the settings, session and locking capabilities of a backend.
type Store interface {
	SettingsStore
	SessionStore
	Locker
	Close() error
}
