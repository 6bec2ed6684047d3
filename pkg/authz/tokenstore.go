package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-training/xero-oauth/pkg/core"
)

// Snapshot is the persisted authorization state read in one Load.
// Tokens and Tenant are nil when absent.
type Snapshot struct {
	Credentials core.ClientCredentials
	Tokens      *core.TokenSet
	Tenant      *core.TenantBinding
}

// TokenStore persists credentials, the token set and the tenant binding.
type TokenStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	// Save writes the token set and tenant binding together or not at all.
	Save(ctx context.Context, tokens core.TokenSet, tenant core.TenantBinding) error
	SaveCredentials(ctx context.Context, creds core.ClientCredentials) error
	// MarkTenantUnverified flags the stored binding as stale until the next Save.
	MarkTenantUnverified(ctx context.Context) error
}

// SettingsTokenStore is a TokenStore over a core.SettingsStore.
// It reads through on every Load.
type SettingsTokenStore struct {
	settings core.SettingsStore
}

// NewSettingsTokenStore creates a SettingsTokenStore.
func NewSettingsTokenStore(settings core.SettingsStore) *SettingsTokenStore {
	return &SettingsTokenStore{settings: settings}
}

// Load reads the current snapshot. A token blob that cannot be decoded
// is logged and treated as absent.
func (s *SettingsTokenStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	clientID, err := s.get(ctx, core.SettingClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := s.get(ctx, core.SettingClientSecret)
	if err != nil {
		return nil, err
	}
	snap.Credentials = core.ClientCredentials{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}

	blob, err := s.get(ctx, core.SettingAccessToken)
	if err != nil {
		return nil, err
	}
	if blob != "" {
		var tokens core.TokenSet
		if err := json.Unmarshal([]byte(blob), &tokens); err != nil {
			core.LoggerFromCtx(ctx).Warn("discarding unreadable stored token set", "error", err)
		} else {
			snap.Tokens = &tokens
		}
	}

	tenantID, err := s.get(ctx, core.SettingTenantID)
	if err != nil {
		return nil, err
	}
	if tenantID != "" {
		status, err := s.get(ctx, core.SettingTenantStatus)
		if err != nil {
			return nil, err
		}
		snap.Tenant = &core.TenantBinding{
			TenantID:   tenantID,
			Unverified: status == core.TenantUnverified,
		}
	}

	return snap, nil
}

// Save writes the token set, the tenant and its verified status in a
// single AddSettings call.
func (s *SettingsTokenStore) Save(ctx context.Context, tokens core.TokenSet, tenant core.TenantBinding) error {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return ErrIncompleteTokenSet
	}
	if !tenant.Bound() {
		return ErrTenantUnbound
	}

	blob, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode token set: %w", err)
	}

	err = s.settings.AddSettings(ctx, map[string]string{
		core.SettingAccessToken:  string(blob),
		core.SettingTenantID:     tenant.TenantID,
		core.SettingTenantStatus: core.TenantVerified,
	})
	if err != nil {
		return fmt.Errorf("save token set: %w", err)
	}
	return nil
}

// MarkTenantUnverified records that the stored binding could not be
// confirmed. The token set and tenant ID are left in place.
func (s *SettingsTokenStore) MarkTenantUnverified(ctx context.Context) error {
	if err := s.settings.SetSetting(ctx, core.SettingTenantStatus, core.TenantUnverified); err != nil {
		return fmt.Errorf("mark tenant unverified: %w", err)
	}
	return nil
}

// SaveCredentials writes the client ID and secret.
func (s *SettingsTokenStore) SaveCredentials(ctx context.Context, creds core.ClientCredentials) error {
	if !creds.Configured() {
		return ErrCredentialsRequired
	}
	err := s.settings.AddSettings(ctx, map[string]string{
		core.SettingClientID:     strings.TrimSpace(creds.ClientID),
		core.SettingClientSecret: strings.TrimSpace(creds.ClientSecret),
	})
	if err != nil {
		return fmt.Errorf("save client credentials: %w", err)
	}
	return nil
}

func (s *SettingsTokenStore) get(ctx context.Context, name string) (string, error) {
	value, err := s.settings.GetSetting(ctx, name)
	if errors.Is(err, core.ErrSettingNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", name, err)
	}
	return value, nil
}
