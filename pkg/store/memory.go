package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"
)

var (
	// ErrSettingNotFound is returned when a setting has never been written.
	ErrSettingNotFound = core.ErrSettingNotFound
	// ErrEmptySettingName is returned when the setting name is empty.
	ErrEmptySettingName = errors.New("setting name cannot be empty")
	// ErrNoSettings is returned when AddSettings is called without any values.
	ErrNoSettings = errors.New("settings cannot be empty")
	// ErrSessionValueNotFound is returned when a session value is missing or expired.
	ErrSessionValueNotFound = core.ErrSessionValueNotFound
	// ErrEmptySessionID is returned when the session ID is empty.
	ErrEmptySessionID = errors.New("session ID cannot be empty")
	// ErrEmptySessionKey is returned when the session key is empty.
	ErrEmptySessionKey = errors.New("session key cannot be empty")
	// ErrEmptyLockKey is returned when the lock key is empty.
	ErrEmptyLockKey = core.ErrEmptyLockKey
)

// MemoryStore implements the core.Store interface using in-memory maps.
// It provides thread-safe storage for settings, session values and locks.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]string

	*sessionMap
	*core.KeyedMutex
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:   make(map[string]string),
		sessionMap: newSessionMap(),
		KeyedMutex: core.NewKeyedMutex(),
	}
}

// GetSetting returns the value stored under name.
// It returns ErrSettingNotFound if the setting does not exist.
func (m *MemoryStore) GetSetting(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySettingName
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.settings[name]
	if !exists {
		return "", ErrSettingNotFound
	}
	return value, nil
}

// SetSetting stores value under name, replacing any previous value.
func (m *MemoryStore) SetSetting(ctx context.Context, name, value string) error {
	if name == "" {
		return ErrEmptySettingName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[name] = value
	return nil
}

// AddSettings stores every value under one lock so readers never observe a partial write.
func (m *MemoryStore) AddSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return ErrNoSettings
	}
	for name := range values {
		if name == "" {
			return ErrEmptySettingName
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, value := range values {
		m.settings[name] = value
	}
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// sessionMap keeps session values in process memory with an expiry per entry.
type sessionMap struct {
	mu     sync.Mutex
	values map[string]sessionEntry
	now    func() time.Time
}

type sessionEntry struct {
	value     string
	expiresAt time.Time
}

func newSessionMap() *sessionMap {
	return &sessionMap{
		values: make(map[string]sessionEntry),
		now:    time.Now,
	}
}

func sessionKey(sessionID, key string) string {
	return sessionID + "\x00" + key
}

// PutSessionValue stores value for the session until ttl elapses.
// A non-positive ttl keeps the value until it is taken.
func (s *sessionMap) PutSessionValue(ctx context.Context, sessionID, key, value string, ttl time.Duration) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if key == "" {
		return ErrEmptySessionKey
	}

	entry := sessionEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[sessionKey(sessionID, key)] = entry
	return nil
}

// TakeSessionValue returns the stored value and removes it.
// It returns ErrSessionValueNotFound if the value is missing or expired.
func (s *sessionMap) TakeSessionValue(ctx context.Context, sessionID, key string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	if key == "" {
		return "", ErrEmptySessionKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionKey(sessionID, key)
	entry, exists := s.values[k]
	if !exists {
		return "", ErrSessionValueNotFound
	}
	delete(s.values, k)

	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		return "", ErrSessionValueNotFound
	}
	return entry.value, nil
}
