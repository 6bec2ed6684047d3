package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	// SettingsFileName is the JSON file holding all settings.
	SettingsFileName = "settings.json"

	settingsLockName = ".settings.lock"
	locksDirName     = "locks"

	fileLockTimeout    = 10 * time.Second
	fileLockRetryDelay = 20 * time.Millisecond
)

// FileStore implements the core.Store interface with a JSON settings file.
// Writes hold an exclusive flock and replace the file by rename, so other
// processes sharing the directory never read a half-written file.
// Session values are ephemeral and stay in process memory.
type FileStore struct {
	dir string

	*sessionMap
}

// NewFileStore creates the directory if needed and returns a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, locksDirName), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create file store directory: %w", err)
	}
	return &FileStore{
		dir:        dir,
		sessionMap: newSessionMap(),
	}, nil
}

// Path returns the full path to the settings file.
func (f *FileStore) Path() string {
	return filepath.Join(f.dir, SettingsFileName)
}

// Close is a no-op for the file store.
func (f *FileStore) Close() error {
	return nil
}

// GetSetting reads the settings file under a shared lock.
func (f *FileStore) GetSetting(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySettingName
	}

	var value string
	var exists bool
	err := f.withLock(ctx, filepath.Join(f.dir, settingsLockName), true, func() error {
		settings, err := f.load()
		if err != nil {
			return err
		}
		value, exists = settings[name]
		return nil
	})
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrSettingNotFound
	}
	return value, nil
}

// SetSetting stores one setting.
func (f *FileStore) SetSetting(ctx context.Context, name, value string) error {
	if name == "" {
		return ErrEmptySettingName
	}
	return f.AddSettings(ctx, map[string]string{name: value})
}

// AddSettings merges values into the settings file in one read-modify-write cycle.
func (f *FileStore) AddSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return ErrNoSettings
	}
	for name := range values {
		if name == "" {
			return ErrEmptySettingName
		}
	}

	return f.withLock(ctx, filepath.Join(f.dir, settingsLockName), false, func() error {
		settings, err := f.load()
		if err != nil {
			return err
		}
		for name, value := range values {
			settings[name] = value
		}
		return f.save(settings)
	})
}

// Lock takes an exclusive flock on a per-key lock file, so the lock also
// excludes other processes using the same directory.
func (f *FileStore) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyLockKey
	}

	fl := flock.New(filepath.Join(f.dir, locksDirName, lockFileName(key)))
	locked, err := fl.TryLockContext(ctx, fileLockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire file lock %q", key)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (f *FileStore) withLock(ctx context.Context, path string, shared bool, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, fileLockTimeout)
	defer cancel()

	fl := flock.New(path)
	var locked bool
	var err error
	if shared {
		locked, err = fl.TryRLockContext(ctx, fileLockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, fileLockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to lock settings file: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock settings file")
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// load reads the settings file; the caller must hold the settings lock.
func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings := make(map[string]string)
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings file: %w", err)
	}
	return settings, nil
}

// save writes the settings file atomically; the caller must hold the settings lock.
func (f *FileStore) save(settings map[string]string) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.%d.tmp", f.Path(), os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// lockFileName maps an arbitrary lock key to a safe file name.
func lockFileName(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return replacer.Replace(key) + ".lock"
}
