package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

const (
	// Key prefixes for Redis storage. The {xero} hash tag keeps every
	// setting in one cluster slot so MSET stays atomic.
	settingPrefix = "setting:{xero}:"
	sessionPrefix = "session:"
	lockPrefix    = "lock:"

	// DefaultLockTTL bounds how long a crashed holder can keep a lock.
	// A live holder keeps extending it until release.
	DefaultLockTTL = 60 * time.Second
	// lockRetryInterval is the polling interval while waiting for a lock.
	lockRetryInterval = 50 * time.Millisecond
)

// releaseLockScript deletes the lock only when it still holds our token.
var releaseLockScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendLockScript resets the lock expiry only when it still holds our token.
var extendLockScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore implements the core.Store interface using Redis via rueidis.
// It provides persistent settings, expiring session values and a distributed lock.
type RedisStore struct {
	client  rueidis.Client
	lockTTL time.Duration
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		lockTTL: DefaultLockTTL,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// LockTTL is the lock expiry. Zero means DefaultLockTTL.
	LockTTL time.Duration
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	store, err := NewRedisStoreFromClientOption(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, err
	}
	if opts.LockTTL > 0 {
		store.lockTTL = opts.LockTTL
	}
	return store, nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}

// GetSetting reads a setting without client-side caching so every call sees
// the latest persisted value.
func (r *RedisStore) GetSetting(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySettingName
	}

	cmd := r.client.B().Get().Key(settingPrefix + name).Build()
	value, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting from redis: %w", err)
	}
	return value, nil
}

// SetSetting stores a single setting without expiry.
func (r *RedisStore) SetSetting(ctx context.Context, name, value string) error {
	if name == "" {
		return ErrEmptySettingName
	}

	cmd := r.client.B().Set().Key(settingPrefix + name).Value(value).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save setting to redis: %w", err)
	}
	return nil
}

// AddSettings writes all values with a single MSET, which Redis applies atomically.
func (r *RedisStore) AddSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return ErrNoSettings
	}

	kv := r.client.B().Mset().KeyValue()
	for name, value := range values {
		if name == "" {
			return ErrEmptySettingName
		}
		kv = kv.KeyValue(settingPrefix+name, value)
	}

	if err := r.client.Do(ctx, kv.Build()).Error(); err != nil {
		return fmt.Errorf("failed to save settings to redis: %w", err)
	}
	return nil
}

// PutSessionValue stores a session value with a TTL.
func (r *RedisStore) PutSessionValue(ctx context.Context, sessionID, key, value string, ttl time.Duration) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if key == "" {
		return ErrEmptySessionKey
	}

	redisKey := sessionPrefix + sessionID + ":" + key
	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = r.client.B().Set().Key(redisKey).Value(value).PxMilliseconds(ttl.Milliseconds()).Build()
	} else {
		cmd = r.client.B().Set().Key(redisKey).Value(value).Build()
	}
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save session value to redis: %w", err)
	}
	return nil
}

// TakeSessionValue reads and deletes a session value with GETDEL.
func (r *RedisStore) TakeSessionValue(ctx context.Context, sessionID, key string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	if key == "" {
		return "", ErrEmptySessionKey
	}

	cmd := r.client.B().Getdel().Key(sessionPrefix + sessionID + ":" + key).Build()
	value, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", ErrSessionValueNotFound
		}
		return "", fmt.Errorf("failed to take session value from redis: %w", err)
	}
	return value, nil
}

// Lock acquires a distributed lock with SET NX PX, polling until ctx is done.
// While held, the expiry is renewed every third of the TTL, so the lock only
// lapses when the holder stops running.
func (r *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyLockKey
	}

	redisKey := lockPrefix + key
	token := uuid.New().String()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		cmd := r.client.B().Set().Key(redisKey).Value(token).Nx().PxMilliseconds(r.lockTTL.Milliseconds()).Build()
		err := r.client.Do(ctx, cmd).Error()
		if err == nil {
			return r.unlockFunc(redisKey, token), nil
		}
		if !rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("failed to acquire redis lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisStore) unlockFunc(redisKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepLock(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// Release even when the caller's context is already cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseLockScript.Exec(ctx, r.client, []string{redisKey}, []string{token}).Error(); err != nil {
				slog.Warn("failed to release redis lock", "key", redisKey, "error", err)
			}
		})
	}
}

// keepLock extends the lock until stop is closed or the lock is lost.
func (r *RedisStore) keepLock(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.lockTTL / 3
	ttl := strconv.FormatInt(r.lockTTL.Milliseconds(), 10)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := extendLockScript.Exec(ctx, r.client, []string{redisKey}, []string{token, ttl}).AsInt64()
		cancel()
		switch {
		case err != nil:
			slog.Warn("failed to extend redis lock", "key", redisKey, "error", err)
		case held == 0:
			slog.Error("redis lock expired while held", "key", redisKey)
			return
		}
	}
}
