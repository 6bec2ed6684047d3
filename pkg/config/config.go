// Package config loads service settings from the environment, optional
// .env files and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/store"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the settings shared by the oauth-server and mcp-server binaries.
type Config struct {
	Addr           string        `validate:"required"`
	RedirectURL    string        `validate:"required,url"`
	ClientID       string        `validate:"required_with=ClientSecret"`
	ClientSecret   string        `validate:"required_with=ClientID"`
	LogLevel       string        `validate:"omitempty,oneof=DEBUG INFO WARN WARNING ERROR debug info warn warning error"`
	RenewInterval  time.Duration `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	Store          StoreConfig
}

// StoreConfig selects and configures the settings backend.
type StoreConfig struct {
	Type          string `validate:"oneof=memory redis file"`
	RedisAddr     string `validate:"required_if=Type redis"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	Dir           string `validate:"required_if=Type file"`
}

// LoadEnv loads the given .env files into the process environment.
// Missing files are skipped and existing variables are never overridden.
func LoadEnv(files ...string) error {
	for _, file := range files {
		if strings.HasPrefix(file, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			file = strings.Replace(file, "~", home, 1)
		}
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// FromEnv returns the defaults overlaid with XERO_* environment variables.
func FromEnv() *Config {
	return &Config{
		Addr:           getenv("XERO_ADDR", ":8095"),
		RedirectURL:    getenv("XERO_REDIRECT_URL", "http://localhost:8095/xero/authorize"),
		ClientID:       os.Getenv("XERO_CLIENT_ID"),
		ClientSecret:   os.Getenv("XERO_CLIENT_SECRET"),
		LogLevel:       os.Getenv("XERO_LOG_LEVEL"),
		RenewInterval:  getenvDuration("XERO_RENEW_INTERVAL", 24*time.Hour),
		RequestTimeout: getenvDuration("XERO_REQUEST_TIMEOUT", 30*time.Second),
		Store: StoreConfig{
			Type:          getenv("XERO_STORE", string(store.StoreTypeMemory)),
			RedisAddr:     getenv("XERO_REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("XERO_REDIS_PASSWORD"),
			RedisDB:       getenvInt("XERO_REDIS_DB", 0),
			Dir:           os.Getenv("XERO_STORE_DIR"),
		},
	}
}

// RegisterFlags binds every field to a flag on fs, using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "address to listen on")
	fs.StringVar(&c.RedirectURL, "redirect-url", c.RedirectURL, "OAuth 2.0 redirect URL registered with Xero")
	fs.StringVar(&c.ClientID, "client_id", c.ClientID, "Xero OAuth 2.0 client ID, written to the settings store when set")
	fs.StringVar(&c.ClientSecret, "client_secret", c.ClientSecret, "Xero OAuth 2.0 client secret, written to the settings store when set")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	fs.DurationVar(&c.RenewInterval, "renew-interval", c.RenewInterval, "interval between background token renewals, 0 disables")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "timeout for each call to Xero")
	fs.StringVar(&c.Store.Type, "store", c.Store.Type, "Store type: memory, redis or file")
	fs.StringVar(&c.Store.RedisAddr, "redis-addr", c.Store.RedisAddr, "Redis address (only used when store=redis)")
	fs.StringVar(&c.Store.RedisPassword, "redis-password", c.Store.RedisPassword, "Redis password (only used when store=redis)")
	fs.IntVar(&c.Store.RedisDB, "redis-db", c.Store.RedisDB, "Redis database (only used when store=redis)")
	fs.StringVar(&c.Store.Dir, "store-dir", c.Store.Dir, "settings directory (only used when store=file)")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Credentials returns the configured client credentials, which may be empty.
func (c *Config) Credentials() core.ClientCredentials {
	return core.ClientCredentials{
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
	}
}

// evaluationMargin covers lock handoff and storage writes on top of the
// outbound calls of one evaluation.
const evaluationMargin = 15 * time.Second

// EvaluationTimeout is the longest one evaluation can take: a refresh and a
// tenant lookup, then a code exchange and a second tenant lookup.
func (c *Config) EvaluationTimeout() time.Duration {
	return 4*c.RequestTimeout + evaluationMargin
}

// StoreOptions converts the store section for store.NewStore.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Type: store.ParseStoreType(c.Store.Type),
		Redis: store.RedisOptions{
			Addr:     c.Store.RedisAddr,
			Password: c.Store.RedisPassword,
			DB:       c.Store.RedisDB,
			LockTTL:  max(c.EvaluationTimeout(), store.DefaultLockTTL),
		},
		Dir: c.Store.Dir,
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}
