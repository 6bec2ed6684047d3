package xero

import (
	"net/http"
	"time"
)

type options struct {
	httpClient     *http.Client
	timeout        time.Duration
	authURL        string
	tokenURL       string
	connectionsURL string
	now            func() time.Time
}

// Option configures a Negotiator or ConnectionsClient.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		timeout:        DefaultRequestTimeout,
		authURL:        AuthorizeURL,
		tokenURL:       TokenURL,
		connectionsURL: ConnectionsURL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		// The default transport verifies TLS certificates.
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}

// WithHTTPClient sets the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout bounds each outbound call. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithEndpoints overrides the authorize, token and connections URLs.
// Empty values keep the defaults.
func WithEndpoints(authURL, tokenURL, connectionsURL string) Option {
	return func(o *options) {
		if authURL != "" {
			o.authURL = authURL
		}
		if tokenURL != "" {
			o.tokenURL = tokenURL
		}
		if connectionsURL != "" {
			o.connectionsURL = connectionsURL
		}
	}
}

// WithClock sets the time source used to stamp issued tokens.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
