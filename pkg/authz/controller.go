// Package authz decides, on every invocation, whether the stored Xero
// credential is usable, renews it silently when possible, and otherwise
// drives the interactive authorization-code flow.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/metrics"
	"github.com/go-training/xero-oauth/pkg/xero"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -source=controller.go -destination=mocks/mocks.go -package=mocks Negotiator,TenantResolver

// DefaultRenewLeeway is how long before expiry an access token stops counting as valid.
const DefaultRenewLeeway = 60 * time.Second

var tracer = otel.Tracer("github.com/go-training/xero-oauth/pkg/authz")

// Negotiator performs the OAuth2 operations for one set of client credentials.
type Negotiator interface {
	AuthorizationURL(scopes []string, state string) string
	ExchangeCode(ctx context.Context, code string) (*core.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*core.TokenSet, error)
}

// NegotiatorFunc builds a Negotiator for the credentials read at evaluation time.
type NegotiatorFunc func(creds core.ClientCredentials) Negotiator

// TenantResolver finds the tenant an access token grants.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, accessToken string) (string, error)
}

// State is the position of the credential in the authorization lifecycle.
type State int

const (
	Unconfigured State = iota
	Unauthorized
	PendingCallback
	Authorized
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Unauthorized:
		return "unauthorized"
	case PendingCallback:
		return "pending_callback"
	case Authorized:
		return "authorized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the outcome reported by Evaluate.
type Status string

const (
	StatusNotConfigured          Status = "not_configured"
	StatusAuthorized             Status = "authorized"
	StatusNeedsAuthorization     Status = "needs_authorization"
	StatusAuthorizationCompleted Status = "authorization_completed"
)

// Callback carries the query parameters of a provider redirect.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Request is one evaluation input.
type Request struct {
	// SessionID scopes the anti-CSRF state. Without it no authorization URL is produced.
	SessionID string
	Callback  Callback
	// ForceRenewal refreshes even when the access token is still valid.
	ForceRenewal bool
}

// ProviderError is an error the provider sent back on the callback.
type ProviderError struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Report is the result of one evaluation.
type Report struct {
	Status           Status         `json:"status"`
	State            State          `json:"-"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
	TenantID         string         `json:"tenant_id,omitempty"`
	Scopes           []string       `json:"scopes,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at,omitzero"`
	ProviderError    *ProviderError `json:"provider_error,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocker sets the lock used to serialize evaluations per client ID.
func WithLocker(l core.Locker) Option {
	return func(c *Controller) {
		if l != nil {
			c.locker = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRenewLeeway sets how close to expiry a token is renewed.
func WithRenewLeeway(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.leeway = d
		}
	}
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes []string) Option {
	return func(c *Controller) {
		if len(scopes) > 0 {
			c.scopes = scopes
		}
	}
}

// Controller is the authorization lifecycle state machine.
type Controller struct {
	store       TokenStore
	guard       StateGuard
	negotiators NegotiatorFunc
	resolver    TenantResolver
	locker      core.Locker
	metrics     *metrics.Metrics
	now         func() time.Time
	leeway      time.Duration
	scopes      []string
}

// New creates a Controller. Without WithLocker evaluations are serialized
// within the process only.
func New(store TokenStore, guard StateGuard, negotiators NegotiatorFunc, resolver TenantResolver, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		guard:       guard,
		negotiators: negotiators,
		resolver:    resolver,
		locker:      core.NewKeyedMutex(),
		now:         time.Now,
		leeway:      DefaultRenewLeeway,
		scopes:      xero.Scopes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockKey is the Locker key guarding the token set of clientID.
func LockKey(clientID string) string {
	return "xero_token:" + clientID
}

// Evaluate runs one pass of the lifecycle. Expected renewal failures are
// logged and fall through to the interactive flow; only state mismatches,
// failed callbacks and storage failures are returned as errors.
func (c *Controller) Evaluate(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "authz.Evaluate", trace.WithAttributes(
		attribute.Bool("authz.callback", req.Callback.Code != ""),
		attribute.Bool("authz.force_renewal", req.ForceRenewal),
	))
	defer span.End()

	report, err := c.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveEvaluation("error")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("authz.status", string(report.Status)),
		attribute.String("authz.state", report.State.String()),
	)
	c.metrics.ObserveEvaluation(string(report.Status))
	return report, nil
}

func (c *Controller) evaluate(ctx context.Context, req Request) (*Report, error) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load authorization state: %w", err)
	}
	if !snap.Credentials.Configured() {
		return c.unconfigured(ctx), nil
	}

	unlock, err := c.locker.Lock(ctx, LockKey(snap.Credentials.ClientID))
	if err != nil {
		return nil, fmt.Errorf("acquire token lock: %w", err)
	}
	defer unlock()

	// Another holder may have renewed while this call waited for the lock.
	snap, err = c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload authorization state: %w", err)
	}
	if !snap.Credentials.Configured() {
		return c.unconfigured(ctx), nil
	}

	negotiator := c.negotiators(snap.Credentials)

	if snap.Tokens.Renewable() {
		report, err := c.renew(ctx, negotiator, snap, req.ForceRenewal)
		switch {
		case err == nil:
			return report, nil
		case isStorageFailure(err):
			return nil, err
		}
	}

	if req.Callback.Code != "" {
		return c.completeAuthorization(ctx, negotiator, req)
	}
	return c.requestAuthorization(ctx, negotiator, req)
}

func (c *Controller) unconfigured(ctx context.Context) *Report {
	core.LoggerFromCtx(ctx).Debug("xero client credentials are not configured")
	return &Report{Status: StatusNotConfigured, State: Unconfigured}
}

// renew is the Authorized transition. It returns the report on success and
// a classified error when the caller should fall back to authorization.
func (c *Controller) renew(ctx context.Context, n Negotiator, snap *Snapshot, force bool) (*Report, error) {
	logger := core.LoggerFromCtx(ctx)

	if !force && snap.Tenant.Trusted() && snap.Tokens.ValidAt(c.now(), c.leeway) {
		c.metrics.ObserveRenewal("skipped")
		return c.authorized(StatusAuthorized, snap.Tokens, snap.Tenant.TenantID), nil
	}

	tokens, err := n.Refresh(ctx, snap.Tokens.RefreshToken)
	if err == nil {
		err = requireTokens(tokens)
	}
	if err != nil {
		class := xero.Classify(err)
		logger.Info("silent token renewal failed", "class", class, "error", err)
		c.metrics.ObserveRenewal(class)
		return nil, c.distrustTenant(ctx, snap, err)
	}

	tenantID, err := c.resolver.ResolveTenant(ctx, tokens.AccessToken)
	if err != nil {
		// The refreshed tokens are not persisted without a verified tenant.
		class := xero.Classify(err)
		logger.Warn("tenant lookup failed after renewal", "class", class, "error", err)
		c.metrics.ObserveRenewal("tenant_" + class)
		return nil, c.distrustTenant(ctx, snap, err)
	}

	if err := c.persist(ctx, tokens, tenantID); err != nil {
		c.metrics.ObserveRenewal("storage")
		return nil, err
	}

	if snap.Tenant.Bound() && snap.Tenant.TenantID != tenantID {
		logger.Info("xero tenant binding changed", "previous_tenant_id", snap.Tenant.TenantID, "tenant_id", tenantID)
	}
	logger.Info("xero token renewed", "tenant_id", tenantID, "expires_at", tokens.Expiry)
	c.metrics.ObserveRenewal("ok")
	return c.authorized(StatusAuthorized, tokens, tenantID), nil
}

// distrustTenant flags the stored binding after a failed renewal so a still
// valid access token is not reported as authorized on the next call. It
// returns cause unless the flag itself could not be written.
func (c *Controller) distrustTenant(ctx context.Context, snap *Snapshot, cause error) error {
	if !snap.Tenant.Trusted() {
		return cause
	}
	if err := c.store.MarkTenantUnverified(ctx); err != nil {
		c.metrics.ObserveRenewal("storage")
		return &storageError{err: err}
	}
	core.LoggerFromCtx(ctx).Info("xero tenant binding marked unverified", "tenant_id", snap.Tenant.TenantID)
	return cause
}

// completeAuthorization is the PendingCallback to Authorized transition.
func (c *Controller) completeAuthorization(ctx context.Context, n Negotiator, req Request) (*Report, error) {
	logger := core.LoggerFromCtx(ctx)

	ok, err := c.guard.Verify(ctx, req.SessionID, req.Callback.State)
	if err != nil {
		c.metrics.ObserveCallback("storage")
		return nil, fmt.Errorf("verify authorization state: %w", err)
	}
	if !ok {
		logger.Warn("rejecting xero callback with mismatched state")
		c.metrics.ObserveCallback("state_mismatch")
		return nil, ErrStateMismatch
	}

	tokens, err := n.ExchangeCode(ctx, req.Callback.Code)
	if err == nil {
		err = requireTokens(tokens)
	}
	if err != nil {
		c.metrics.ObserveCallback(xero.Classify(err))
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	tenantID, err := c.resolver.ResolveTenant(ctx, tokens.AccessToken)
	if err != nil {
		c.metrics.ObserveCallback("tenant_" + xero.Classify(err))
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	if err := c.persist(ctx, tokens, tenantID); err != nil {
		c.metrics.ObserveCallback("storage")
		return nil, err
	}

	logger.Info("xero authorization completed", "tenant_id", tenantID, "expires_at", tokens.Expiry)
	c.metrics.ObserveCallback("ok")
	return c.authorized(StatusAuthorizationCompleted, tokens, tenantID), nil
}

// requestAuthorization is the Unauthorized to PendingCallback transition.
func (c *Controller) requestAuthorization(ctx context.Context, n Negotiator, req Request) (*Report, error) {
	report := &Report{
		Status: StatusNeedsAuthorization,
		State:  Unauthorized,
		Scopes: c.scopes,
	}

	if req.Callback.Error != "" {
		core.LoggerFromCtx(ctx).Warn("xero returned an authorization error",
			"error", req.Callback.Error,
			"error_description", req.Callback.ErrorDescription,
		)
		c.metrics.ObserveCallback("provider_error")
		report.ProviderError = &ProviderError{
			Code:        req.Callback.Error,
			Description: req.Callback.ErrorDescription,
		}
	}

	if req.SessionID == "" {
		return report, nil
	}

	state, err := c.guard.Issue(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("issue authorization state: %w", err)
	}
	report.State = PendingCallback
	report.AuthorizationURL = n.AuthorizationURL(c.scopes, state)
	return report, nil
}

func (c *Controller) authorized(status Status, tokens *core.TokenSet, tenantID string) *Report {
	return &Report{
		Status:    status,
		State:     Authorized,
		TenantID:  tenantID,
		Scopes:    c.scopes,
		ExpiresAt: tokens.Expiry,
	}
}

func (c *Controller) persist(ctx context.Context, tokens *core.TokenSet, tenantID string) error {
	if err := c.store.Save(ctx, *tokens, core.TenantBinding{TenantID: tenantID}); err != nil {
		return &storageError{err: fmt.Errorf("persist token set: %w", err)}
	}
	return nil
}

func requireTokens(tokens *core.TokenSet) error {
	switch {
	case tokens == nil || tokens.AccessToken == "":
		return fmt.Errorf("%w: %w", xero.ErrProtocol, xero.ErrMissingAccessToken)
	case tokens.RefreshToken == "":
		return fmt.Errorf("%w: %w", xero.ErrProtocol, xero.ErrMissingRefreshToken)
	}
	return nil
}

// storageError marks failures that must not fall back to authorization.
type storageError struct {
	err error
}

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func isStorageFailure(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}
