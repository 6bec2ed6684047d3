package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const invalidGrantCode = "invalid_grant"

// rawTokenFields are copied from the token response into TokenSet.Raw.
var rawTokenFields = []string{"access_token", "refresh_token", "token_type", "expires_in", "scope", "id_token"}

// Negotiator performs the three OAuth2 operations against Xero for one client.
type Negotiator struct {
	config *oauth2.Config
	opts   options
}

// NewNegotiator creates a Negotiator for the given client credentials and redirect URL.
func NewNegotiator(creds core.ClientCredentials, redirectURL string, opts ...Option) *Negotiator {
	o := newOptions(opts)
	return &Negotiator{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  o.authURL,
				TokenURL: o.tokenURL,
				// Basic auth only, so each grant is a single round trip.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		opts: o,
	}
}

// AuthorizationURL builds the provider authorization URL carrying the
// space-joined scopes and the state token.
func (n *Negotiator) AuthorizationURL(scopes []string, state string) string {
	return n.config.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", ScopeString(scopes)))
}

// ExchangeCode redeems an authorization code with the authorization_code grant.
func (n *Negotiator) ExchangeCode(ctx context.Context, code string) (*core.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "xero.ExchangeCode",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth2.grant_type", "authorization_code")),
	)
	defer span.End()

	if code == "" {
		return nil, endSpan(span, fmt.Errorf("exchange authorization code: %w: empty code", ErrProtocol))
	}

	ctx, cancel := n.requestContext(ctx)
	defer cancel()

	tok, err := n.config.Exchange(ctx, code)
	if err != nil {
		return nil, endSpan(span, classifyGrantError("exchange authorization code", err))
	}

	tokens, err := n.tokenSet(tok)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("exchange authorization code: %w", err))
	}
	return tokens, nil
}

// Refresh obtains a new TokenSet with the refresh_token grant.
func (n *Negotiator) Refresh(ctx context.Context, refreshToken string) (*core.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "xero.Refresh",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth2.grant_type", "refresh_token")),
	)
	defer span.End()

	if refreshToken == "" {
		return nil, endSpan(span, fmt.Errorf("refresh token: %w: empty refresh token", ErrProtocol))
	}

	ctx, cancel := n.requestContext(ctx)
	defer cancel()

	// An empty access token is never valid, so the source always hits the token endpoint.
	tok, err := n.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, endSpan(span, classifyGrantError("refresh token", err))
	}

	tokens, err := n.tokenSet(tok)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("refresh token: %w", err))
	}
	return tokens, nil
}

func (n *Negotiator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, n.opts.httpClient)
	return context.WithTimeout(ctx, n.opts.timeout)
}

// tokenSet converts an oauth2 token, insisting that the response itself
// carried both tokens. oauth2 backfills RefreshToken on refresh grants, so
// the raw response field is checked instead.
func (n *Negotiator) tokenSet(tok *oauth2.Token) (*core.TokenSet, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, ErrMissingAccessToken)
	}
	refreshToken, _ := tok.Extra("refresh_token").(string)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, ErrMissingRefreshToken)
	}

	raw := make(map[string]any, len(rawTokenFields))
	for _, field := range rawTokenFields {
		if v := tok.Extra(field); v != nil && v != "" {
			raw[field] = v
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: encode raw token: %w", ErrProtocol, err)
	}

	return &core.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		IssuedAt:     n.opts.now().UTC().Truncate(time.Second),
		Raw:          data,
	}, nil
}

func classifyGrantError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == invalidGrantCode {
			return fmt.Errorf("%s: %w: %w: %w", op, ErrProtocol, ErrInvalidGrant, err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrProtocol, err)
	}
	if transportError(err) {
		return wrapTransport(op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrProtocol, err)
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, Classify(err))
	span.SetAttributes(attribute.String("xero.failure", Classify(err)))
	return err
}
