package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-training/xero-oauth/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxConnectionsBody caps how much of the connections response is read.
const maxConnectionsBody = 1 << 20

// Connection is one tenant the access token has been granted.
type Connection struct {
	ID             string `json:"id"`
	AuthEventID    string `json:"authEventId,omitempty"`
	TenantID       string `json:"tenantId"`
	TenantType     string `json:"tenantType,omitempty"`
	TenantName     string `json:"tenantName,omitempty"`
	CreatedDateUTC string `json:"createdDateUtc,omitempty"`
	UpdatedDateUTC string `json:"updatedDateUtc,omitempty"`
}

// ConnectionsClient resolves the tenant behind an access token.
type ConnectionsClient struct {
	opts options
}

// NewConnectionsClient creates a ConnectionsClient.
func NewConnectionsClient(opts ...Option) *ConnectionsClient {
	return &ConnectionsClient{opts: newOptions(opts)}
}

// ListConnections returns every connection granted to accessToken.
func (c *ConnectionsClient) ListConnections(ctx context.Context, accessToken string) ([]Connection, error) {
	ctx, span := tracer.Start(ctx, "xero.ListConnections", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	conns, err := c.listConnections(ctx, accessToken)
	if err != nil {
		return nil, endSpan(span, err)
	}
	span.SetAttributes(attribute.Int("xero.connections", len(conns)))
	return conns, nil
}

func (c *ConnectionsClient) listConnections(ctx context.Context, accessToken string) ([]Connection, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("list connections: %w: %w", ErrProtocol, ErrMissingAccessToken)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.connectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list connections: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("list connections", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConnectionsBody))
	if err != nil {
		return nil, wrapTransport("list connections: read body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("list connections: %w: status %d", ErrProtocol, resp.StatusCode)
	}

	var conns []Connection
	if err := json.Unmarshal(body, &conns); err != nil {
		return nil, fmt.Errorf("list connections: %w: decode body: %w", ErrProtocol, err)
	}
	return conns, nil
}

// ResolveTenant returns the tenant ID of the first connection.
func (c *ConnectionsClient) ResolveTenant(ctx context.Context, accessToken string) (string, error) {
	conns, err := c.ListConnections(ctx, accessToken)
	if err != nil {
		return "", err
	}
	conn, err := FirstConnection(conns)
	if err != nil {
		return "", err
	}
	if len(conns) > 1 {
		core.LoggerFromCtx(ctx).Warn("multiple xero connections, binding the first one",
			"connections", len(conns),
			"tenant_id", conn.TenantID,
		)
	}
	return conn.TenantID, nil
}

// FirstConnection picks the first connection in provider order.
// Only one tenant per credential is supported; the rest are ignored.
func FirstConnection(conns []Connection) (Connection, error) {
	if len(conns) == 0 {
		return Connection{}, fmt.Errorf("%w: %w: empty connections list", ErrProtocol, ErrNoTenant)
	}
	if conns[0].TenantID == "" {
		return Connection{}, fmt.Errorf("%w: %w: first connection has no tenantId", ErrProtocol, ErrNoTenant)
	}
	return conns[0], nil
}
