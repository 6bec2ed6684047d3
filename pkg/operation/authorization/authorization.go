// Package authorization provides MCP tools that report the Xero
// authorization state and the access token currently in use.
package authorization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool reports the authorization status, renewing silently when needed.
var StatusTool = mcp.NewTool("xero_authorization_status",
	mcp.WithDescription(`Xero Authorization Status Tool

Description:
  Evaluates the stored Xero credential. A valid token is reported as is, an
  expired one is renewed with its refresh token. When renewal is impossible
  the status is "needs_authorization" and a user must visit /xero/connect.

Input Parameters:
  - force_renewal (boolean, optional): Refresh the token even if it is still valid.

Output:
  - JSON object with status, tenant_id, scopes and expires_at.
    status is one of: not_configured, authorized, needs_authorization.`),
	mcp.WithBoolean("force_renewal",
		mcp.Description("Refresh the access token even when it has not expired."),
	),
)

// ShowAccessTokenTool shows the masked access token and its tenant.
var ShowAccessTokenTool = mcp.NewTool("xero_show_access_token",
	mcp.WithDescription("Show the current Xero access token (masked), its tenant ID and expiry"),
)

// Evaluator runs one authorization evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req authz.Request) (*authz.Report, error)
}

// SnapshotLoader reads the persisted authorization state.
type SnapshotLoader interface {
	Load(ctx context.Context) (*authz.Snapshot, error)
}

// Handlers serves the authorization tools.
type Handlers struct {
	evaluator Evaluator
	tokens    SnapshotLoader
}

// NewHandlers creates the tool handlers.
func NewHandlers(evaluator Evaluator, tokens SnapshotLoader) *Handlers {
	return &Handlers{evaluator: evaluator, tokens: tokens}
}

// HandleStatus is the handler for xero_authorization_status. Tool calls have
// no browser session, so no authorization URL is produced.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	force, _ := req.GetArguments()["force_renewal"].(bool)

	report, err := h.evaluator.Evaluate(ctx, authz.Request{ForceRenewal: force})
	if err != nil {
		logger.Error("authorization evaluation failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("authorization evaluation failed: %v", err)), nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	logger.Info("reported xero authorization status", "status", report.Status)
	return mcp.NewToolResultText(string(body)), nil
}

type tokenView struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Verified    bool      `json:"tenant_verified"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// HandleShowAccessToken is the handler for xero_show_access_token.
func (h *Handlers) HandleShowAccessToken(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.tokens.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token set: %w", err)
	}
	if snap.Tokens == nil || snap.Tokens.AccessToken == "" {
		return mcp.NewToolResultError(errNoToken.Error()), nil
	}

	view := tokenView{
		AccessToken: Mask(snap.Tokens.AccessToken),
		TokenType:   snap.Tokens.TokenType,
		ExpiresAt:   snap.Tokens.Expiry,
	}
	if snap.Tenant.Bound() {
		view.TenantID = snap.Tenant.TenantID
		view.Verified = snap.Tenant.Trusted()
	}

	body, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}

var errNoToken = errors.New("no xero access token stored")

// Mask keeps the first 6 and last 2 characters of a token.
func Mask(token string) string {
	switch {
	case len(token) > 8:
		return token[:6] + "****" + token[len(token)-2:]
	case len(token) > 0:
		return "****"
	default:
		return ""
	}
}
