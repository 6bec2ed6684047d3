package main

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestToolOutcome(t *testing.T) {
	tests := []struct {
		name       string
		res        *mcp.CallToolResult
		err        error
		wantStatus string
		wantMsg    string
	}{
		{name: "ok", res: mcp.NewToolResultText("fine"), wantStatus: "ok"},
		{name: "handler error", err: errors.New("boom"), wantStatus: "error", wantMsg: "boom"},
		{name: "tool error", res: mcp.NewToolResultError("no token"), wantStatus: "error", wantMsg: "no token"},
		{name: "empty error", res: &mcp.CallToolResult{IsError: true}, wantStatus: "error", wantMsg: "unknown error with no content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := toolOutcome(tt.res, tt.err)
			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Errorf("toolOutcome() = %q, %q, want %q, %q", status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestToolObservabilityMiddlewarePassesThrough(t *testing.T) {
	want := mcp.NewToolResultText("result")
	handler := ToolObservabilityMiddleware()(func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return want, nil
	})

	req := mcp.CallToolRequest{}
	req.Params.Name = "xero_authorization_status"
	got, err := handler(context.Background(), req)
	if err != nil || got != want {
		t.Errorf("handler() = %v, %v, want passthrough", got, err)
	}
}
