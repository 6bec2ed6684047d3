package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-training/xero-oauth/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
)

// ToolObservabilityMiddleware records the tool name, outcome and duration of
// each call on the active span, or in the log when no span is recording.
// Arguments are not recorded because tool results may carry tokens.
func ToolObservabilityMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			core.AddRequestAttributes(ctx, attribute.String("mcp.tool", req.Params.Name))

			res, err := next(ctx, req)

			status, errMsg := toolOutcome(res, err)
			attrs := []attribute.KeyValue{
				attribute.String("mcp.status", status),
				attribute.Float64("mcp.duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			}
			if errMsg != "" {
				attrs = append(attrs, attribute.String("mcp.error", errMsg))
			}
			core.AddRequestAttributes(ctx, attrs...)

			return res, err
		}
	}
}

func toolOutcome(res *mcp.CallToolResult, err error) (string, string) {
	switch {
	case err != nil:
		return "error", err.Error()
	case res == nil || !res.IsError:
		return "ok", ""
	case len(res.Content) == 0:
		return "error", "unknown error with no content"
	}
	if txt, ok := res.Content[0].(mcp.TextContent); ok {
		return "error", txt.Text
	}
	return "error", fmt.Sprintf("unknown error with content type %T", res.Content[0])
}
