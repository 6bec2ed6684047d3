// Package main serves the Xero authorization tools over MCP, on stdio or
// streamable HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/config"
	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/logger"
	"github.com/go-training/xero-oauth/pkg/operation"
	"github.com/go-training/xero-oauth/pkg/operation/authorization"
	"github.com/go-training/xero-oauth/pkg/store"
	"github.com/go-training/xero-oauth/pkg/xero"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer with the authorization tools registered.
func NewMCPServer(h *authorization.Handlers) *MCPServer {
	mcpServer := server.NewMCPServer(
		"xero-oauth",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(ToolObservabilityMiddleware()),
	)

	operation.RegisterAuthorizationTools(mcpServer, h)

	return &MCPServer{
		server: mcpServer,
	}
}

// ServeHTTP returns a streamable HTTP server that tags each request with an ID.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, _ *http.Request) context.Context {
			return core.WithRequestID(ctx)
		}),
	)
}

// ServeStdio starts the MCP server using stdio transport.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
		return core.WithRequestID(ctx)
	}))
}

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg := config.FromEnv()
	cfg.RegisterFlags(flag.CommandLine)
	var transport string
	flag.StringVar(&transport, "t", "stdio", "Transport type (stdio or http)")
	flag.StringVar(&transport, "transport", "stdio", "Transport type (stdio or http)")
	flag.Parse()

	logger.NewWithWriter(os.Stderr, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	settings, err := store.NewStore(cfg.StoreOptions())
	if err != nil {
		slog.Error("Failed to create store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer settings.Close()

	tokens := authz.NewSettingsTokenStore(settings)
	controller := authz.New(
		tokens,
		authz.NewSessionStateGuard(settings),
		func(creds core.ClientCredentials) authz.Negotiator {
			return xero.NewNegotiator(creds, cfg.RedirectURL, xero.WithTimeout(cfg.RequestTimeout))
		},
		xero.NewConnectionsClient(xero.WithTimeout(cfg.RequestTimeout)),
		authz.WithLocker(settings),
	)

	mcpServer := NewMCPServer(authorization.NewHandlers(controller, tokens))

	switch transport {
	case "stdio":
		if err := mcpServer.ServeStdio(); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case "http":
		router := gin.Default()
		// Register POST, GET, DELETE methods for the /mcp path, all handled by MCPServer
		for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
			router.Handle(method, "/mcp", gin.WrapH(mcpServer.ServeHTTP()))
		}

		slog.Info("MCP HTTP server listening", "addr", cfg.Addr)
		srv := &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * cfg.RequestTimeout,
			IdleTimeout:  60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid transport type", "transport", transport)
		os.Exit(1)
	}
}
