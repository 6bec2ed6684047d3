package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/core"
	"github.com/go-training/xero-oauth/pkg/xero"

	ginslog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluator runs one authorization evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req authz.Request) (*authz.Report, error)
}

type handler struct {
	controller Evaluator
}

// newRouter builds the callback surface. secure marks the session cookie Secure.
func newRouter(controller Evaluator, gatherer prometheus.Gatherer, secure bool) *gin.Engine {
	h := &handler{controller: controller}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		ginslog.SetLogger(ginslog.WithSkipPath([]string{"/healthz", "/metrics"})),
		requestIDMiddleware,
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	xeroGroup := router.Group("/xero", sessionMiddleware(secure))
	xeroGroup.GET("/authorize", h.authorize)
	xeroGroup.GET("/connect", h.connect)

	return router
}

// authorize is the redirect target registered with Xero. Without callback
// parameters it reports the current status.
func (h *handler) authorize(c *gin.Context) {
	ctx := c.Request.Context()
	req := authz.Request{
		SessionID: core.SessionIDFromContext(ctx),
		Callback: authz.Callback{
			Code:             c.Query("code"),
			State:            c.Query("state"),
			Error:            c.Query("error"),
			ErrorDescription: c.Query("error_description"),
		},
	}

	report, err := h.controller.Evaluate(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	if report.Status == authz.StatusAuthorizationCompleted {
		// Drop code and state from the address bar.
		c.Redirect(http.StatusFound, c.Request.URL.Path)
		return
	}
	c.JSON(http.StatusOK, report)
}

// connect sends the browser straight to Xero when authorization is needed.
func (h *handler) connect(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.controller.Evaluate(ctx, authz.Request{SessionID: core.SessionIDFromContext(ctx)})
	if err != nil {
		h.fail(c, err)
		return
	}

	if report.Status == authz.StatusNeedsAuthorization && report.AuthorizationURL != "" {
		c.Redirect(http.StatusFound, report.AuthorizationURL)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) fail(c *gin.Context, err error) {
	status, message := errorResponse(err)
	logger := core.LoggerFromCtx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("xero authorization failed", "status", status, "error", err)
	} else {
		logger.Warn("xero authorization rejected", "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, authz.ErrStateMismatch):
		return http.StatusForbidden, "authorization state mismatch"
	case errors.Is(err, xero.ErrTransport):
		return http.StatusGatewayTimeout, "xero is unreachable"
	case errors.Is(err, xero.ErrInvalidGrant):
		return http.StatusBadGateway, "xero rejected the authorization code"
	case errors.Is(err, xero.ErrNoTenant):
		return http.StatusBadGateway, "no xero organisation is connected"
	case errors.Is(err, xero.ErrProtocol):
		return http.StatusBadGateway, "unexpected response from xero"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
