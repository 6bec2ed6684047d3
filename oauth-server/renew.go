package main

import (
	"context"
	"time"

	"github.com/go-training/xero-oauth/pkg/authz"
	"github.com/go-training/xero-oauth/pkg/core"
)

// renewLoop evaluates once at start and then every interval, so the refresh
// token keeps rotating while nobody visits the callback. A non-positive
// interval disables it.
func renewLoop(ctx context.Context, controller Evaluator, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		renewOnce(ctx, controller)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func renewOnce(ctx context.Context, controller Evaluator) {
	ctx = core.WithRequestID(ctx)
	logger := core.LoggerFromCtx(ctx)

	report, err := controller.Evaluate(ctx, authz.Request{})
	if err != nil {
		logger.Error("background renewal failed", "error", err)
		return
	}

	switch report.Status {
	case authz.StatusNeedsAuthorization:
		logger.Warn("xero needs interactive authorization, visit /xero/connect")
	case authz.StatusNotConfigured:
		logger.Debug("skipping background renewal, client credentials not configured")
	default:
		logger.Info("background renewal checked", "status", report.Status, "tenant_id", report.TenantID, "expires_at", report.ExpiresAt)
	}
}
