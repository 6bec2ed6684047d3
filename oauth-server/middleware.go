package main

import (
	"net/http"

	"github.com/go-training/xero-oauth/pkg/core"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionCookie = "xero_session"
	// sessionMaxAge outlives the authorization state so a callback still finds it.
	sessionMaxAge = 24 * 60 * 60
	requestHeader = "X-Request-ID"
)

// requestIDMiddleware puts a fresh request ID on the request context and response.
func requestIDMiddleware(c *gin.Context) {
	ctx := core.WithRequestID(c.Request.Context())
	c.Request = c.Request.WithContext(ctx)
	c.Header(requestHeader, core.RequestIDFromContext(ctx))
	c.Next()
}

// sessionMiddleware identifies the browser with the xero_session cookie,
// issuing a new random ID when the cookie is missing or malformed.
// SameSite=Lax keeps the cookie on the provider's top-level redirect back.
func sessionMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(sessionCookie)
		if err != nil || uuid.Validate(sessionID) != nil {
			sessionID = uuid.New().String()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, sessionID, sessionMaxAge, "/", "", secure, true)

		c.Request = c.Request.WithContext(core.WithSessionID(c.Request.Context(), sessionID))
		c.Next()
	}
}
