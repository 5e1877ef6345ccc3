// Package security carries the request identity plumbing, HTTP access
// logging, and Prometheus metrics.
package security

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Gin context keys for the caller identity.
const (
	ContextKeyUserID     = "user_id"
	ContextKeyClientName = "client_name"
)

// Identity headers. Callers identify themselves per request; there is no
// session state.
const (
	HeaderUserID     = "X-User-Id"
	HeaderClientName = "X-Client-Name"
)

type contextKey string

const (
	ctxKeyUserID     contextKey = "openmem.user_id"
	ctxKeyClientName contextKey = "openmem.client_name"
)

// IdentityMiddleware extracts the caller identity headers into the gin
// context. Enforcement happens per handler, so public endpoints (health,
// metrics) stay header-free.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.GetHeader(HeaderUserID); v != "" {
			c.Set(ContextKeyUserID, v)
		}
		if v := c.GetHeader(HeaderClientName); v != "" {
			c.Set(ContextKeyClientName, v)
		}
		c.Next()
	}
}

// GetUserID returns the caller's user ID, preferring the explicit query or
// body value the handler resolved, then the identity header.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetClientName returns the caller's client (app) name from the identity
// header, or "" when absent.
func GetClientName(c *gin.Context) string {
	return c.GetString(ContextKeyClientName)
}

// RequireUserID aborts with 400 when no user identity is present.
func RequireUserID(c *gin.Context) (string, bool) {
	id := GetUserID(c)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return "", false
	}
	return id, true
}

// WithIdentity stores the caller identity on a plain context. Used by the
// MCP transport, which injects headers before tool dispatch.
func WithIdentity(ctx context.Context, userID, clientName string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID, userID)
	return context.WithValue(ctx, ctxKeyClientName, clientName)
}

// UserIDFromContext returns the user ID stored by WithIdentity.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

// ClientNameFromContext returns the client name stored by WithIdentity.
func ClientNameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientName).(string)
	return v
}
