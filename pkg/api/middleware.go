package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

// credentialsContextKey is where the extractor stashes parsed credentials.
const credentialsContextKey = "arbiter.credentials"

// requestLogger logs one line per request after the handler runs.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= 500 {
			slog.Error("Request failed", attrs...)
			return
		}
		slog.Info("Request completed", attrs...)
	}
}

// securityHeaders sets standard hardening headers on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// credentialsExtractor parses the Authorization header into credentials for
// handlers with authorized variants. Requests without a bearer token pass
// through untouched; whether that is acceptable is the security context's
// call, not the transport's.
func credentialsExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if ok {
			c.Set(credentialsContextKey, security.Credentials{
				Actor:  extractActor(c),
				Token:  token,
				Tenant: c.GetHeader("X-Arbiter-Tenant"),
			})
		}
		c.Next()
	}
}

// bearerToken parses "Bearer <token>" case-insensitively.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// extractActor resolves the acting identity from proxy headers, falling
// back to a generic API client. Deployments behind an authenticating proxy
// get real identities in the audit log for free.
func extractActor(c *gin.Context) string {
	for _, header := range []string{"X-Arbiter-Actor", "X-Forwarded-User", "X-Remote-User"} {
		if v := c.GetHeader(header); v != "" {
			return v
		}
	}
	return "api-client"
}

// requestCredentials returns the credentials parsed by the extractor, if
// the request carried any.
func requestCredentials(c *gin.Context) (security.Credentials, bool) {
	v, ok := c.Get(credentialsContextKey)
	if !ok {
		return security.Credentials{}, false
	}
	cred, ok := v.(security.Credentials)
	return cred, ok
}
