package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// errUnauthorized is returned by authorize for any credential failure.
// The message is deliberately uniform so callers cannot probe which key
// check failed.
var errUnauthorized = errors.New("invalid or missing bearer token")

// authorize validates the request's bearer token against the configured
// key set using constant-time comparison. With no keys configured every
// request passes. Auth attempts count against the auth rate bucket, and
// successes and failures are audited.
func (g *Gateway) authorize(r *http.Request) error {
	if len(g.apiKeys) == 0 {
		return nil
	}

	if err := g.limiter.Allow(security.KindAuth); err != nil {
		g.audit(security.EventRateLimit, r, "auth bucket exhausted")
		return err
	}

	token := bearerToken(r)
	if token == "" {
		g.audit(security.EventAuthFailure, r, "missing authorization")
		return errUnauthorized
	}

	for _, key := range g.apiKeys {
		if constantTimeEqual(token, key) {
			g.audit(security.EventAuthSuccess, r, "bearer")
			return nil
		}
	}

	g.audit(security.EventAuthFailure, r, "unknown key")
	return errUnauthorized
}

// bearerToken extracts the credential from the Authorization header, or
// from the access_token query parameter as a WebSocket-client fallback
// (browsers cannot set headers on WebSocket upgrades).
func bearerToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("access_token")
}

// audit records a security event when the audit logger is configured.
func (g *Gateway) audit(eventType security.EventType, r *http.Request, detail string) {
	if g.auditor == nil {
		return
	}
	g.auditor.Log(security.AuditEvent{
		Type:   eventType,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

// auditAction records a destructive action against a record owner.
func (g *Gateway) auditAction(eventType security.EventType, action, userID, detail string) {
	if g.auditor == nil {
		return
	}
	g.auditor.Log(security.AuditEvent{
		Type:   eventType,
		Action: action,
		UserID: userID,
		Detail: detail,
	})
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
