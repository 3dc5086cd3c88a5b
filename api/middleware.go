package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/escritoresnogueira/backend/session"
)

type contextKey int

const sessionKey contextKey = iota

// AdminKeyHeader carries the shared secret for the admin routes.
const AdminKeyHeader = "X-Admin-Key"

// SessionMiddleware resolves the X-Session-Token header to a live session
// and stores it on the request context. Sessions idle for longer than the
// touch interval have their last-access time refreshed.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing "+session.HeaderName+" header")
			return
		}
		s, ok := a.sessions.Validate(r.Context(), token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		if a.now().Sub(s.LastAccessedAt) >= a.touchInterval {
			a.sessions.Touch(r.Context(), token)
		}
		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware admits requests that present the configured admin key.
// With no key configured every request is rejected.
func (a *API) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.clientIP(r)
		if blocked, retry := a.adminLimiter.check(ip); blocked {
			writeRateLimited(w, retry)
			return
		}
		presented := r.Header.Get(AdminKeyHeader)
		if a.adminKey == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(a.adminKey)) != 1 {
			a.adminLimiter.recordFailure(ip)
			a.audit.logFailure(AuditAdminAuthFailure, r, "bad admin key")
			writeError(w, http.StatusUnauthorized, "admin authentication required")
			return
		}
		a.adminLimiter.recordSuccess(ip)
		next.ServeHTTP(w, r)
	})
}

func sessionToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(session.HeaderName))
}

func sessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
