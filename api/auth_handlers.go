package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/user"
)

// CreateSession exchanges an identity-provider ID token for a session
// token. Failed exchanges count against the caller's IP and a global
// window.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "idToken is required")
		return
	}

	ip := a.clientIP(r)
	if blocked, retry := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global limit", slog.String("client_ip", ip))
		writeRateLimited(w, retry)
		return
	}
	if blocked, retry := a.loginLimiter.check(ip); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip limit", slog.String("client_ip", ip))
		writeRateLimited(w, retry)
		return
	}

	s, u, err := a.accounts.Login(r.Context(), req.IDToken, ip, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredential):
			a.loginLimiter.recordFailure(ip)
			a.globalLimiter.recordFailure()
			a.audit.logFailure(AuditLoginFailure, r, "invalid credential", slog.String("client_ip", ip))
		case errors.Is(err, user.ErrDisabled), errors.Is(err, session.ErrUserDisabled):
			a.audit.logFailure(AuditLoginFailure, r, "account disabled", slog.String("client_ip", ip))
		case errors.Is(err, user.ErrNotFound):
			// The account was deleted while the login was in flight.
			a.audit.logFailure(AuditLoginFailure, r, "account removed", slog.String("client_ip", ip))
			writeError(w, http.StatusUnauthorized, "invalid or expired credential")
			return
		}
		a.mapError(w, r, err)
		return
	}

	a.loginLimiter.recordSuccess(ip)
	a.audit.logEvent(AuditLoginSuccess, r, s.Subject,
		slog.String("user_id", u.ID),
		slog.String("token_prefix", session.TokenPrefix(s.Token)),
		slog.String("client_ip", ip),
	)
	writeJSON(w, http.StatusOK, SessionResponse{
		SessionToken: s.Token,
		DisplayName:  s.DisplayName,
		PhotoURL:     s.AvatarURL,
		ExpiresAt:    s.ExpiresAt,
	})
}

// FirebaseConfig returns the public browser SDK configuration.
func (a *API) FirebaseConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.firebaseConfig)
}

// DeleteAccount removes the account identified by a fresh ID token along
// with all of its sessions.
func (a *API) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[DeleteAccountRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "idToken is required")
		return
	}
	if err := a.accounts.DeleteAccount(r.Context(), req.IDToken); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditAccountDeleted, r, slog.String("client_ip", a.clientIP(r)))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "account deleted"})
}

func (a *API) AuthHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "auth"})
}
