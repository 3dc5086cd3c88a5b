package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/escritoresnogueira/backend/session"
)

// CurrentSession reports the caller's session. It never fails: a missing
// or dead token yields {"valid": false}.
func (a *API) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.sessions.Validate(r.Context(), sessionToken(r))
	if !ok {
		writeJSON(w, http.StatusOK, SessionDataResponse{Valid: false})
		return
	}
	expires := s.ExpiresAt
	writeJSON(w, http.StatusOK, SessionDataResponse{
		Valid:       true,
		DisplayName: s.DisplayName,
		Email:       s.OwnerEmail,
		PhotoURL:    s.AvatarURL,
		ExpiresAt:   &expires,
	})
}

func (a *API) ValidateSession(w http.ResponseWriter, r *http.Request) {
	_, ok := a.sessions.Validate(r.Context(), sessionToken(r))
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: ok})
}

// Logout revokes the presented token. Unknown or missing tokens still
// succeed.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token != "" {
		if err := a.sessions.Revoke(r.Context(), token); err != nil {
			a.mapError(w, r, err)
			return
		}
		a.audit.log(AuditLogout, r, slog.String("token_prefix", session.TokenPrefix(token)))
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "logged out"})
}

// LogoutAll revokes every session of the caller's identity. The subject is
// taken from the caller's own live session, never from the request.
func (a *API) LogoutAll(w http.ResponseWriter, r *http.Request) {
	s, ok := a.sessions.Validate(r.Context(), sessionToken(r))
	if !ok || s.Subject == "" {
		writeError(w, http.StatusBadRequest, "no active session")
		return
	}
	if err := a.sessions.RevokeAllForIdentity(r.Context(), s.Subject); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditLogoutAll, r, s.Subject)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "all sessions revoked"})
}

// ExtendSession pushes the caller's expiry out by the hours query
// parameter, bounded by the maximum session lifetime.
func (a *API) ExtendSession(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing "+session.HeaderName+" header")
		return
	}
	hours := DefaultExtendHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	hours = min(hours, a.maxExtendHours)

	a.sessions.Extend(r.Context(), token, hours)

	resp := ExtendResponse{Success: true, HoursExtended: hours}
	if s, ok := a.sessions.Validate(r.Context(), token); ok {
		expires := s.ExpiresAt
		resp.ExpiresAt = &expires
		a.audit.logEvent(AuditSessionExtended, r, s.Subject,
			slog.String("token_prefix", session.TokenPrefix(token)),
			slog.Int("hours", hours),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessions returns the caller's active sessions without their tokens.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	current := sessionFromContext(r.Context())
	all, err := a.sessions.ListForUser(r.Context(), current.UserID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	limit, offset := parsePagination(r)
	start, end, meta := paginateSlice(len(all), limit, offset)
	page := make([]SessionSummary, 0, end-start)
	for _, s := range all[start:end] {
		page = append(page, SessionSummary{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			LastAccessedAt: s.LastAccessedAt,
			ExpiresAt:      s.ExpiresAt,
			ClientIP:       s.ClientIP,
			UserAgent:      s.UserAgent,
			Current:        s.Token == current.Token,
		})
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: page, PaginationMeta: meta})
}
