package api

import (
	"log/slog"
	"net/http"
	"strings"
)

// AdminSweep runs one sweep pass immediately.
func (a *API) AdminSweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.sessions.Sweep(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditAdminSweep, r,
		slog.Int64("expired", res.Expired),
		slog.Int64("purged", res.Purged),
	)
	writeJSON(w, http.StatusOK, SweepResponse{Expired: res.Expired, Purged: res.Purged})
}

// AdminRevoke revokes every session of the given identity subject.
func (a *API) AdminRevoke(w http.ResponseWriter, r *http.Request) {
	subject, ok := a.decodeSubject(w, r)
	if !ok {
		return
	}
	if err := a.sessions.RevokeAllForIdentity(r.Context(), subject); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditAdminRevoke, r, subject)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "sessions revoked"})
}

// AdminPromote grants the admin role to the account linked to a subject.
func (a *API) AdminPromote(w http.ResponseWriter, r *http.Request) {
	subject, ok := a.decodeSubject(w, r)
	if !ok {
		return
	}
	if _, err := a.accounts.PromoteToAdmin(r.Context(), subject); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditAdminPromote, r, subject)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "user promoted"})
}

func (a *API) decodeSubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	req, ok := decodeJSON[SubjectRequest](w, r, maxSmallBodySize)
	if !ok {
		return "", false
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return "", false
	}
	return subject, true
}
