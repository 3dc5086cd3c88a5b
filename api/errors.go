package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/user"
)

// maxSmallBodySize bounds every JSON request body this API accepts.
const maxSmallBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a bounded JSON body into T. On failure it writes a 400
// and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// mapError translates domain errors into HTTP responses. Unexpected errors
// are logged and reported without detail.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "invalid or expired credential")
	case errors.Is(err, user.ErrDisabled), errors.Is(err, session.ErrUserDisabled):
		writeError(w, http.StatusForbidden, "account is disabled")
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, user.ErrDuplicate), errors.Is(err, user.ErrHasSessions):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
