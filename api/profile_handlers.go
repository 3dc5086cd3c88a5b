package api

import (
	"net/http"

	"github.com/escritoresnogueira/backend/auth"
	"github.com/escritoresnogueira/backend/user"
)

func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	u, err := a.users.FindUserByID(r.Context(), s.UserID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(u))
}

// UpdateProfile applies the provided fields to the caller's account.
func (a *API) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	req, ok := decodeJSON[UpdateProfileRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	u, err := a.accounts.UpdateProfile(r.Context(), s.UserID, auth.ProfileUpdate{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		Address:    req.Address,
		PostalCode: req.PostalCode,
		City:       req.City,
		Country:    req.Country,
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditProfileUpdated, r, s.Subject)
	writeJSON(w, http.StatusOK, profileResponse(u))
}

func profileResponse(u *user.User) ProfileResponse {
	resp := ProfileResponse{
		Email:      u.Email,
		Name:       u.Name,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		Address:    u.Address,
		PostalCode: u.PostalCode,
		City:       u.City,
		Country:    u.Country,
		PhotoURL:   u.PhotoURL,
		CreatedAt:  u.CreatedAt,
	}
	if !u.LastLogin.IsZero() {
		last := u.LastLogin
		resp.LastLogin = &last
	}
	return resp
}
