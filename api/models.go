package api

import "time"

// Field names follow the camelCase shape the storefront client already
// consumes.

// LoginRequest is the JSON body for POST /auth/session.
type LoginRequest struct {
	IDToken string `json:"idToken"`
}

// SessionResponse is returned from POST /auth/session. It is the only
// response that ever carries the session token.
type SessionResponse struct {
	SessionToken string    `json:"sessionToken"`
	DisplayName  string    `json:"displayName,omitempty"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// DeleteAccountRequest is the JSON body for DELETE /auth/user.
type DeleteAccountRequest struct {
	IDToken string `json:"idToken"`
}

// FirebaseWebConfig is the public configuration the browser SDK needs.
type FirebaseWebConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// HealthResponse is returned from GET /auth/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SessionDataResponse is returned from GET /session/me.
type SessionDataResponse struct {
	Valid       bool       `json:"valid"`
	DisplayName string     `json:"displayName,omitempty"`
	Email       string     `json:"email,omitempty"`
	PhotoURL    string     `json:"photoUrl,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ValidateResponse is returned from GET /session/validate.
type ValidateResponse struct {
	Valid bool `json:"valid"`
}

// SuccessResponse acknowledges a state-changing request.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ExtendResponse is returned from POST /session/extend.
type ExtendResponse struct {
	Success       bool       `json:"success"`
	HoursExtended int        `json:"hoursExtended"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// SessionSummary describes one of the caller's sessions without exposing
// its token.
type SessionSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ClientIP       string    `json:"clientIp,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Current        bool      `json:"current"`
}

// ListSessionsResponse is returned from GET /session/list.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	PaginationMeta
}

// ProfileResponse is returned from GET and PUT /user/profile.
type ProfileResponse struct {
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	FirstName  string     `json:"firstName,omitempty"`
	LastName   string     `json:"lastName,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Address    string     `json:"address,omitempty"`
	PostalCode string     `json:"postalCode,omitempty"`
	City       string     `json:"city,omitempty"`
	Country    string     `json:"country,omitempty"`
	PhotoURL   string     `json:"photoUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

// UpdateProfileRequest is the JSON body for PUT /user/profile. Omitted
// fields are left unchanged.
type UpdateProfileRequest struct {
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Address    *string `json:"address,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	City       *string `json:"city,omitempty"`
	Country    *string `json:"country,omitempty"`
}

// SubjectRequest is the JSON body for admin operations keyed by identity
// subject.
type SubjectRequest struct {
	Subject string `json:"subject"`
}

// SweepResponse is returned from POST /admin/sessions/sweep.
type SweepResponse struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
