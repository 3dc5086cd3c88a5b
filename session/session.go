// Package session issues, validates, extends and revokes server-side login
// sessions. A session is identified externally by an opaque token carried in
// the X-Session-Token header and stored in the same database as its owning
// user.
package session

import (
	"time"
)

// HeaderName is the request header that carries the session token.
const HeaderName = "X-Session-Token"

// Column limits for request metadata captured at creation.
const (
	MaxClientIPLength  = 45
	MaxUserAgentLength = 512
)

// Session is one login of one user on one device.
type Session struct {
	ID     string `json:"id"`
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	// Subject is the identity-provider subject, kept alongside UserID so
	// sessions can be revoked by subject without touching the user table.
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	// OwnerEmail is loaded from the owning user on read and never persisted
	// with the session record.
	OwnerEmail     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ClientIP       string    `json:"client_ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Active         bool      `json:"active"`
}

// IsValid reports whether the session is active and unexpired at now.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}

// TokenPrefix returns a short, log-safe prefix of the token.
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// SweepResult reports how many rows a sweep changed.
type SweepResult struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}
