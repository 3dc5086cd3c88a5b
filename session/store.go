package session

import (
	"context"
	"time"
)

// Store is the persistence contract for sessions. Every mutating method must
// be atomic on its own; callers never hold a transaction across methods.
// Deactivation is one-way: no method sets Active back to true.
type Store interface {
	// CreateSession inserts s. It returns ErrTokenConflict if the token is
	// taken and user.ErrNotFound if s.UserID does not exist.
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session for token with OwnerEmail populated,
	// or ErrNotFound.
	GetSession(ctx context.Context, token string) (*Session, error)
	// ListActiveSessions returns the user's active sessions that have not
	// expired at now, newest first.
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
	CountActiveSessions(ctx context.Context, userID string) (int, error)

	// TouchSession sets LastAccessedAt on an active session. Missing or
	// inactive sessions are not an error.
	TouchSession(ctx context.Context, token string, at time.Time) error
	// ExtendSession raises ExpiresAt to expiresAt on an active session. It
	// never lowers ExpiresAt.
	ExtendSession(ctx context.Context, token string, expiresAt, now time.Time) error

	// DeactivateSession flips a single active session to inactive and
	// reports whether a row changed.
	DeactivateSession(ctx context.Context, token string, now time.Time) (bool, error)
	DeactivateUserSessions(ctx context.Context, userID string, now time.Time) (int64, error)
	DeactivateSubjectSessions(ctx context.Context, subject string, now time.Time) (int64, error)
	// DeleteSessions hard-deletes every row owned by userID or carrying
	// subject, active or not. Empty arguments match nothing.
	DeleteSessions(ctx context.Context, userID, subject string) (int64, error)

	// DeactivateExpired flips active sessions with ExpiresAt before now.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteInactive removes inactive sessions last updated before cutoff.
	DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error)
}
