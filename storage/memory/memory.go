// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	"github.com/escritoresnogueira/backend/user"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases. Every method
// holds the lock for its whole duration, which gives the per-statement
// atomicity the session manager relies on.
type Repository struct {
	mu       sync.RWMutex
	users    map[string]*user.User
	sessions map[string]*session.Session // keyed by token
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		users:    make(map[string]*user.User),
		sessions: make(map[string]*session.Session),
	}
}

func (r *Repository) Close() error { return nil }

func cloneUser(u *user.User) *user.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

func cloneSession(s *session.Session) *session.Session {
	c := *s
	return &c
}

func (r *Repository) FindUserByID(_ context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (r *Repository) FindUserBySubject(_ context.Context, subject string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if subject != "" {
		for _, u := range r.users {
			if u.Subject == subject {
				return cloneUser(u), nil
			}
		}
	}
	return nil, user.ErrNotFound
}

func (r *Repository) FindUserByEmail(_ context.Context, email string) (*user.User, error) {
	email = util.NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if email != "" {
		for _, u := range r.users {
			if util.NormalizeEmail(u.Email) == email {
				return cloneUser(u), nil
			}
		}
	}
	return nil, user.ErrNotFound
}

func (r *Repository) SaveUser(_ context.Context, u *user.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("saving user: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, other := range r.users {
		if id == u.ID {
			continue
		}
		if u.Subject != "" && other.Subject == u.Subject {
			return fmt.Errorf("saving user: subject linked to %s: %w", id, user.ErrDuplicate)
		}
		if u.Email != "" && util.NormalizeEmail(other.Email) == util.NormalizeEmail(u.Email) {
			return fmt.Errorf("saving user: email registered to %s: %w", id, user.ErrDuplicate)
		}
	}
	r.users[u.ID] = cloneUser(u)
	return nil
}

func (r *Repository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	for _, s := range r.sessions {
		if s.UserID == id {
			return fmt.Errorf("%s: %w", id, user.ErrHasSessions)
		}
	}
	delete(r.users, id)
	return nil
}

func (r *Repository) CreateSession(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[s.UserID]; !ok {
		return fmt.Errorf("%s: %w", s.UserID, user.ErrNotFound)
	}
	if _, ok := r.sessions[s.Token]; ok {
		return session.ErrTokenConflict
	}
	c := cloneSession(s)
	c.OwnerEmail = ""
	r.sessions[s.Token] = c
	return nil
}

func (r *Repository) GetSession(_ context.Context, token string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	c := cloneSession(s)
	if u, ok := r.users[s.UserID]; ok {
		c.OwnerEmail = u.Email
	}
	return c, nil
}

func (r *Repository) ListActiveSessions(_ context.Context, userID string, now time.Time) ([]session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []session.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsValid(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) CountActiveSessions(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			n++
		}
	}
	return n, nil
}

func (r *Repository) TouchSession(_ context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok && s.Active {
		s.LastAccessedAt = at
		s.UpdatedAt = at
	}
	return nil
}

func (r *Repository) ExtendSession(_ context.Context, token string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok && s.Active && expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
		s.UpdatedAt = now
	}
	return nil
}

func (r *Repository) DeactivateSession(_ context.Context, token string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	s.UpdatedAt = now
	return true, nil
}

func (r *Repository) deactivateWhere(now time.Time, match func(*session.Session) bool) int64 {
	var n int64
	for _, s := range r.sessions {
		if s.Active && match(s) {
			s.Active = false
			s.UpdatedAt = now
			n++
		}
	}
	return n
}

func (r *Repository) DeactivateUserSessions(_ context.Context, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivateWhere(now, func(s *session.Session) bool { return s.UserID == userID }), nil
}

func (r *Repository) DeactivateSubjectSessions(_ context.Context, subject string, now time.Time) (int64, error) {
	if subject == "" {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivateWhere(now, func(s *session.Session) bool { return s.Subject == subject }), nil
}

func (r *Repository) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivateWhere(now, func(s *session.Session) bool { return s.ExpiresAt.Before(now) }), nil
}

func (r *Repository) DeleteSessions(_ context.Context, userID, subject string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.sessions {
		if (userID != "" && s.UserID == userID) || (subject != "" && s.Subject == subject) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteInactive(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.sessions {
		if !s.Active && s.UpdatedAt.Before(cutoff) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}
