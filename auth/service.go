// Package auth turns a verified identity credential into a local account and
// a server-side session, and removes accounts on request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/user"
)

// RoleAdmin grants access to the administrative surface.
const RoleAdmin = "ROLE_ADMIN"

// Sessions is the subset of *session.Manager used by Service.
type Sessions interface {
	Create(ctx context.Context, owner *user.User, subject, displayName, avatarURL, clientIP, userAgent string) (*session.Session, error)
	PurgeAllForUser(ctx context.Context, userID, subject string) error
}

// Service coordinates the identity verifier, the user store and the
// session manager.
type Service struct {
	verifier identity.Verifier
	users    user.Store
	sessions Sessions
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService returns a Service.
func NewService(verifier identity.Verifier, users user.Store, sessions Sessions, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		users:    users,
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "auth")
	return s
}

// Login verifies credential, resolves or creates the matching account and
// issues a session for it. Accounts are matched by identity subject first
// and by e-mail second, in which case the subject is linked to the
// existing account.
func (s *Service) Login(ctx context.Context, credential, clientIP, userAgent string) (*session.Session, *user.User, error) {
	id, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.resolveUser(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !u.Enabled {
		return nil, nil, user.ErrDisabled
	}

	now := s.now()
	if id.DisplayName != "" {
		u.Name = id.DisplayName
		first, last := user.SplitName(id.DisplayName)
		if strings.TrimSpace(u.FirstName) == "" {
			u.FirstName = first
			if strings.TrimSpace(u.LastName) == "" {
				u.LastName = last
			}
		}
	}
	if id.AvatarURL != "" {
		u.PhotoURL = id.AvatarURL
	}
	u.LastLogin = now
	u.UpdatedAt = now
	if err := s.users.SaveUser(ctx, u); err != nil {
		return nil, nil, fmt.Errorf("saving user: %w", err)
	}

	sess, err := s.sessions.Create(ctx, u, id.Subject, u.Name, u.PhotoURL, clientIP, userAgent)
	if err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, "user signed in", "user_id", u.ID, "provider", id.Provider)
	return sess, u, nil
}

func (s *Service) resolveUser(ctx context.Context, id *identity.Identity) (*user.User, error) {
	u, err := s.users.FindUserBySubject(ctx, id.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("finding user by subject: %w", err)
	}

	email := util.NormalizeEmail(id.Email)
	if email != "" {
		u, err = s.users.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "linking existing account to identity", "user_id", u.ID, "provider", id.Provider)
			u.Subject = id.Subject
			u.Provider = id.Provider
			return u, nil
		case !errors.Is(err, user.ErrNotFound):
			return nil, fmt.Errorf("finding user by email: %w", err)
		}
	}

	name := id.DisplayName
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	u = user.New(email, name, s.now())
	u.Subject = id.Subject
	u.Provider = id.Provider
	u.PhotoURL = id.AvatarURL
	u.FirstName, u.LastName = user.SplitName(id.DisplayName)
	s.logger.InfoContext(ctx, "creating account", "user_id", u.ID, "provider", id.Provider)
	return u, nil
}

// DeleteAccount verifies credential and removes the account it belongs to.
// Sessions are purged before the user row; the provider-side identity is
// removed last and its failure is only logged.
func (s *Service) DeleteAccount(ctx context.Context, credential string) error {
	id, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		return err
	}
	u, err := s.users.FindUserBySubject(ctx, id.Subject)
	if err != nil {
		return err
	}
	if err := s.sessions.PurgeAllForUser(ctx, u.ID, id.Subject); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	s.logger.InfoContext(ctx, "account deleted", "user_id", u.ID)

	if d, ok := s.verifier.(identity.Deleter); ok {
		if err := d.DeleteSubject(ctx, id.Subject); err != nil {
			s.logger.WarnContext(ctx, "identity provider deletion failed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}

// ProfileUpdate carries the editable profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	FirstName  *string
	LastName   *string
	Phone      *string
	Address    *string
	PostalCode *string
	City       *string
	Country    *string
}

// UpdateProfile applies changes to the account. When either name part
// changes, the display name is rebuilt from both.
func (s *Service) UpdateProfile(ctx context.Context, userID string, changes ProfileUpdate) (*user.User, error) {
	u, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&u.FirstName, changes.FirstName)
	set(&u.LastName, changes.LastName)
	set(&u.Phone, changes.Phone)
	set(&u.Address, changes.Address)
	set(&u.PostalCode, changes.PostalCode)
	set(&u.City, changes.City)
	set(&u.Country, changes.Country)
	if changes.FirstName != nil || changes.LastName != nil {
		if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
			u.Name = full
		}
	}
	u.UpdatedAt = s.now()
	if err := s.users.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// PromoteToAdmin grants RoleAdmin to the account linked to subject.
func (s *Service) PromoteToAdmin(ctx context.Context, subject string) (*user.User, error) {
	u, err := s.users.FindUserBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if u.HasRole(RoleAdmin) {
		return u, nil
	}
	u.Roles = append(u.Roles, RoleAdmin)
	u.UpdatedAt = s.now()
	if err := s.users.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	s.logger.InfoContext(ctx, "user promoted to admin", "user_id", u.ID)
	return u, nil
}
