package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/user"
)

// tokenAttempts bounds retries when a freshly drawn token collides.
const tokenAttempts = 3

// Manager implements the session lifecycle on top of a Store. It holds no
// locks of its own; every write is a single conditional Store call.
type Manager struct {
	store  Store
	cfg    config
	logger *slog.Logger
	tracer trace.Tracer
	ins    *instruments
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ins, err := newInstruments(cfg.meterProvider)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: cfg.logger.With("component", "session"),
		tracer: cfg.tracerProvider.Tracer(instrumentationName),
		ins:    ins,
	}, nil
}

// TTL returns the lifetime given to new sessions.
func (m *Manager) TTL() time.Duration { return m.cfg.ttl }

// Create issues a new session for owner. When owner already holds the
// maximum number of active sessions, all of them are deactivated first.
func (m *Manager) Create(ctx context.Context, owner *user.User, subject, displayName, avatarURL, clientIP, userAgent string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.Create")
	defer span.End()

	if owner == nil || owner.ID == "" {
		return nil, ErrInvalidUser
	}
	if !owner.Enabled {
		return nil, ErrUserDisabled
	}

	count, err := m.store.CountActiveSessions(ctx, owner.ID)
	if err != nil {
		return nil, m.fail(span, fmt.Errorf("counting active sessions: %w", err))
	}
	if count >= m.cfg.maxSessions {
		n, err := m.store.DeactivateUserSessions(ctx, owner.ID, m.cfg.now())
		if err != nil {
			return nil, m.fail(span, fmt.Errorf("evicting sessions: %w", err))
		}
		m.ins.evicted.Add(ctx, n)
		m.logger.InfoContext(ctx, "session cap reached, evicted all sessions",
			"user_id", owner.ID, "active", count, "evicted", n)
	}

	now := m.cfg.now()
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := NewToken(m.cfg.entropy)
		if err != nil {
			return nil, m.fail(span, fmt.Errorf("generating session token: %w", err))
		}
		s := &Session{
			ID:             uuid.NewString(),
			Token:          token,
			UserID:         owner.ID,
			Subject:        subject,
			DisplayName:    displayName,
			AvatarURL:      avatarURL,
			OwnerEmail:     owner.Email,
			CreatedAt:      now,
			LastAccessedAt: now,
			ExpiresAt:      now.Add(m.cfg.ttl),
			UpdatedAt:      now,
			ClientIP:       util.Truncate(clientIP, MaxClientIPLength),
			UserAgent:      util.Truncate(userAgent, MaxUserAgentLength),
			Active:         true,
		}
		err = m.store.CreateSession(ctx, s)
		if errors.Is(err, ErrTokenConflict) {
			continue
		}
		if err != nil {
			return nil, m.fail(span, fmt.Errorf("creating session: %w", err))
		}
		m.ins.created.Add(ctx, 1)
		span.SetAttributes(attribute.String("session.user_id", owner.ID))
		m.logger.InfoContext(ctx, "session created",
			"user_id", owner.ID, "token_prefix", TokenPrefix(token), "expires_at", s.ExpiresAt)
		return s, nil
	}
	return nil, m.fail(span, fmt.Errorf("creating session: %w", ErrTokenConflict))
}

// Validate returns the session for token when it is active and unexpired.
// It never writes. Store failures are logged and reported as absent.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	ctx, span := m.tracer.Start(ctx, "session.Validate")
	defer span.End()

	s, err := m.store.GetSession(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.WarnContext(ctx, "session lookup failed",
				"token_prefix", TokenPrefix(token), "error", err)
			span.RecordError(err)
		}
		return nil, false
	}
	if !s.IsValid(m.cfg.now()) {
		return nil, false
	}
	return s, true
}

// Touch records activity on the session. Failures never reach the caller.
func (m *Manager) Touch(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := m.store.TouchSession(ctx, token, m.cfg.now()); err != nil {
		m.ins.touchFailures.Add(ctx, 1)
		m.logger.WarnContext(ctx, "session touch failed",
			"token_prefix", TokenPrefix(token), "error", err)
	}
}

// Extend pushes the expiry of a valid session forward by hours, capped at
// the session's creation time plus the maximum lifetime. Invalid tokens and
// non-positive hours are ignored. Failures never reach the caller.
func (m *Manager) Extend(ctx context.Context, token string, hours int) {
	if hours <= 0 {
		return
	}
	ctx, span := m.tracer.Start(ctx, "session.Extend")
	defer span.End()

	s, err := m.store.GetSession(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.extendFailed(ctx, span, token, err)
		}
		return
	}
	if !s.IsValid(m.cfg.now()) {
		return
	}
	target := s.ExpiresAt.Add(time.Duration(hours) * time.Hour)
	if limit := s.CreatedAt.Add(m.cfg.maxLifetime); target.After(limit) {
		target = limit
	}
	if !target.After(s.ExpiresAt) {
		return
	}
	if err := m.store.ExtendSession(ctx, token, target, m.cfg.now()); err != nil {
		m.extendFailed(ctx, span, token, err)
	}
}

func (m *Manager) extendFailed(ctx context.Context, span trace.Span, token string, err error) {
	m.ins.extendFailures.Add(ctx, 1)
	span.RecordError(err)
	m.logger.WarnContext(ctx, "session extend failed",
		"token_prefix", TokenPrefix(token), "error", err)
}

// Revoke deactivates the session. Unknown and already inactive tokens are
// not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	changed, err := m.store.DeactivateSession(ctx, token, m.cfg.now())
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	if changed {
		m.ins.revoked.Add(ctx, 1)
		m.logger.InfoContext(ctx, "session revoked", "token_prefix", TokenPrefix(token))
	}
	return nil
}

// RevokeAllForIdentity deactivates every active session carrying subject.
func (m *Manager) RevokeAllForIdentity(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	ctx, span := m.tracer.Start(ctx, "session.RevokeAllForIdentity")
	defer span.End()

	n, err := m.store.DeactivateSubjectSessions(ctx, subject, m.cfg.now())
	if err != nil {
		return m.fail(span, fmt.Errorf("revoking sessions for subject: %w", err))
	}
	m.ins.revoked.Add(ctx, n)
	m.logger.InfoContext(ctx, "all sessions revoked for identity", "count", n)
	return nil
}

// PurgeAllForUser hard-deletes every session row of the user, matched by
// user ID and by subject. It must run before the user row is deleted.
func (m *Manager) PurgeAllForUser(ctx context.Context, userID, subject string) error {
	ctx, span := m.tracer.Start(ctx, "session.PurgeAllForUser")
	defer span.End()

	n, err := m.store.DeleteSessions(ctx, userID, subject)
	if err != nil {
		return m.fail(span, fmt.Errorf("purging sessions: %w", err))
	}
	m.logger.InfoContext(ctx, "sessions purged", "user_id", userID, "count", n)
	return nil
}

// ListForUser returns the user's valid sessions, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := m.store.ListActiveSessions(ctx, userID, m.cfg.now())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Sweep deactivates expired sessions and then deletes sessions that have
// been inactive for longer than the retention window. It is idempotent and
// safe to run concurrently with itself.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := m.tracer.Start(ctx, "session.Sweep")
	defer span.End()

	var res SweepResult
	now := m.cfg.now()

	expired, err := m.store.DeactivateExpired(ctx, now)
	if err != nil {
		return res, m.fail(span, fmt.Errorf("deactivating expired sessions: %w", err))
	}
	res.Expired = expired
	m.ins.sweepExpired.Add(ctx, expired)

	purged, err := m.store.DeleteInactive(ctx, now.Add(-m.cfg.retention))
	if err != nil {
		return res, m.fail(span, fmt.Errorf("deleting inactive sessions: %w", err))
	}
	res.Purged = purged
	m.ins.sweepPurged.Add(ctx, purged)

	span.SetAttributes(
		attribute.Int64("session.sweep.expired", expired),
		attribute.Int64("session.sweep.purged", purged),
	)
	if expired > 0 || purged > 0 {
		m.logger.InfoContext(ctx, "session sweep completed", "expired", expired, "purged", purged)
	}
	return res, nil
}

func (m *Manager) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
