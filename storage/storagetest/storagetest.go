// Package storagetest holds the behavioral contract every storage.Repository
// backend must satisfy. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	"github.com/escritoresnogueira/backend/user"
)

// Factory returns an empty repository. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Repository

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
	t.Run("CreateAndGetSession", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("CreateSessionUnknownUser", func(t *testing.T) { testCreateUnknownUser(t, newRepo(t)) })
	t.Run("TokenConflict", func(t *testing.T) { testTokenConflict(t, newRepo(t)) })
	t.Run("CountAndList", func(t *testing.T) { testCountAndList(t, newRepo(t)) })
	t.Run("TouchAndExtend", func(t *testing.T) { testTouchAndExtend(t, newRepo(t)) })
	t.Run("Deactivate", func(t *testing.T) { testDeactivate(t, newRepo(t)) })
	t.Run("DeleteSessionsAndUser", func(t *testing.T) { testDeleteSessionsAndUser(t, newRepo(t)) })
	t.Run("SweepStatements", func(t *testing.T) { testSweepStatements(t, newRepo(t)) })
	t.Run("ConcurrentManagerTraffic", func(t *testing.T) { testConcurrentManagerTraffic(t, newRepo(t)) })
}

// SeedUser stores an enabled user with the given subject and e-mail.
func SeedUser(t *testing.T, repo user.Store, subject, email string) *user.User {
	t.Helper()
	u := user.New(email, "Test User", base)
	u.Subject = subject
	u.Provider = user.ProviderFirebase
	require.NoError(t, repo.SaveUser(context.Background(), u))
	return u
}

func newSession(u *user.User, subject string, createdAt time.Time) *session.Session {
	return &session.Session{
		ID:             uuid.NewString(),
		Token:          uuid.NewString() + uuid.NewString(),
		UserID:         u.ID,
		Subject:        subject,
		DisplayName:    "Test User",
		AvatarURL:      "https://example.com/a.png",
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
		ExpiresAt:      createdAt.Add(24 * time.Hour),
		UpdatedAt:      createdAt,
		ClientIP:       "203.0.113.7",
		UserAgent:      "test-agent",
		Active:         true,
	}
}

func testUsers(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "Reader@Example.com")
	u.Roles = []string{user.RoleUser, "ROLE_ADMIN"}
	u.City = "Porto"
	require.NoError(t, repo.SaveUser(ctx, u))

	got, err := repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Porto", got.City)
	assert.ElementsMatch(t, []string{user.RoleUser, "ROLE_ADMIN"}, got.Roles)

	got, err = repo.FindUserBySubject(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repo.FindUserByEmail(ctx, "  reader@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.FindUserBySubject(ctx, "missing")
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = repo.FindUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = repo.FindUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, user.ErrNotFound)

	other := user.New("reader@example.com", "Copy", base)
	assert.ErrorIs(t, repo.SaveUser(ctx, other), user.ErrDuplicate)
}

func testCreateAndGet(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	s := newSession(u, "sub-1", base)
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "sub-1", got.Subject)
	assert.Equal(t, "owner@example.com", got.OwnerEmail)
	assert.Equal(t, "Test User", got.DisplayName)
	assert.True(t, got.Active)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetSession(ctx, "no-such-token")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func testCreateUnknownUser(t *testing.T, repo storage.Repository) {
	ghost := user.New("ghost@example.com", "Ghost", base)
	err := repo.CreateSession(context.Background(), newSession(ghost, "ghost", base))
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func testTokenConflict(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	s := newSession(u, "sub-1", base)
	require.NoError(t, repo.CreateSession(ctx, s))

	dup := newSession(u, "sub-1", base)
	dup.Token = s.Token
	assert.ErrorIs(t, repo.CreateSession(ctx, dup), session.ErrTokenConflict)
}

func testCountAndList(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	other := SeedUser(t, repo, "sub-2", "other@example.com")

	first := newSession(u, "sub-1", base)
	second := newSession(u, "sub-1", base.Add(time.Minute))
	expired := newSession(u, "sub-1", base.Add(-48*time.Hour))
	require.NoError(t, repo.CreateSession(ctx, first))
	require.NoError(t, repo.CreateSession(ctx, second))
	require.NoError(t, repo.CreateSession(ctx, expired))
	require.NoError(t, repo.CreateSession(ctx, newSession(other, "sub-2", base)))

	n, err := repo.CountActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "count includes active rows the sweep has not reached yet")

	list, err := repo.ListActiveSessions(ctx, u.ID, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Token, list[0].Token)
	assert.Equal(t, first.Token, list[1].Token)
}

func testTouchAndExtend(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	s := newSession(u, "sub-1", base)
	require.NoError(t, repo.CreateSession(ctx, s))

	touchAt := base.Add(10 * time.Minute)
	require.NoError(t, repo.TouchSession(ctx, s.Token, touchAt))
	got, err := repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, touchAt.Equal(got.LastAccessedAt))

	later := s.ExpiresAt.Add(5 * time.Hour)
	require.NoError(t, repo.ExtendSession(ctx, s.Token, later, touchAt))
	got, err = repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.ExpiresAt))

	// Extension never moves expiry backwards.
	require.NoError(t, repo.ExtendSession(ctx, s.Token, base.Add(time.Hour), touchAt))
	got, err = repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.ExpiresAt))

	// Unknown tokens are silently ignored.
	assert.NoError(t, repo.TouchSession(ctx, "missing", touchAt))
	assert.NoError(t, repo.ExtendSession(ctx, "missing", later, touchAt))

	// Inactive sessions are neither touched nor extended.
	_, err = repo.DeactivateSession(ctx, s.Token, touchAt)
	require.NoError(t, err)
	require.NoError(t, repo.TouchSession(ctx, s.Token, touchAt.Add(time.Hour)))
	require.NoError(t, repo.ExtendSession(ctx, s.Token, later.Add(time.Hour), touchAt))
	got, err = repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, touchAt.Equal(got.LastAccessedAt))
	assert.True(t, later.Equal(got.ExpiresAt))
}

func testDeactivate(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	a := newSession(u, "sub-1", base)
	b := newSession(u, "sub-1", base)
	c := newSession(u, "sub-1", base)
	for _, s := range []*session.Session{a, b, c} {
		require.NoError(t, repo.CreateSession(ctx, s))
	}

	changed, err := repo.DeactivateSession(ctx, a.Token, base)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.DeactivateSession(ctx, a.Token, base)
	require.NoError(t, err)
	assert.False(t, changed, "second deactivation is a no-op")
	changed, err = repo.DeactivateSession(ctx, "missing", base)
	require.NoError(t, err)
	assert.False(t, changed)

	n, err := repo.DeactivateSubjectSessions(ctx, "sub-1", base)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.DeactivateUserSessions(ctx, u.ID, base)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	count, err := repo.CountActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testDeleteSessionsAndUser(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	live := newSession(u, "sub-1", base)
	dead := newSession(u, "sub-1", base)
	require.NoError(t, repo.CreateSession(ctx, live))
	require.NoError(t, repo.CreateSession(ctx, dead))
	_, err := repo.DeactivateSession(ctx, dead.Token, base)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteUser(ctx, u.ID), user.ErrHasSessions)

	n, err := repo.DeleteSessions(ctx, u.ID, "sub-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, repo.DeleteUser(ctx, u.ID))
	_, err = repo.FindUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteUser(ctx, u.ID), user.ErrNotFound)

	n, err = repo.DeleteSessions(ctx, "", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testSweepStatements(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := SeedUser(t, repo, "sub-1", "owner@example.com")
	now := base.Add(30 * 24 * time.Hour)

	fresh := newSession(u, "sub-1", now.Add(-time.Hour))
	expired := newSession(u, "sub-1", now.Add(-25*time.Hour))
	oldInactive := newSession(u, "sub-1", now.Add(-10*24*time.Hour))
	recentInactive := newSession(u, "sub-1", now.Add(-2*time.Hour))
	for _, s := range []*session.Session{fresh, expired, oldInactive, recentInactive} {
		require.NoError(t, repo.CreateSession(ctx, s))
	}
	_, err := repo.DeactivateSession(ctx, oldInactive.Token, now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = repo.DeactivateSession(ctx, recentInactive.Token, now.Add(-time.Hour))
	require.NoError(t, err)

	n, err := repo.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "repeat is a no-op")

	n, err = repo.DeleteInactive(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetSession(ctx, oldInactive.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
	got, err := repo.GetSession(ctx, expired.Token)
	require.NoError(t, err)
	assert.False(t, got.Active)
	got, err = repo.GetSession(ctx, fresh.Token)
	require.NoError(t, err)
	assert.True(t, got.Active)
	_, err = repo.GetSession(ctx, recentInactive.Token)
	require.NoError(t, err)
}

// testConcurrentManagerTraffic drives one user's sessions from many
// goroutines while sweeps overlap each other and the request traffic.
func testConcurrentManagerTraffic(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	m, err := session.NewManager(repo,
		session.WithLogger(slog.New(slog.DiscardHandler)),
		session.WithMaxSessions(3),
	)
	require.NoError(t, err)
	u := SeedUser(t, repo, "sub-busy", "busy@example.com")

	const workers = 8
	const rounds = 15
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s, err := m.Create(ctx, u, "sub-busy", "Busy", "", "198.51.100.1", "agent")
				if err != nil {
					errs <- err
					continue
				}
				if got, ok := m.Validate(ctx, s.Token); ok {
					assert.Equal(t, u.ID, got.UserID)
				}
				m.Touch(ctx, s.Token)
				m.Extend(ctx, s.Token, 2)
				switch {
				case i%5 == 0:
					if err := m.RevokeAllForIdentity(ctx, "sub-busy"); err != nil {
						errs <- err
					}
				case w%2 == 0:
					if _, err := m.Sweep(ctx); err != nil {
						errs <- err
					}
				}
			}
		}(w)
	}
	for i := 0; i < workers/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if _, err := m.Sweep(ctx); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	require.NoError(t, m.RevokeAllForIdentity(ctx, "sub-busy"))
	list, err := m.ListForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	count, err := repo.CountActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = m.Sweep(ctx)
	require.NoError(t, err)
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SweepResult{}, res)
}
