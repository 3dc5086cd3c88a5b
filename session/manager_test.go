package session_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage/memory"
	"github.com/escritoresnogueira/backend/user"
)

var t0 = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo    *memory.Repository
	clock   *fakeClock
	manager *session.Manager
	reader  *sdkmetric.ManualReader
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, store session.Store, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewRepository(),
		clock:  &fakeClock{now: t0},
		reader: sdkmetric.NewManualReader(),
		logs:   &bytes.Buffer{},
	}
	if store == nil {
		store = f.repo
	}
	base := []session.Option{
		session.WithClock(f.clock.Now),
		session.WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))),
		session.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))),
	}
	m, err := session.NewManager(store, append(base, opts...)...)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) seedUser(t *testing.T, subject, email string) *user.User {
	t.Helper()
	u := user.New(email, "Reader", t0)
	u.Subject = subject
	require.NoError(t, f.repo.SaveUser(context.Background(), u))
	return u
}

func (f *fixture) create(t *testing.T, u *user.User) *session.Session {
	t.Helper()
	s, err := f.manager.Create(context.Background(), u, u.Subject, "Ana Silva", "https://example.com/ana.png", "203.0.113.9", "Mozilla/5.0")
	require.NoError(t, err)
	return s
}

func (f *fixture) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := session.NewManager(nil)
	require.Error(t, err)
}

func TestCreateThenValidateRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	created := f.create(t, u)

	assert.Len(t, created.Token, 64)
	assert.True(t, created.Active)
	assert.Equal(t, t0, created.CreatedAt)
	assert.Equal(t, t0, created.LastAccessedAt)
	assert.Equal(t, t0.Add(24*time.Hour), created.ExpiresAt)

	got, ok := f.manager.Validate(context.Background(), created.Token)
	require.True(t, ok)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "fb-1", got.Subject)
	assert.Equal(t, "Ana Silva", got.DisplayName)
	assert.Equal(t, "https://example.com/ana.png", got.AvatarURL)
	assert.Equal(t, "ana@example.com", got.OwnerEmail)
	assert.Equal(t, "203.0.113.9", got.ClientIP)
	assert.EqualValues(t, 1, f.counter(t, "session.created"))
}

func TestCreateTruncatesRequestMetadata(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	long := string(bytes.Repeat([]byte("a"), 700))
	s, err := f.manager.Create(context.Background(), u, "fb-1", "", "", "2001:0db8:85a3:0000:0000:8a2e:0370:7334:ffff:ffff", long)
	require.NoError(t, err)
	assert.Len(t, s.UserAgent, session.MaxUserAgentLength)
	assert.LessOrEqual(t, len(s.ClientIP), session.MaxClientIPLength)
}

func TestCreatePreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.manager.Create(ctx, nil, "fb-1", "", "", "", "")
	assert.ErrorIs(t, err, session.ErrInvalidUser)

	disabled := f.seedUser(t, "fb-2", "off@example.com")
	disabled.Enabled = false
	_, err = f.manager.Create(ctx, disabled, "fb-2", "", "", "", "")
	assert.ErrorIs(t, err, session.ErrUserDisabled)

	ghost := user.New("ghost@example.com", "Ghost", t0)
	_, err = f.manager.Create(ctx, ghost, "ghost", "", "", "", "")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestValidateHonorsExpiryBeforeSweep(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	s := f.create(t, u)

	f.clock.Advance(23 * time.Hour)
	_, ok := f.manager.Validate(context.Background(), s.Token)
	assert.True(t, ok, "valid at t0+23h")

	f.clock.Advance(2 * time.Hour)
	_, ok = f.manager.Validate(context.Background(), s.Token)
	assert.False(t, ok, "invalid at t0+25h")

	raw, err := f.repo.GetSession(context.Background(), s.Token)
	require.NoError(t, err)
	assert.True(t, raw.Active, "validate must not deactivate the row")
}

func TestValidateUnknownAndEmpty(t *testing.T) {
	f := newFixture(t, nil)
	_, ok := f.manager.Validate(context.Background(), "")
	assert.False(t, ok)
	_, ok = f.manager.Validate(context.Background(), "does-not-exist")
	assert.False(t, ok)
}

func TestValidateDoesNotTouch(t *testing.T) {
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	s := f.create(t, u)

	f.clock.Advance(time.Hour)
	_, ok := f.manager.Validate(context.Background(), s.Token)
	require.True(t, ok)
	raw, err := f.repo.GetSession(context.Background(), s.Token)
	require.NoError(t, err)
	assert.Equal(t, t0, raw.LastAccessedAt)

	f.manager.Touch(context.Background(), s.Token)
	raw, err = f.repo.GetSession(context.Background(), s.Token)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), raw.LastAccessedAt)
}

func TestRevokeIsPermanentAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	s := f.create(t, u)

	require.NoError(t, f.manager.Revoke(ctx, s.Token))
	require.NoError(t, f.manager.Revoke(ctx, s.Token))
	require.NoError(t, f.manager.Revoke(ctx, "unknown"))
	require.NoError(t, f.manager.Revoke(ctx, ""))

	_, ok := f.manager.Validate(ctx, s.Token)
	assert.False(t, ok)

	// Neither touch nor extend resurrects a revoked session.
	f.manager.Touch(ctx, s.Token)
	f.manager.Extend(ctx, s.Token, 48)
	_, ok = f.manager.Validate(ctx, s.Token)
	assert.False(t, ok)
	assert.EqualValues(t, 1, f.counter(t, "session.revoked"))
}

func TestCapEvictsAllPreviousSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")

	var first []*session.Session
	for i := 0; i < session.DefaultMaxSessions; i++ {
		first = append(first, f.create(t, u))
		f.clock.Advance(time.Minute)
	}
	for _, s := range first {
		_, ok := f.manager.Validate(ctx, s.Token)
		require.True(t, ok)
	}

	sixth := f.create(t, u)
	for i, s := range first {
		_, ok := f.manager.Validate(ctx, s.Token)
		assert.False(t, ok, "session %d should have been evicted", i+1)
	}
	_, ok := f.manager.Validate(ctx, sixth.Token)
	assert.True(t, ok)

	list, err := f.manager.ListForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sixth.Token, list[0].Token)
	assert.EqualValues(t, session.DefaultMaxSessions, f.counter(t, "session.evicted"))
}

func TestCapIsConfigurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, session.WithMaxSessions(2))
	u := f.seedUser(t, "fb-1", "ana@example.com")
	a := f.create(t, u)
	b := f.create(t, u)
	c := f.create(t, u)

	for _, s := range []*session.Session{a, b} {
		_, ok := f.manager.Validate(ctx, s.Token)
		assert.False(t, ok)
	}
	_, ok := f.manager.Validate(ctx, c.Token)
	assert.True(t, ok)
}

func TestExtend(t *testing.T) {
	ctx := context.Background()

	t.Run("AddsHours", func(t *testing.T) {
		f := newFixture(t, nil)
		s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
		f.manager.Extend(ctx, s.Token, 48)
		got, ok := f.manager.Validate(ctx, s.Token)
		require.True(t, ok)
		assert.Equal(t, t0.Add(72*time.Hour), got.ExpiresAt)
	})

	t.Run("ClampsToMaxLifetime", func(t *testing.T) {
		f := newFixture(t, nil)
		s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
		for i := 0; i < 3; i++ {
			f.manager.Extend(ctx, s.Token, 720)
		}
		got, ok := f.manager.Validate(ctx, s.Token)
		require.True(t, ok)
		assert.Equal(t, s.CreatedAt.Add(session.DefaultMaxLifetime), got.ExpiresAt)
	})

	t.Run("IgnoresNonPositiveHours", func(t *testing.T) {
		f := newFixture(t, nil)
		s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
		f.manager.Extend(ctx, s.Token, 0)
		f.manager.Extend(ctx, s.Token, -5)
		got, ok := f.manager.Validate(ctx, s.Token)
		require.True(t, ok)
		assert.Equal(t, s.ExpiresAt, got.ExpiresAt)
	})

	t.Run("IgnoresExpiredSession", func(t *testing.T) {
		f := newFixture(t, nil)
		s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
		f.clock.Advance(25 * time.Hour)
		f.manager.Extend(ctx, s.Token, 48)
		_, ok := f.manager.Validate(ctx, s.Token)
		assert.False(t, ok, "an expired session cannot be revived by extension")
	})

	t.Run("CustomLifetime", func(t *testing.T) {
		f := newFixture(t, nil, session.WithMaxLifetime(36*time.Hour))
		s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
		f.manager.Extend(ctx, s.Token, 168)
		got, ok := f.manager.Validate(ctx, s.Token)
		require.True(t, ok)
		assert.Equal(t, t0.Add(36*time.Hour), got.ExpiresAt)
	})
}

func TestRevokeAllForIdentityAcrossUserRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	// Two local rows that share one identity subject after an account merge.
	u1 := f.seedUser(t, "", "old@example.com")
	u2 := f.seedUser(t, "", "new@example.com")
	other := f.seedUser(t, "fb-other", "other@example.com")

	mk := func(u *user.User, subject string) *session.Session {
		s, err := f.manager.Create(ctx, u, subject, "", "", "", "")
		require.NoError(t, err)
		return s
	}
	shared := []*session.Session{mk(u1, "fb-x"), mk(u1, "fb-x"), mk(u2, "fb-x")}
	unrelated := mk(other, "fb-other")

	require.NoError(t, f.manager.RevokeAllForIdentity(ctx, "fb-x"))
	for _, s := range shared {
		_, ok := f.manager.Validate(ctx, s.Token)
		assert.False(t, ok)
	}
	_, ok := f.manager.Validate(ctx, unrelated.Token)
	assert.True(t, ok)
	assert.EqualValues(t, 3, f.counter(t, "session.revoked"))

	require.NoError(t, f.manager.RevokeAllForIdentity(ctx, ""))
	_, ok = f.manager.Validate(ctx, unrelated.Token)
	assert.True(t, ok, "empty subject matches nothing")
}

func TestPurgeAllForUserAllowsUserDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")
	a := f.create(t, u)
	f.create(t, u)
	require.NoError(t, f.manager.Revoke(ctx, a.Token))

	assert.ErrorIs(t, f.repo.DeleteUser(ctx, u.ID), user.ErrHasSessions)
	require.NoError(t, f.manager.PurgeAllForUser(ctx, u.ID, "fb-1"))
	require.NoError(t, f.repo.DeleteUser(ctx, u.ID))

	_, err := f.repo.GetSession(ctx, a.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.seedUser(t, "fb-1", "ana@example.com")

	expiring := f.create(t, u)
	revoked := f.create(t, u)
	require.NoError(t, f.manager.Revoke(ctx, revoked.Token))

	f.clock.Advance(25 * time.Hour)
	fresh := f.create(t, u)

	res, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SweepResult{Expired: 1, Purged: 0}, res)

	raw, err := f.repo.GetSession(ctx, expiring.Token)
	require.NoError(t, err)
	assert.False(t, raw.Active)

	// Idempotence: an immediate second sweep changes nothing.
	res, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SweepResult{}, res)

	// Past the retention window both inactive rows are deleted.
	f.clock.Advance(8 * 24 * time.Hour)
	res, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Purged)
	assert.EqualValues(t, 1, res.Expired, "fresh has expired by now")

	for _, s := range []*session.Session{expiring, revoked} {
		_, err := f.repo.GetSession(ctx, s.Token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	}
	_, err = f.repo.GetSession(ctx, fresh.Token)
	require.NoError(t, err, "fresh was deactivated only now and is still retained")

	assert.EqualValues(t, 2, f.counter(t, "session.sweep.expired"))
	assert.EqualValues(t, 2, f.counter(t, "session.sweep.purged"))
}

// failingStore fails every last-access and expiry write.
type failingStore struct {
	*memory.Repository
}

var errWrite = errors.New("database is read-only")

func (failingStore) TouchSession(context.Context, string, time.Time) error { return errWrite }

func (failingStore) ExtendSession(context.Context, string, time.Time, time.Time) error {
	return errWrite
}

func TestTouchAndExtendFailuresAreObservedNotReturned(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	f := newFixture(t, failingStore{repo})
	f.repo = repo
	s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))

	f.manager.Touch(ctx, s.Token)
	f.manager.Extend(ctx, s.Token, 24)

	assert.EqualValues(t, 1, f.counter(t, "session.touch.failures"))
	assert.EqualValues(t, 1, f.counter(t, "session.extend.failures"))
	assert.Contains(t, f.logs.String(), `"level":"WARN"`)
	assert.Contains(t, f.logs.String(), "session touch failed")
	assert.Contains(t, f.logs.String(), "session extend failed")
	assert.NotContains(t, f.logs.String(), s.Token, "full tokens must not be logged")
}

// unreadableStore fails every session lookup.
type unreadableStore struct {
	*memory.Repository
}

func (unreadableStore) GetSession(context.Context, string) (*session.Session, error) {
	return nil, errWrite
}

func TestExtendCountsLookupFailures(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	f := newFixture(t, unreadableStore{repo})
	f.repo = repo
	s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))

	f.manager.Extend(ctx, s.Token, 24)

	assert.EqualValues(t, 1, f.counter(t, "session.extend.failures"))
	assert.Contains(t, f.logs.String(), "session extend failed")
	assert.NotContains(t, f.logs.String(), "session lookup failed")

	stored, err := repo.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ExpiresAt, stored.ExpiresAt)
}

func TestExtendUnknownTokenIsNotAFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.Extend(context.Background(), "no-such-token", 24)
	assert.Zero(t, f.counter(t, "session.extend.failures"))
}

// sequenceReader repeats the same bytes forever so every token collides.
type sequenceReader struct{}

func (sequenceReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 7
	}
	return len(p), nil
}

func TestCreateRetriesThenFailsOnTokenCollision(t *testing.T) {
	f := newFixture(t, nil, session.WithEntropy(sequenceReader{}))
	u := f.seedUser(t, "fb-1", "ana@example.com")
	f.create(t, u)

	_, err := f.manager.Create(context.Background(), u, "fb-1", "", "", "", "")
	assert.ErrorIs(t, err, session.ErrTokenConflict)
}
