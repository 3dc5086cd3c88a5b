package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage/memory"
	"github.com/escritoresnogueira/backend/user"
)

var now = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

// deletingVerifier adds provider-side deletion to the JWT verifier.
type deletingVerifier struct {
	*identity.JWTVerifier
	deleted []string
	err     error
}

func (d *deletingVerifier) DeleteSubject(_ context.Context, subject string) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, subject)
	return nil
}

type fixture struct {
	repo     *memory.Repository
	verifier *deletingVerifier
	manager  *session.Manager
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jv, err := identity.NewJWTVerifier(bytes.Repeat([]byte("z"), identity.MinSecretLength), "test")
	require.NoError(t, err)
	repo := memory.NewRepository()
	clock := func() time.Time { return now }
	m, err := session.NewManager(repo, session.WithClock(clock))
	require.NoError(t, err)
	v := &deletingVerifier{JWTVerifier: jv}
	return &fixture{
		repo:     repo,
		verifier: v,
		manager:  m,
		svc:      NewService(v, repo, m, WithClock(clock)),
	}
}

func (f *fixture) credential(t *testing.T, id identity.Identity) string {
	t.Helper()
	tok, err := f.verifier.Issue(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestLoginCreatesAccountAndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred := f.credential(t, identity.Identity{
		Subject: "fb-1", Email: "Ana@Example.com", DisplayName: "Ana Maria Silva",
		AvatarURL: "https://example.com/ana.png", Provider: user.ProviderGoogle,
	})

	sess, u, err := f.svc.Login(ctx, cred, "198.51.100.4", "curl/8")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, "Ana Maria Silva", u.Name)
	assert.Equal(t, "Ana", u.FirstName)
	assert.Equal(t, "Maria Silva", u.LastName)
	assert.Equal(t, user.ProviderGoogle, u.Provider)
	assert.Equal(t, user.DefaultCountry, u.Country)
	assert.Equal(t, now, u.LastLogin)

	assert.Equal(t, u.ID, sess.UserID)
	assert.Equal(t, "fb-1", sess.Subject)
	assert.Equal(t, "Ana Maria Silva", sess.DisplayName)
	assert.Equal(t, "https://example.com/ana.png", sess.AvatarURL)

	got, ok := f.manager.Validate(ctx, sess.Token)
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", got.OwnerEmail)
}

func TestLoginDefaultsNameToEmailLocalPart(t *testing.T) {
	f := newFixture(t)
	cred := f.credential(t, identity.Identity{Subject: "fb-1", Email: "leitor@example.com"})
	_, u, err := f.svc.Login(context.Background(), cred, "", "")
	require.NoError(t, err)
	assert.Equal(t, "leitor", u.Name)
}

func TestLoginLinksExistingAccountByEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing := user.New("ana@example.com", "Ana", now.Add(-time.Hour))
	existing.Phone = "+351 900 000 000"
	require.NoError(t, f.repo.SaveUser(ctx, existing))

	cred := f.credential(t, identity.Identity{Subject: "fb-9", Email: "ANA@example.com", Provider: user.ProviderFacebook})
	_, u, err := f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, u.ID)
	assert.Equal(t, "fb-9", u.Subject)
	assert.Equal(t, user.ProviderFacebook, u.Provider)
	assert.Equal(t, "+351 900 000 000", u.Phone)

	bySubject, err := f.repo.FindUserBySubject(ctx, "fb-9")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, bySubject.ID)
}

func TestLoginKeepsExistingNameParts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred := f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com", DisplayName: "Ana Silva"})
	_, _, err := f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)

	u, err := f.repo.FindUserBySubject(ctx, "fb-1")
	require.NoError(t, err)
	u.FirstName, u.LastName = "Anita", "S."
	require.NoError(t, f.repo.SaveUser(ctx, u))

	cred = f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com", DisplayName: "Ana B. Silva"})
	_, u, err = f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana B. Silva", u.Name)
	assert.Equal(t, "Anita", u.FirstName)
	assert.Equal(t, "S.", u.LastName)
}

func TestLoginRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.svc.Login(ctx, "garbage", "", "")
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)

	u := user.New("off@example.com", "Off", now)
	u.Subject = "fb-off"
	u.Enabled = false
	require.NoError(t, f.repo.SaveUser(ctx, u))
	_, _, err = f.svc.Login(ctx, f.credential(t, identity.Identity{Subject: "fb-off"}), "", "")
	assert.ErrorIs(t, err, user.ErrDisabled)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred := f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com"})
	first, u, err := f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)
	_, _, err = f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, cred))

	_, err = f.repo.FindUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = f.repo.GetSession(ctx, first.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, []string{"fb-1"}, f.verifier.deleted)

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, cred), user.ErrNotFound)
}

func TestDeleteAccountToleratesProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.verifier.err = errors.New("provider unavailable")
	cred := f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com"})
	_, u, err := f.svc.Login(ctx, cred, "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, cred))
	_, err = f.repo.FindUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, u, err := f.svc.Login(ctx, f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com", DisplayName: "Ana Silva"}), "", "")
	require.NoError(t, err)

	last := "Costa"
	city := "  Braga "
	updated, err := f.svc.UpdateProfile(ctx, u.ID, ProfileUpdate{LastName: &last, City: &city})
	require.NoError(t, err)
	assert.Equal(t, "Ana Costa", updated.Name)
	assert.Equal(t, "Braga", updated.City)
	assert.Equal(t, user.DefaultCountry, updated.Country)

	_, err = f.svc.UpdateProfile(ctx, "missing", ProfileUpdate{})
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestPromoteToAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.Login(ctx, f.credential(t, identity.Identity{Subject: "fb-1", Email: "ana@example.com"}), "", "")
	require.NoError(t, err)

	u, err := f.svc.PromoteToAdmin(ctx, "fb-1")
	require.NoError(t, err)
	assert.True(t, u.HasRole(RoleAdmin))

	u, err = f.svc.PromoteToAdmin(ctx, "fb-1")
	require.NoError(t, err)
	assert.Len(t, u.Roles, 2)

	_, err = f.svc.PromoteToAdmin(ctx, "nobody")
	assert.ErrorIs(t, err, user.ErrNotFound)
}
