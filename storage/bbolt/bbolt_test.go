package bbolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	"github.com/escritoresnogueira/backend/storage/storagetest"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	return s
}

func TestBBoltRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		s := newTestStore(t, filepath.Join(t.TempDir(), "backend.db"))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBBoltRepositorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backend.db")

	s := newTestStore(t, path)
	u := storagetest.SeedUser(t, s, "sub-1", "owner@example.com")
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateSession(ctx, &session.Session{
		ID: "s1", Token: "persisted-token", UserID: u.ID, Subject: "sub-1",
		CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour), UpdatedAt: now, Active: true,
	}))
	require.NoError(t, s.Close())

	s = newTestStore(t, path)
	defer s.Close()
	got, err := s.GetSession(ctx, "persisted-token")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "owner@example.com", got.OwnerEmail)
	assert.True(t, got.IsValid(now))
}
