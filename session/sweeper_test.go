package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage/memory"
)

func TestSweeperDeactivatesExpiredSessions(t *testing.T) {
	f := newFixture(t, nil)
	s := f.create(t, f.seedUser(t, "fb-1", "ana@example.com"))
	f.clock.Advance(25 * time.Hour)

	sw := session.NewSweeper(f.manager, 5*time.Millisecond)
	sw.Start()
	defer sw.Stop()

	require.Eventually(t, func() bool {
		raw, err := f.repo.GetSession(context.Background(), s.Token)
		return err == nil && !raw.Active
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	sw := session.NewSweeper(f.manager, time.Hour)
	done := make(chan struct{})
	go func() {
		sw.Stop()
		sw.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a sweeper that never started")
	}
}

// blockingStore holds DeactivateExpired until release is closed.
type blockingStore struct {
	*memory.Repository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	close(b.entered)
	<-b.release
	return b.Repository.DeactivateExpired(ctx, now)
}

func TestSweeperSkipsOverlappingTick(t *testing.T) {
	store := &blockingStore{
		Repository: memory.NewRepository(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	f := newFixture(t, store)
	sw := session.NewSweeper(f.manager, time.Hour)

	first := make(chan bool)
	go func() { first <- sw.RunOnce() }()
	<-store.entered

	assert.False(t, sw.RunOnce(), "second tick must be skipped while the first is running")

	close(store.release)
	assert.True(t, <-first)
}
