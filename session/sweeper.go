package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper runs Manager.Sweep on a fixed interval until stopped.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper returns a sweeper for m. A non-positive interval falls back to
// DefaultSweepInterval.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		manager:  m,
		interval: interval,
		timeout:  interval,
		logger:   m.logger.With("task", "sweep"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop. Calls after the first are no-ops.
func (s *Sweeper) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.loop()
	}
}

// Stop ends the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// runOnce performs one sweep unless a previous tick is still sweeping.
func (s *Sweeper) runOnce() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous sweep still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.manager.Sweep(ctx); err != nil {
		s.logger.Error("session sweep failed", "error", err)
	}
	return true
}
