package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/testfixtures"
	"github.com/stretchr/testify/require"
)

type sweepCounter struct {
	mu      sync.Mutex
	waiting []time.Time
	grace   []time.Time
	fail    bool
}

func (s *sweepCounter) SweepExpiredWaitingSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = append(s.waiting, now)
	if s.fail {
		return 0, errors.New("store offline")
	}
	return 1, nil
}

func (s *sweepCounter) SweepGracePeriodExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = append(s.grace, now)
	return 0, nil
}

func (s *sweepCounter) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting), len(s.grace)
}

func TestSweeperTick(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	target := &sweepCounter{fail: true}
	s := app.NewSweeper(target, time.Minute, clock.NowFunc())

	s.Tick(context.Background())
	w, g := target.calls()
	require.Equal(t, 1, w)
	require.Equal(t, 1, g, "a failing sweep does not block the other")
	require.True(t, target.grace[0].Equal(clock.Now()))
}

func TestSweeperRun(t *testing.T) {
	target := &sweepCounter{}
	s := app.NewSweeper(target, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		w, _ := target.calls()
		return w >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
