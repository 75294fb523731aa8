package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeps is what the sweeper drives; *Directory implements it.
type Sweeps interface {
	SweepExpiredWaitingSessions(ctx context.Context, now time.Time) (int, error)
	SweepGracePeriodExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Sweeper fires the time-driven session transitions on a fixed interval.
type Sweeper struct {
	target   Sweeps
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(target Sweeps, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{target: target, interval: interval, now: now}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	log.Info().Str("module", "app.sweeper").Dur("interval", s.interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs both sweeps once. Errors are logged; the next tick retries.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.now()
	if n, err := s.target.SweepExpiredWaitingSessions(ctx, now); err != nil {
		log.Error().Err(err).Str("module", "app.sweeper").Msg("waiting sweep failed")
	} else if n > 0 {
		log.Info().Str("module", "app.sweeper").Int("ended", n).Msg("ended sessions without quorum")
	}
	if n, err := s.target.SweepGracePeriodExpiredSessions(ctx, now); err != nil {
		log.Error().Err(err).Str("module", "app.sweeper").Msg("grace sweep failed")
	} else if n > 0 {
		log.Info().Str("module", "app.sweeper").Int("ended", n).Msg("ended empty sessions")
	}
}
