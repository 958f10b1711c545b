package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/service"
)

const (
	sweepLockKey = "wedding-ai:sweeper"
	sweepBatch   = 100
)

type JobSweeper interface {
	Sweep(ctx context.Context, before time.Time, limit int) (service.SweepResult, error)
}

// Sweeper periodically closes jobs nobody finished and retries releases.
// With Redis, one instance per cluster sweeps at a time.
type Sweeper struct {
	jobs       JobSweeper
	rdb        *redis.Client
	interval   time.Duration
	staleAfter time.Duration
	owner      string
	log        zerolog.Logger
	now        func() time.Time
}

func NewSweeper(jobs JobSweeper, rdb *redis.Client, interval, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Sweeper{
		jobs:       jobs,
		rdb:        rdb,
		interval:   interval,
		staleAfter: staleAfter,
		owner:      uuid.NewString(),
		log:        log.With().Str("component", "sweeper").Logger(),
		now:        time.Now,
	}
}

// Start sweeps on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// RunOnce performs one sweep. ran is false when another instance holds the
// lock.
func (s *Sweeper) RunOnce(ctx context.Context) (res service.SweepResult, ran bool, err error) {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, sweepLockKey, s.owner, s.interval).Result()
		if err != nil {
			return res, false, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			return res, false, nil
		}
	}

	res, err = s.jobs.Sweep(ctx, s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		return res, true, err
	}
	if res.Closed > 0 || res.Released > 0 {
		s.log.Info().Int("closed", res.Closed).Int("released", res.Released).Msg("sweep recovered jobs")
	}
	return res, true, nil
}
