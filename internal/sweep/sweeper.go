// Package sweep demotes idle sessions on a schedule: active sessions go
// stale after the stale timeout, stale sessions are ended after a further
// grace period. Clients that crash without a session_end event are cleaned
// up here.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/metrics"
)

// Store is what the sweeper needs from the relational store.
type Store interface {
	SweepStale(ctx context.Context, cutoff, now int64) (int64, error)
	SweepEnded(ctx context.Context, cutoff, now int64) (int64, error)
}

// Result reports one sweep pass.
type Result struct {
	Stale int64 `json:"stale"`
	Ended int64 `json:"ended"`
}

// Sweeper runs the periodic staleness sweep.
type Sweeper struct {
	store        Store
	staleTimeout time.Duration
	endedTimeout time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewSweeper wires the sweeper. m may be nil.
func NewSweeper(st Store, staleTimeout, endedTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:        st,
		staleTimeout: staleTimeout,
		endedTimeout: endedTimeout,
		metrics:      m,
		logger:       logger.With().Str("component", "sweep").Logger(),
	}
}

// Run performs one sweep pass at the given time. Stale demotion and ending
// use independent cutoffs: a session is ended only after it has been idle
// for the stale timeout plus the ended grace period.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	nowMs := now.UTC().UnixMilli()

	stale, err := s.store.SweepStale(ctx, nowMs-s.staleTimeout.Milliseconds(), nowMs)
	if err != nil {
		return Result{}, err
	}

	ended, err := s.store.SweepEnded(ctx, nowMs-(s.staleTimeout+s.endedTimeout).Milliseconds(), nowMs)
	if err != nil {
		return Result{Stale: stale}, err
	}

	res := Result{Stale: stale, Ended: ended}
	if s.metrics != nil {
		s.metrics.RecordSweep("stale", stale)
		s.metrics.RecordSweep("ended", ended)
	}
	if stale > 0 || ended > 0 {
		s.logger.Info().Int64("stale", stale).Int64("ended", ended).Msg("sweep completed")
	}
	return res, nil
}

// Loop runs the sweep on the given interval until ctx is cancelled. One pass
// runs immediately on start so restarts don't wait a full interval.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	if _, err := s.Run(ctx, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
				if s.metrics != nil {
					s.metrics.RecordError("sweep", "run")
				}
			}
		}
	}
}
