package distribution

import (
	"context"
	"errors"
	"time"

	"estatevault-backend/internal/domain"

	"github.com/rs/zerolog/log"
)

const TriggeredByScheduler = "scheduler"

// Runner is the part of Coordinator the scheduler drives.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunSummary, error)
}

// Scheduler triggers a distribution run on a fixed interval until ctx is done.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
}

func NewScheduler(r Runner, interval time.Duration) *Scheduler {
	return &Scheduler{Runner: r, Interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.Interval <= 0 {
		log.Info().Msg("distribution scheduler disabled")
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.Interval).Msg("distribution scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("distribution scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled batch. A batch already in flight is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	summary, err := s.Runner.Run(ctx, RunOptions{TriggeredBy: TriggeredByScheduler})
	if errors.Is(err, domain.ErrDistributionInProgress) {
		log.Info().Msg("distribution already in progress, skipping scheduled run")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("scheduled distribution failed")
		return
	}
	log.Debug().Str("status", summary.Status).Int("processed", summary.PaymentsProcessed).Msg("scheduled distribution done")
}
