package alarm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
)

// Scheduler ticks at a fixed interval and hands each tick time to emit. The
// receiver evaluates Table.Due, so all alarm state stays with one owner.
type Scheduler struct {
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler that checks every interval.
func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		now:      time.Now,
		logger:   xlog.WithComponent("scheduler"),
	}
}

// Run emits once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context, emit func(context.Context, time.Time)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Str(xlog.FieldEvent, "scheduler.started").
		Dur("interval", s.interval).
		Msg("alarm scheduler started")

	emit(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			emit(ctx, s.now())
		}
	}
}
