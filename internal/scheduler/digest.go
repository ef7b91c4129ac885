package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DigestRunner sends every digest that is due at now
type DigestRunner interface {
	RunDue(ctx context.Context, now time.Time) (int, error)
}

// DigestScheduler polls for due digest schedules on a fixed tick.
// Claiming is done in the database, so every node can run one.
type DigestScheduler struct {
	runner DigestRunner
	tick   time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewDigestScheduler(runner DigestRunner, tick time.Duration, logger *zap.Logger) *DigestScheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &DigestScheduler{
		runner: runner,
		tick:   tick,
		logger: logger,
		now:    time.Now,
	}
}

// RunOnce sends the digests due right now
func (s *DigestScheduler) RunOnce(ctx context.Context) (int, error) {
	sent, err := s.runner.RunDue(ctx, s.now().UTC())
	if err != nil {
		return sent, err
	}
	if sent > 0 {
		s.logger.Info("digests enqueued", zap.Int("count", sent))
	}
	return sent, nil
}

// Start runs RunOnce every tick until ctx is cancelled
func (s *DigestScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		s.logger.Info("digest scheduler started", zap.Duration("tick", s.tick))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("digest run failed", zap.Error(err))
				}
			}
		}
	}()
}
