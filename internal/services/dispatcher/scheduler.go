package dispatcher

import (
	"context"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/notifyd/notifyd/internal/obs/retry"
	"go.uber.org/zap"
)

// RetryConfig bounds the durable retry loop. MaxAttempts counts
// retries after the first try, so a job sees MaxAttempts+1 tries in
// total before it parks dead.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Hour
	}
	return c
}

// Scheduler turns a failed attempt into the job's next queue state:
// reschedule with backoff while retries remain and the failure is
// transient, dead otherwise.
type Scheduler struct {
	cfg     RetryConfig
	jobs    queue.Repository
	backoff retry.Backoff
	now     func() time.Time
	log     *zap.Logger
}

func NewScheduler(cfg RetryConfig, jobs queue.Repository, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.L()
	}
	return &Scheduler{
		cfg:     cfg,
		jobs:    jobs,
		backoff: retry.ExpoJitter{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Jitter: cfg.Jitter},
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With(zap.String("component", "dispatcher.scheduler")),
	}
}

// HandleFailure decides the claimed job's fate after a failed attempt
// and applies it. maxAttempts overrides the global retry ceiling when
// positive (webhook configs carry their own). attemptNum is the
// 1-based number of the attempt that just failed. Returns true when
// the job went dead.
func (s *Scheduler) HandleFailure(ctx context.Context, job *queue.Job, maxAttempts, attemptNum int, cause error) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	if delivery.IsPermanent(cause) || attemptNum > maxAttempts {
		if err := s.jobs.MarkDead(ctx, job.ID, job.LeaseToken); err != nil {
			return false, err
		}
		s.log.Warn("job dead",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attemptNum),
			zap.Bool("permanent", delivery.IsPermanent(cause)),
			zap.Error(cause),
		)
		return true, nil
	}

	delay := s.backoff.Next(attemptNum - 1)
	notBefore := s.now().Add(delay)
	if err := s.jobs.Reschedule(ctx, job.ID, job.LeaseToken, notBefore, attemptNum); err != nil {
		return false, err
	}
	s.log.Info("job rescheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempt", attemptNum),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return false, nil
}
