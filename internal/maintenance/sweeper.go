// Package maintenance runs background upkeep that is not tied to a session.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
)

const (
	defaultTopUpSpec = "@daily"
	defaultPoolSpec  = "@every 30s"
	topUpTimeout     = 10 * time.Minute
)

// TopUpper extends the schedule horizon of every recurring reminder.
type TopUpper interface {
	TopUpAll(ctx context.Context, now time.Time) (int, error)
}

// PoolStats reports connection usage for the gauges.
type PoolStats interface {
	AcquiredConns() int
}

// RedisStats reports Redis connection usage.
type RedisStats interface {
	ActiveConns() int
}

// Sweeper coordinates the schedule top-up and connection pool gauges.
type Sweeper struct {
	topUp TopUpper
	db    PoolStats
	redis RedisStats
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	topUpSchedule string
	poolSchedule  string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock passed to the top-up.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTopUpSchedule overrides the cron specification for the top-up.
func WithTopUpSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.topUpSchedule = spec
		}
	}
}

// WithPoolStats enables the connection gauges. Either argument may be nil.
func WithPoolStats(db PoolStats, redis RedisStats) Option {
	return func(s *Sweeper) {
		s.db = db
		s.redis = redis
	}
}

// NewSweeper constructs a Sweeper. A nil top-upper disables that job.
func NewSweeper(topUp TopUpper, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		topUp:         topUp,
		now:           time.Now,
		log:           logger,
		topUpSchedule: defaultTopUpSpec,
		poolSchedule:  defaultPoolSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s
}

// Start registers the jobs and launches the scheduler.
func (s *Sweeper) Start() error {
	if s.topUp != nil {
		if _, err := s.cron.AddFunc(s.topUpSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), topUpTimeout)
			defer cancel()
			if err := s.runTopUp(ctx); err != nil {
				s.log.Warn("schedule top-up failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.db != nil || s.redis != nil {
		if _, err := s.cron.AddFunc(s.poolSchedule, s.recordPools); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs error

	if s.topUp != nil {
		errs = multierr.Append(errs, s.runTopUp(ctx))
	}
	s.recordPools()

	return errs
}

func (s *Sweeper) runTopUp(ctx context.Context) error {
	inserted, err := s.topUp.TopUpAll(ctx, s.now())
	metrics.RecordJobRun("topup", err)
	s.log.Info("schedule top-up finished",
		zap.Int("inserted", inserted),
		zap.Int("failures", len(multierr.Errors(err))),
	)
	return err
}

func (s *Sweeper) recordPools() {
	if s.db != nil {
		metrics.SetDBConnections(s.db.AcquiredConns())
	}
	if s.redis != nil {
		metrics.SetRedisConnections(s.redis.ActiveConns())
	}
}
