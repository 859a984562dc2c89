// Package worker polls for schedules whose notification window has opened
// and dispatches them, either directly or through an SQS hand-off.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/dispatch"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
	"github.com/gabri3lsal3s/ikgaihub/internal/sqs"
)

type Store interface {
	DueSchedules(ctx context.Context, now time.Time, maxLateness time.Duration, limit int) ([]db.DueSchedule, error)
	GetDueSchedule(ctx context.Context, scheduleID uuid.UUID) (*db.DueSchedule, error)
	GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error)
	MarkScheduleNotified(ctx context.Context, scheduleID uuid.UUID, at time.Time) error
}

type Dispatcher interface {
	DispatchSchedule(ctx context.Context, due db.DueSchedule, settings db.NotificationSettings, now time.Time) dispatch.Outcome
}

// Locker claims a schedule so only one replica handles it at a time.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Queue receives jobs when dispatch is handed off to consumers.
type Queue interface {
	EnqueueBatch(ctx context.Context, jobs []sqs.Job) ([]uuid.UUID, error)
}

// Source feeds jobs to Consume.
type Source interface {
	Receive(ctx context.Context, limit int32) ([]sqs.Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Worker struct {
	store      Store
	dispatcher Dispatcher
	locker     Locker
	queue      Queue
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxLateness  time.Duration
	LockTTL      time.Duration
}

type Option func(*Worker)

// WithLocker makes the worker claim schedules before handling them.
func WithLocker(l Locker) Option {
	return func(w *Worker) { w.locker = l }
}

// WithQueue switches the poller to enqueueing jobs instead of dispatching.
func WithQueue(q Queue) Option {
	return func(w *Worker) { w.queue = q }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(store Store, dispatcher Dispatcher, cfg Config, logger *zap.Logger, opts ...Option) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxLateness == 0 {
		cfg.MaxLateness = time.Hour
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 5 * time.Minute
	}

	w := &Worker{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func lockName(id uuid.UUID) string {
	return "schedule:" + id.String()
}

// claim returns false when another replica already holds the schedule or
// the lock store is unavailable.
func (w *Worker) claim(ctx context.Context, id uuid.UUID) bool {
	if w.locker == nil {
		return true
	}
	ok, err := w.locker.Acquire(ctx, lockName(id), w.config.LockTTL)
	if err != nil {
		w.logger.Warn("failed to claim schedule", zap.Error(err), zap.String("schedule_id", id.String()))
		return false
	}
	return ok
}

func (w *Worker) release(ctx context.Context, id uuid.UUID) {
	if w.locker == nil {
		return
	}
	if err := w.locker.Release(ctx, lockName(id)); err != nil {
		w.logger.Warn("failed to release schedule", zap.Error(err), zap.String("schedule_id", id.String()))
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	now := w.now()

	due, err := w.store.DueSchedules(ctx, now, w.config.MaxLateness, w.config.BatchSize)
	metrics.RecordJobRun("dispatch_poll", err)
	if err != nil {
		w.logger.Error("failed to get due schedules", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	var claimed []db.DueSchedule
	for _, d := range due {
		if w.claim(ctx, d.Schedule.ID) {
			claimed = append(claimed, d)
		}
	}

	if w.queue != nil {
		w.enqueue(ctx, claimed)
		return
	}

	for _, d := range claimed {
		w.handle(ctx, d, now)
	}
}

func (w *Worker) enqueue(ctx context.Context, due []db.DueSchedule) {
	if len(due) == 0 {
		return
	}

	jobs := make([]sqs.Job, 0, len(due))
	for _, d := range due {
		jobs = append(jobs, sqs.Job{
			ScheduleID:    d.Schedule.ID,
			ReminderID:    d.Reminder.ID,
			UserID:        d.Reminder.UserID,
			ScheduledTime: d.Schedule.ScheduledTime,
		})
	}

	accepted, err := w.queue.EnqueueBatch(ctx, jobs)
	if err != nil {
		w.logger.Error("failed to enqueue dispatch jobs", zap.Error(err))
	}

	queued := make(map[uuid.UUID]bool, len(accepted))
	for _, id := range accepted {
		queued[id] = true
	}
	// unqueued schedules go back to the pool for the next tick
	for _, d := range due {
		if !queued[d.Schedule.ID] {
			w.release(ctx, d.Schedule.ID)
		}
	}

	w.logger.Debug("dispatch jobs enqueued", zap.Int("count", len(accepted)))
}

// handle dispatches one claimed schedule and records that it was notified.
// Quiet-hours suppressions stay pending so a later tick can deliver them.
func (w *Worker) handle(ctx context.Context, due db.DueSchedule, now time.Time) {
	log := w.logger.With(
		zap.String("schedule_id", due.Schedule.ID.String()),
		zap.String("reminder_id", due.Reminder.ID.String()),
	)

	settings, err := w.store.GetOrCreateSettings(ctx, due.Reminder.UserID)
	if err != nil {
		log.Error("failed to load settings", zap.Error(err))
		w.release(ctx, due.Schedule.ID)
		return
	}

	out := w.dispatcher.DispatchSchedule(ctx, due, *settings, now)

	if out.Decision.Retryable() {
		log.Debug("schedule deferred", zap.String("reason", string(out.Decision.Reason)))
		w.release(ctx, due.Schedule.ID)
		return
	}

	if err := w.store.MarkScheduleNotified(ctx, due.Schedule.ID, now); err != nil {
		log.Error("failed to mark schedule notified", zap.Error(err))
		return
	}

	if out.Decision.Send {
		log.Info("schedule notified", zap.Bool("delivered", out.Delivered()))
	}
}

// Consume drains dispatch jobs from src until ctx is cancelled.
func (w *Worker) Consume(ctx context.Context, src Source) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("consumer stopping")
			return
		default:
		}

		deliveries, err := src.Receive(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to receive dispatch jobs", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		metrics.SetSQSMessagesInFlight(len(deliveries))
		for _, d := range deliveries {
			w.processDelivery(ctx, src, d)
		}
		metrics.SetSQSMessagesInFlight(0)
	}
}

func (w *Worker) processDelivery(ctx context.Context, src Source, d sqs.Delivery) {
	now := w.now()
	log := w.logger.With(zap.String("schedule_id", d.Job.ScheduleID.String()))

	due, err := w.store.GetDueSchedule(ctx, d.Job.ScheduleID)
	switch {
	case errors.Is(err, db.ErrScheduleNotFound):
		// completed, paused, deleted or already notified since it was queued
		log.Debug("dispatch job no longer applies")
	case err != nil:
		log.Error("failed to reload schedule", zap.Error(err))
		return
	case due.Schedule.ScheduledTime.Before(now.Add(-w.config.MaxLateness)):
		log.Warn("dispatch job expired", zap.Time("scheduled_time", due.Schedule.ScheduledTime))
		w.release(ctx, d.Job.ScheduleID)
	default:
		w.handle(ctx, *due, now)
	}

	if err := src.Delete(ctx, d.ReceiptHandle); err != nil {
		log.Error("failed to delete dispatch job", zap.Error(err))
	}
}
