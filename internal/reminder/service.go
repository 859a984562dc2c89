// Package reminder owns the reminder lifecycle: validation, schedule
// generation and regeneration, completion, the dashboard view and the
// schedule horizon top-up.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/classify"
	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
	"github.com/gabri3lsal3s/ikgaihub/internal/recurrence"
	"github.com/gabri3lsal3s/ikgaihub/internal/validate"
)

// Store is the persistence the service needs.
type Store interface {
	CreateReminder(ctx context.Context, rem *db.Reminder, occurrences []time.Time) error
	GetReminder(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error)
	GetReminderWithSchedules(ctx context.Context, userID, id uuid.UUID) (*db.ReminderWithSchedules, error)
	UpdateReminder(ctx context.Context, rem *db.Reminder, regen *db.Regeneration) error
	ToggleReminderActive(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error)
	DeleteReminder(ctx context.Context, userID, id uuid.UUID) error
	ListReminders(ctx context.Context, userID uuid.UUID, filter db.ReminderFilter) ([]db.Reminder, error)
	ListRemindersWithSchedules(ctx context.Context, userID uuid.UUID) ([]db.ReminderWithSchedules, error)
	ListTopUpCandidates(ctx context.Context, userID *uuid.UUID) ([]db.TopUpCandidate, error)
	CreateSchedules(ctx context.Context, reminderID uuid.UUID, times []time.Time) (int64, error)
	MarkScheduleSent(ctx context.Context, userID, scheduleID uuid.UUID, at time.Time) (*db.Schedule, error)
	PendingSchedules(ctx context.Context, userID uuid.UUID, now time.Time) ([]db.Schedule, error)
	NextPendingSchedule(ctx context.Context, userID, reminderID uuid.UUID, now time.Time) (*db.Schedule, error)
	GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error)
}

// Config tunes schedule generation.
type Config struct {
	HorizonDays        int
	TopUpThresholdDays int
}

// DefaultConfig returns the 30 day horizon with a 7 day top-up threshold.
func DefaultConfig() Config {
	return Config{
		HorizonDays:        recurrence.DefaultHorizonDays,
		TopUpThresholdDays: 7,
	}
}

// Service implements reminder operations on top of a Store.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewService creates a reminder service.
func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = recurrence.DefaultHorizonDays
	}
	if cfg.TopUpThresholdDays < 0 {
		cfg.TopUpThresholdDays = 0
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// Detail is a reminder with its schedules and current buckets.
type Detail struct {
	db.ReminderWithSchedules
	Buckets []classify.Bucket `json:"buckets"`
}

// Dashboard is the classified view of a user's reminders.
type Dashboard struct {
	classify.Result
	Focus    classify.Bucket `json:"focus"`
	Timezone string          `json:"timezone"`
	Now      time.Time       `json:"now"`
}

func (s *Service) settings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error) {
	settings, err := s.store.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

func (s *Service) expand(rem *db.Reminder, loc *time.Location) ([]time.Time, error) {
	def := Definition(rem, loc)
	if err := def.Validate(); err != nil {
		return nil, validate.Invalid("recurrence_pattern", "recurrence")
	}
	return recurrence.Expand(def, s.cfg.HorizonDays)
}

// regeneration rebuilds rem's schedules after an edit. Recurring reminders
// keep everything before now and are expanded from now up to the horizon.
// A one-off reminder has a single schedule, so every unsent schedule is
// replaced by it.
func (s *Service) regeneration(rem *db.Reminder, loc *time.Location, now time.Time) (*db.Regeneration, error) {
	if !rem.IsRecurring {
		occurrences, err := s.expand(rem, loc)
		if err != nil {
			return nil, err
		}
		return &db.Regeneration{Occurrences: occurrences}, nil
	}

	def := Definition(rem, loc)
	if err := def.Validate(); err != nil {
		return nil, validate.Invalid("recurrence_pattern", "recurrence")
	}
	first, err := def.First()
	if err != nil {
		return nil, err
	}

	local := now.In(loc)
	from := first
	if local.After(from) {
		from = local
	}

	occurrences, err := recurrence.ExpandRange(def, from, local.AddDate(0, 0, s.cfg.HorizonDays))
	if err != nil {
		return nil, err
	}
	return &db.Regeneration{Since: now, Occurrences: occurrences}, nil
}

// Create validates in, expands its schedules in the owner's timezone and
// stores both atomically.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in Input) (*db.Reminder, error) {
	if err := in.check(); err != nil {
		return nil, err
	}

	rem, err := in.newReminder(userID)
	if err != nil {
		return nil, err
	}

	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	occurrences, err := s.expand(rem, settings.Location())
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateReminder(ctx, rem, occurrences); err != nil {
		return nil, err
	}

	metrics.RecordSchedulesGenerated("create", len(occurrences))
	return rem, nil
}

// Update applies p. Schedules are regenerated only when a field that
// defines them changed, and completed schedules always survive.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, p Patch, now time.Time) (*db.Reminder, error) {
	current, err := s.store.GetReminder(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	in := p.merge(inputFrom(current))
	if err := in.check(); err != nil {
		return nil, err
	}

	updated := *current
	if err := in.apply(&updated); err != nil {
		return nil, err
	}
	if p.IsActive != nil {
		updated.IsActive = *p.IsActive
	}

	var regen *db.Regeneration
	if recurrenceChanged(current, &updated) {
		settings, err := s.settings(ctx, userID)
		if err != nil {
			return nil, err
		}
		if regen, err = s.regeneration(&updated, settings.Location(), now); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateReminder(ctx, &updated, regen); err != nil {
		return nil, err
	}

	if regen != nil {
		metrics.RecordSchedulesGenerated("regenerate", len(regen.Occurrences))
	}
	return &updated, nil
}

// Delete removes a reminder and its schedules.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.DeleteReminder(ctx, userID, id)
}

// ToggleActive pauses or resumes a reminder.
func (s *Service) ToggleActive(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error) {
	return s.store.ToggleReminderActive(ctx, userID, id)
}

// Get returns one reminder with its schedules and the buckets it falls into.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID, now time.Time) (*Detail, error) {
	entry, err := s.store.GetReminderWithSchedules(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	buckets := classify.Of(*entry, now.In(settings.Location()))
	if buckets == nil {
		buckets = []classify.Bucket{}
	}
	if entry.Schedules == nil {
		entry.Schedules = []db.Schedule{}
	}

	return &Detail{ReminderWithSchedules: *entry, Buckets: buckets}, nil
}

// List returns a user's reminders matching filter.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter db.ReminderFilter) ([]db.Reminder, error) {
	if filter.Type != "" {
		switch filter.Type {
		case db.ReminderTypeMeal, db.ReminderTypeExercise, db.ReminderTypeGoal, db.ReminderTypeCustom:
		default:
			return nil, validate.Invalid("reminder_type", "oneof")
		}
	}

	reminders, err := s.store.ListReminders(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if reminders == nil {
		reminders = []db.Reminder{}
	}
	return reminders, nil
}

// MarkScheduleSent records completion of one schedule.
func (s *Service) MarkScheduleSent(ctx context.Context, userID, scheduleID uuid.UUID, now time.Time) (*db.Schedule, error) {
	return s.store.MarkScheduleSent(ctx, userID, scheduleID, now)
}

// CompleteNext marks the reminder's next future schedule as sent.
func (s *Service) CompleteNext(ctx context.Context, userID, reminderID uuid.UUID, now time.Time) (*db.Schedule, error) {
	if _, err := s.store.GetReminder(ctx, userID, reminderID); err != nil {
		return nil, err
	}

	next, err := s.store.NextPendingSchedule(ctx, userID, reminderID, now)
	if err != nil {
		return nil, err
	}

	sent, err := s.store.MarkScheduleSent(ctx, userID, next.ID, now)
	if errors.Is(err, db.ErrScheduleAlreadySent) {
		s.logger.Debug("next schedule completed concurrently",
			zap.String("schedule_id", next.ID.String()),
		)
	}
	return sent, err
}

// Pending lists unsent schedules at or after now.
func (s *Service) Pending(ctx context.Context, userID uuid.UUID, now time.Time) ([]db.Schedule, error) {
	schedules, err := s.store.PendingSchedules(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		schedules = []db.Schedule{}
	}
	return schedules, nil
}

// Dashboard classifies a user's reminders at now, seen from the user's
// timezone.
func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID, now time.Time) (*Dashboard, error) {
	settings, err := s.settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListRemindersWithSchedules(ctx, userID)
	if err != nil {
		return nil, err
	}

	local := now.In(settings.Location())
	result := classify.Classify(entries, local)

	return &Dashboard{
		Result:   result,
		Focus:    classify.Focus(result),
		Timezone: settings.Location().String(),
		Now:      local,
	}, nil
}
