package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for reminders, schedules, settings
// and notification history.
type Repository struct {
	db              *DB
	logger          *zap.Logger
	defaultTimezone string
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:              db,
		logger:          logger,
		defaultTimezone: "UTC",
	}
}

// WithDefaultTimezone sets the timezone given to lazily created settings rows.
func (r *Repository) WithDefaultTimezone(tz string) *Repository {
	if tz != "" {
		r.defaultTimezone = tz
	}
	return r
}

const reminderColumns = `
	r.id, r.user_id, r.title, r.description, r.reminder_type,
	r.target_date, r.target_time::text, r.is_recurring, r.recurrence_pattern,
	r.recurrence_days, r.is_active, r.notification_enabled,
	r.created_at, r.updated_at`

func scanReminder(row pgx.Row, rem *Reminder) error {
	return row.Scan(
		&rem.ID,
		&rem.UserID,
		&rem.Title,
		&rem.Description,
		&rem.ReminderType,
		&rem.TargetDate,
		&rem.TargetTime,
		&rem.IsRecurring,
		&rem.RecurrencePattern,
		&rem.RecurrenceDays,
		&rem.IsActive,
		&rem.NotificationEnabled,
		&rem.CreatedAt,
		&rem.UpdatedAt,
	)
}

func recurrenceDays(days []int) []int {
	if days == nil {
		return []int{}
	}
	return days
}

// CreateReminder inserts a reminder and its initial schedules in one transaction.
func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder, occurrences []time.Time) error {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}

	query := `
		INSERT INTO reminders (
			id, user_id, title, description, reminder_type,
			target_date, target_time, is_recurring, recurrence_pattern,
			recurrence_days, is_active, notification_enabled
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::text::time, $8, $9, $10, $11, $12
		)
		RETURNING created_at, updated_at
	`

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query,
			rem.ID,
			rem.UserID,
			rem.Title,
			rem.Description,
			rem.ReminderType,
			rem.TargetDate,
			rem.TargetTime,
			rem.IsRecurring,
			rem.RecurrencePattern,
			recurrenceDays(rem.RecurrenceDays),
			rem.IsActive,
			rem.NotificationEnabled,
		).Scan(&rem.CreatedAt, &rem.UpdatedAt)
		if err != nil {
			return storeErr("insert reminder", err)
		}

		_, err = insertSchedules(ctx, tx, rem.ID, occurrences)
		return err
	})
	if err != nil {
		r.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return err
	}

	r.logger.Info("reminder created",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("user_id", rem.UserID.String()),
		zap.Int("schedules", len(occurrences)),
	)

	return nil
}

// GetReminder retrieves a reminder owned by userID.
func (r *Repository) GetReminder(ctx context.Context, userID, id uuid.UUID) (*Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders r WHERE r.id = $1 AND r.user_id = $2`

	var rem Reminder
	err := scanReminder(r.db.Pool().QueryRow(ctx, query, id, userID), &rem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		r.logger.Error("failed to get reminder",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return nil, storeErr("query reminder", err)
	}

	return &rem, nil
}

// Regeneration replaces the unsent schedules of a reminder from Since
// onwards with Occurrences. Sent schedules are never touched.
type Regeneration struct {
	Since       time.Time
	Occurrences []time.Time
}

// UpdateReminder writes rem's mutable fields. When regen is non-nil the
// matching schedules are deleted and recreated inside the same transaction,
// deletion first.
func (r *Repository) UpdateReminder(ctx context.Context, rem *Reminder, regen *Regeneration) error {
	query := `
		UPDATE reminders SET
			title = $3,
			description = $4,
			reminder_type = $5,
			target_date = $6,
			target_time = $7::text::time,
			is_recurring = $8,
			recurrence_pattern = $9,
			recurrence_days = $10,
			is_active = $11,
			notification_enabled = $12,
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`

	var replaced, inserted int64
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query,
			rem.ID,
			rem.UserID,
			rem.Title,
			rem.Description,
			rem.ReminderType,
			rem.TargetDate,
			rem.TargetTime,
			rem.IsRecurring,
			rem.RecurrencePattern,
			recurrenceDays(rem.RecurrenceDays),
			rem.IsActive,
			rem.NotificationEnabled,
		).Scan(&rem.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReminderNotFound
		}
		if err != nil {
			return storeErr("update reminder", err)
		}

		if regen == nil {
			return nil
		}

		if replaced, err = deleteUnsentSchedules(ctx, tx, rem.ID, regen.Since); err != nil {
			return err
		}
		inserted, err = insertSchedules(ctx, tx, rem.ID, regen.Occurrences)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrReminderNotFound) {
			r.logger.Error("failed to update reminder",
				zap.Error(err),
				zap.String("reminder_id", rem.ID.String()),
			)
		}
		return err
	}

	if regen != nil {
		r.logger.Info("reminder schedules regenerated",
			zap.String("reminder_id", rem.ID.String()),
			zap.Int64("deleted", replaced),
			zap.Int64("inserted", inserted),
		)
	}

	return nil
}

// ToggleReminderActive flips is_active and returns the updated reminder.
func (r *Repository) ToggleReminderActive(ctx context.Context, userID, id uuid.UUID) (*Reminder, error) {
	query := `
		UPDATE reminders r SET is_active = NOT r.is_active, updated_at = NOW()
		WHERE r.id = $1 AND r.user_id = $2
		RETURNING ` + reminderColumns

	var rem Reminder
	err := scanReminder(r.db.Pool().QueryRow(ctx, query, id, userID), &rem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, storeErr("toggle reminder", err)
	}

	return &rem, nil
}

// DeleteReminder removes a reminder; its schedules go with it (ON DELETE CASCADE).
func (r *Repository) DeleteReminder(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM reminders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		r.logger.Error("failed to delete reminder",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return storeErr("delete reminder", err)
	}

	if result.RowsAffected() == 0 {
		return ErrReminderNotFound
	}

	r.logger.Info("reminder deleted", zap.String("reminder_id", id.String()))
	return nil
}

// ListReminders returns a user's reminders, newest target first.
func (r *Repository) ListReminders(ctx context.Context, userID uuid.UUID, filter ReminderFilter) ([]Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders r
		WHERE r.user_id = $1
		  AND ($2::boolean IS NULL OR r.is_active = $2)
		  AND ($3 = '' OR r.reminder_type = $3)
		ORDER BY r.target_date DESC, r.created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, filter.Active, filter.Type)
	if err != nil {
		return nil, storeErr("query reminders", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var rem Reminder
		if err := scanReminder(rows, &rem); err != nil {
			return nil, storeErr("scan reminder", err)
		}
		reminders = append(reminders, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate reminders", err)
	}

	return reminders, nil
}

// ListRemindersWithSchedules loads every reminder of a user with all of its
// schedules, ordered by scheduled time.
func (r *Repository) ListRemindersWithSchedules(ctx context.Context, userID uuid.UUID) ([]ReminderWithSchedules, error) {
	reminders, err := r.ListReminders(ctx, userID, ReminderFilter{})
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules s
		JOIN reminders r ON r.id = s.reminder_id
		WHERE r.user_id = $1
		ORDER BY s.scheduled_time ASC
	`

	schedules, err := r.querySchedules(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	byReminder := make(map[uuid.UUID][]Schedule, len(reminders))
	for _, s := range schedules {
		byReminder[s.ReminderID] = append(byReminder[s.ReminderID], s)
	}

	out := make([]ReminderWithSchedules, 0, len(reminders))
	for _, rem := range reminders {
		out = append(out, ReminderWithSchedules{
			Reminder:  rem,
			Schedules: byReminder[rem.ID],
		})
	}

	return out, nil
}

// TopUpCandidate is an active recurring reminder with the data needed to
// extend its schedule horizon.
type TopUpCandidate struct {
	Reminder       Reminder
	Timezone       string
	LatestSchedule *time.Time
}

// ListTopUpCandidates returns active recurring reminders, optionally for one user.
func (r *Repository) ListTopUpCandidates(ctx context.Context, userID *uuid.UUID) ([]TopUpCandidate, error) {
	query := `
		SELECT ` + reminderColumns + `,
			COALESCE(ns.timezone, ''),
			(SELECT MAX(s.scheduled_time) FROM reminder_schedules s WHERE s.reminder_id = r.id)
		FROM reminders r
		LEFT JOIN notification_settings ns ON ns.user_id = r.user_id
		WHERE r.is_active = TRUE
		  AND r.is_recurring = TRUE
		  AND ($1::uuid IS NULL OR r.user_id = $1)
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, storeErr("query top-up candidates", err)
	}
	defer rows.Close()

	var out []TopUpCandidate
	for rows.Next() {
		var c TopUpCandidate
		rem := &c.Reminder
		err := rows.Scan(
			&rem.ID, &rem.UserID, &rem.Title, &rem.Description, &rem.ReminderType,
			&rem.TargetDate, &rem.TargetTime, &rem.IsRecurring, &rem.RecurrencePattern,
			&rem.RecurrenceDays, &rem.IsActive, &rem.NotificationEnabled,
			&rem.CreatedAt, &rem.UpdatedAt,
			&c.Timezone, &c.LatestSchedule,
		)
		if err != nil {
			return nil, storeErr("scan top-up candidate", err)
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate top-up candidates", err)
	}

	return out, nil
}

// GetReminderWithSchedules loads one reminder and all of its schedules.
func (r *Repository) GetReminderWithSchedules(ctx context.Context, userID, id uuid.UUID) (*ReminderWithSchedules, error) {
	rem, err := r.GetReminder(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules s
		WHERE s.reminder_id = $1
		ORDER BY s.scheduled_time ASC
	`

	schedules, err := r.querySchedules(ctx, query, id)
	if err != nil {
		return nil, err
	}

	return &ReminderWithSchedules{Reminder: *rem, Schedules: schedules}, nil
}
