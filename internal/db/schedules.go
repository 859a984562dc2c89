package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const scheduleColumns = `
	s.id, s.reminder_id, s.scheduled_time, s.is_sent, s.sent_at, s.notified_at, s.created_at`

func scanSchedule(row pgx.Row, s *Schedule) error {
	return row.Scan(
		&s.ID,
		&s.ReminderID,
		&s.ScheduledTime,
		&s.IsSent,
		&s.SentAt,
		&s.NotifiedAt,
		&s.CreatedAt,
	)
}

// insertSchedules adds one row per occurrence. Times already present for the
// reminder are skipped, so the returned count can be lower than len(times).
func insertSchedules(ctx context.Context, q querier, reminderID uuid.UUID, times []time.Time) (int64, error) {
	if len(times) == 0 {
		return 0, nil
	}

	utc := make([]time.Time, len(times))
	for i, t := range times {
		utc[i] = t.UTC()
	}

	query := `
		INSERT INTO reminder_schedules (reminder_id, scheduled_time)
		SELECT $1, t FROM unnest($2::timestamptz[]) AS t
		ON CONFLICT (reminder_id, scheduled_time) DO NOTHING
	`

	tag, err := q.Exec(ctx, query, reminderID, utc)
	if err != nil {
		return 0, storeErr("insert schedules", err)
	}
	return tag.RowsAffected(), nil
}

func deleteUnsentSchedules(ctx context.Context, q querier, reminderID uuid.UUID, since time.Time) (int64, error) {
	query := `
		DELETE FROM reminder_schedules
		WHERE reminder_id = $1 AND is_sent = FALSE AND scheduled_time >= $2
	`

	tag, err := q.Exec(ctx, query, reminderID, since.UTC())
	if err != nil {
		return 0, storeErr("delete schedules", err)
	}
	return tag.RowsAffected(), nil
}

// CreateSchedules appends occurrences to an existing reminder.
func (r *Repository) CreateSchedules(ctx context.Context, reminderID uuid.UUID, times []time.Time) (int64, error) {
	n, err := insertSchedules(ctx, r.db.Pool(), reminderID, times)
	if err != nil {
		r.logger.Error("failed to create schedules",
			zap.Error(err),
			zap.String("reminder_id", reminderID.String()),
		)
		return 0, err
	}

	r.logger.Debug("schedules created",
		zap.String("reminder_id", reminderID.String()),
		zap.Int64("inserted", n),
	)
	return n, nil
}

// MarkScheduleSent records the user completing a schedule. It is terminal:
// a second call reports ErrScheduleAlreadySent.
func (r *Repository) MarkScheduleSent(ctx context.Context, userID, scheduleID uuid.UUID, at time.Time) (*Schedule, error) {
	query := `
		UPDATE reminder_schedules s SET is_sent = TRUE, sent_at = $3
		FROM reminders r
		WHERE s.id = $1
		  AND s.reminder_id = r.id
		  AND r.user_id = $2
		  AND s.is_sent = FALSE
		RETURNING ` + scheduleColumns

	var s Schedule
	err := scanSchedule(r.db.Pool().QueryRow(ctx, query, scheduleID, userID, at.UTC()), &s)
	if err == nil {
		r.logger.Info("schedule marked sent",
			zap.String("schedule_id", scheduleID.String()),
			zap.String("reminder_id", s.ReminderID.String()),
		)
		return &s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("failed to mark schedule sent",
			zap.Error(err),
			zap.String("schedule_id", scheduleID.String()),
		)
		return nil, storeErr("mark schedule sent", err)
	}

	// Nothing updated: either the schedule is missing or it was already sent.
	var sent bool
	err = r.db.Pool().QueryRow(ctx, `
		SELECT s.is_sent
		FROM reminder_schedules s
		JOIN reminders r ON r.id = s.reminder_id
		WHERE s.id = $1 AND r.user_id = $2
	`, scheduleID, userID).Scan(&sent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, storeErr("query schedule", err)
	}
	return nil, ErrScheduleAlreadySent
}

// PendingSchedules returns a user's unsent future schedules of active
// reminders, soonest first.
func (r *Repository) PendingSchedules(ctx context.Context, userID uuid.UUID, now time.Time) ([]Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules s
		JOIN reminders r ON r.id = s.reminder_id
		WHERE r.user_id = $1
		  AND r.is_active = TRUE
		  AND s.is_sent = FALSE
		  AND s.scheduled_time >= $2
		ORDER BY s.scheduled_time ASC
	`
	return r.querySchedules(ctx, query, userID, now.UTC())
}

// NextPendingSchedule finds the earliest unsent schedule of a reminder that
// lies strictly after now.
func (r *Repository) NextPendingSchedule(ctx context.Context, userID, reminderID uuid.UUID, now time.Time) (*Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules s
		JOIN reminders r ON r.id = s.reminder_id
		WHERE r.id = $1
		  AND r.user_id = $2
		  AND s.is_sent = FALSE
		  AND s.scheduled_time > $3
		ORDER BY s.scheduled_time ASC
		LIMIT 1
	`

	var s Schedule
	err := scanSchedule(r.db.Pool().QueryRow(ctx, query, reminderID, userID, now.UTC()), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, storeErr("query next schedule", err)
	}
	return &s, nil
}

const dueScheduleQuery = `
	SELECT ` + scheduleColumns + `, ` + reminderColumns + `
	FROM reminder_schedules s
	JOIN reminders r ON r.id = s.reminder_id
	LEFT JOIN notification_settings ns ON ns.user_id = r.user_id
	WHERE s.is_sent = FALSE
	  AND s.notified_at IS NULL
	  AND r.is_active = TRUE
	  AND r.notification_enabled = TRUE
`

func scanDueSchedule(row pgx.Row, d *DueSchedule) error {
	s, rem := &d.Schedule, &d.Reminder
	return row.Scan(
		&s.ID, &s.ReminderID, &s.ScheduledTime, &s.IsSent, &s.SentAt, &s.NotifiedAt, &s.CreatedAt,
		&rem.ID, &rem.UserID, &rem.Title, &rem.Description, &rem.ReminderType,
		&rem.TargetDate, &rem.TargetTime, &rem.IsRecurring, &rem.RecurrencePattern,
		&rem.RecurrenceDays, &rem.IsActive, &rem.NotificationEnabled,
		&rem.CreatedAt, &rem.UpdatedAt,
	)
}

// DueSchedules returns schedules whose notification window (scheduled time
// minus the user's advance minutes) has opened by now and whose scheduled
// time is no older than maxLateness.
func (r *Repository) DueSchedules(ctx context.Context, now time.Time, maxLateness time.Duration, limit int) ([]DueSchedule, error) {
	query := dueScheduleQuery + `
	  AND s.scheduled_time - make_interval(mins => COALESCE(ns.reminder_advance_minutes, 15)) <= $1
	  AND s.scheduled_time >= $2
	ORDER BY s.scheduled_time ASC
	LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, now.UTC(), now.Add(-maxLateness).UTC(), limit)
	if err != nil {
		r.logger.Error("failed to fetch due schedules", zap.Error(err))
		return nil, storeErr("query due schedules", err)
	}
	defer rows.Close()

	var due []DueSchedule
	for rows.Next() {
		var d DueSchedule
		if err := scanDueSchedule(rows, &d); err != nil {
			return nil, storeErr("scan due schedule", err)
		}
		due = append(due, d)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate due schedules", err)
	}

	return due, nil
}

// GetDueSchedule loads a single schedule that still awaits notification.
func (r *Repository) GetDueSchedule(ctx context.Context, scheduleID uuid.UUID) (*DueSchedule, error) {
	query := dueScheduleQuery + ` AND s.id = $1`

	var d DueSchedule
	err := scanDueSchedule(r.db.Pool().QueryRow(ctx, query, scheduleID), &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, storeErr("query due schedule", err)
	}
	return &d, nil
}

// MarkScheduleNotified stamps notified_at so the schedule is not dispatched again.
func (r *Repository) MarkScheduleNotified(ctx context.Context, scheduleID uuid.UUID, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE reminder_schedules SET notified_at = $2
		WHERE id = $1 AND notified_at IS NULL
	`, scheduleID, at.UTC())
	if err != nil {
		r.logger.Error("failed to mark schedule notified",
			zap.Error(err),
			zap.String("schedule_id", scheduleID.String()),
		)
		return storeErr("mark schedule notified", err)
	}
	return nil
}

func (r *Repository) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query schedules", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var s Schedule
		if err := scanSchedule(rows, &s); err != nil {
			return nil, storeErr("scan schedule", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate schedules", err)
	}

	return schedules, nil
}
