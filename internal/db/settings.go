package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const settingsColumns = `
	id, user_id, push_enabled, email_enabled, email_address, reminder_advance_minutes,
	quiet_hours_start::text, quiet_hours_end::text, timezone, created_at, updated_at`

func scanSettings(row pgx.Row, s *NotificationSettings) error {
	return row.Scan(
		&s.ID,
		&s.UserID,
		&s.PushEnabled,
		&s.EmailEnabled,
		&s.EmailAddress,
		&s.ReminderAdvanceMinutes,
		&s.QuietHoursStart,
		&s.QuietHoursEnd,
		&s.Timezone,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}

// GetOrCreateSettings returns a user's settings, inserting the defaults on
// first access.
func (r *Repository) GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*NotificationSettings, error) {
	query := `
		INSERT INTO notification_settings (user_id, timezone)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + settingsColumns

	var s NotificationSettings
	if err := scanSettings(r.db.Pool().QueryRow(ctx, query, userID, r.defaultTimezone), &s); err != nil {
		r.logger.Error("failed to load settings",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return nil, storeErr("get or create settings", err)
	}
	return &s, nil
}

// UpsertSettings stores every field of s for s.UserID.
func (r *Repository) UpsertSettings(ctx context.Context, s *NotificationSettings) error {
	query := `
		INSERT INTO notification_settings (
			user_id, push_enabled, email_enabled, email_address,
			reminder_advance_minutes, quiet_hours_start, quiet_hours_end, timezone
		) VALUES ($1, $2, $3, $4, $5, $6::text::time, $7::text::time, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			push_enabled = EXCLUDED.push_enabled,
			email_enabled = EXCLUDED.email_enabled,
			email_address = EXCLUDED.email_address,
			reminder_advance_minutes = EXCLUDED.reminder_advance_minutes,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()
		RETURNING ` + settingsColumns

	err := scanSettings(r.db.Pool().QueryRow(ctx, query,
		s.UserID,
		s.PushEnabled,
		s.EmailEnabled,
		s.EmailAddress,
		s.ReminderAdvanceMinutes,
		s.QuietHoursStart,
		s.QuietHoursEnd,
		s.Timezone,
	), s)
	if err != nil {
		r.logger.Error("failed to save settings",
			zap.Error(err),
			zap.String("user_id", s.UserID.String()),
		)
		return storeErr("upsert settings", err)
	}

	r.logger.Info("notification settings updated", zap.String("user_id", s.UserID.String()))
	return nil
}
