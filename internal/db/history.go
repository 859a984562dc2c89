package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultHistoryLimit caps history listings when the caller passes no limit.
const DefaultHistoryLimit = 50

const historyColumns = `
	id, user_id, reminder_id, notification_type, title, body, is_read, read_at, sent_at`

func scanHistory(row pgx.Row, h *NotificationHistory) error {
	return row.Scan(
		&h.ID,
		&h.UserID,
		&h.ReminderID,
		&h.NotificationType,
		&h.Title,
		&h.Body,
		&h.IsRead,
		&h.ReadAt,
		&h.SentAt,
	)
}

// CreateHistory records a delivered notification.
func (r *Repository) CreateHistory(ctx context.Context, h *NotificationHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.SentAt.IsZero() {
		h.SentAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO notification_history (id, user_id, reminder_id, notification_type, title, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, h.ID, h.UserID, h.ReminderID, h.NotificationType, h.Title, h.Body, h.SentAt)
	if err != nil {
		r.logger.Error("failed to record notification history",
			zap.Error(err),
			zap.String("user_id", h.UserID.String()),
		)
		return storeErr("insert history", err)
	}
	return nil
}

// ListHistory returns a user's most recent notifications, newest first.
func (r *Repository) ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]NotificationHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+historyColumns+`
		FROM notification_history
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, storeErr("query history", err)
	}
	defer rows.Close()

	var out []NotificationHistory
	for rows.Next() {
		var h NotificationHistory
		if err := scanHistory(rows, &h); err != nil {
			return nil, storeErr("scan history", err)
		}
		out = append(out, h)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate history", err)
	}

	return out, nil
}

// MarkHistoryRead sets is_read and read_at. Marking an already read entry
// keeps the first read_at.
func (r *Repository) MarkHistoryRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (*NotificationHistory, error) {
	var h NotificationHistory
	err := scanHistory(r.db.Pool().QueryRow(ctx, `
		UPDATE notification_history
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
		RETURNING `+historyColumns,
		id, userID, at.UTC()), &h)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, storeErr("mark history read", err)
	}
	return &h, nil
}
