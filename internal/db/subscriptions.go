package db

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SavePushSubscription registers a device token. Re-registering the same
// token keeps the original row and refreshes its provider.
func (r *Repository) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO push_subscriptions (id, user_id, provider, token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, token) DO UPDATE SET provider = EXCLUDED.provider
		RETURNING id, created_at
	`, sub.ID, sub.UserID, sub.Provider, sub.Token).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		r.logger.Error("failed to save push subscription",
			zap.Error(err),
			zap.String("user_id", sub.UserID.String()),
		)
		return storeErr("save push subscription", err)
	}

	r.logger.Info("push subscription saved",
		zap.String("user_id", sub.UserID.String()),
		zap.String("provider", sub.Provider),
	)
	return nil
}

// ListPushSubscriptions returns every registered device of a user.
func (r *Repository) ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]PushSubscription, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, provider, token, created_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, storeErr("query push subscriptions", err)
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Provider, &s.Token, &s.CreatedAt); err != nil {
			return nil, storeErr("scan push subscription", err)
		}
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate push subscriptions", err)
	}

	return subs, nil
}

// DeletePushSubscription unregisters one device.
func (r *Repository) DeletePushSubscription(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return storeErr("delete push subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// DeletePushToken drops a token the provider reported as no longer registered.
func (r *Repository) DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	_, err := r.db.Pool().Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return storeErr("delete push token", err)
	}
	return nil
}
