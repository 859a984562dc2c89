package db

import (
	"context"

	"github.com/google/uuid"
)

// ListActiveGoalsWithDeadline returns a user's active goals that have an end date.
func (r *Repository) ListActiveGoalsWithDeadline(ctx context.Context, userID uuid.UUID) ([]Goal, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, title, status, end_date
		FROM goals
		WHERE user_id = $1 AND status = $2 AND end_date IS NOT NULL
		ORDER BY end_date ASC
	`, userID, GoalActive)
	if err != nil {
		return nil, storeErr("query goals", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Status, &g.EndDate); err != nil {
			return nil, storeErr("scan goal", err)
		}
		goals = append(goals, g)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate goals", err)
	}

	return goals, nil
}
