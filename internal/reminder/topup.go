package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
	"github.com/gabri3lsal3s/ikgaihub/internal/recurrence"
)

// TopUp extends the schedule horizon of one user's recurring reminders.
// It returns how many schedules were inserted.
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	return s.topUp(ctx, &userID, now)
}

// TopUpAll extends the horizon for every user. Failures on individual
// reminders do not stop the sweep; they are returned together.
func (s *Service) TopUpAll(ctx context.Context, now time.Time) (int, error) {
	return s.topUp(ctx, nil, now)
}

func (s *Service) topUp(ctx context.Context, userID *uuid.UUID, now time.Time) (int, error) {
	candidates, err := s.store.ListTopUpCandidates(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(errs, err)
		}

		times, err := s.topUpTimes(c, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder %s: %w", c.Reminder.ID, err))
			continue
		}
		if len(times) == 0 {
			continue
		}

		n, err := s.store.CreateSchedules(ctx, c.Reminder.ID, times)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder %s: %w", c.Reminder.ID, err))
			continue
		}
		total += int(n)

		s.logger.Debug("schedules topped up",
			zap.String("reminder_id", c.Reminder.ID.String()),
			zap.Int64("inserted", n),
		)
	}

	if total > 0 {
		metrics.RecordSchedulesGenerated("topup", total)
		s.logger.Info("schedule horizon extended", zap.Int("inserted", total))
	}

	return total, errs
}

// topUpTimes returns the occurrences to add for c, or nil when its horizon
// still reaches beyond the threshold.
func (s *Service) topUpTimes(c db.TopUpCandidate, now time.Time) ([]time.Time, error) {
	loc := (db.NotificationSettings{Timezone: c.Timezone}).Location()
	local := now.In(loc)

	var from time.Time
	if c.LatestSchedule == nil {
		y, m, d := local.Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
	} else {
		latest := c.LatestSchedule.In(loc)
		if latest.After(local.AddDate(0, 0, s.cfg.TopUpThresholdDays)) {
			return nil, nil
		}
		y, m, d := latest.Date()
		from = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}

	to := local.AddDate(0, 0, s.cfg.HorizonDays)

	times, err := recurrence.ExpandRange(Definition(&c.Reminder, loc), from, to)
	if err != nil {
		return nil, err
	}

	if c.LatestSchedule != nil {
		kept := times[:0]
		for _, t := range times {
			if t.After(*c.LatestSchedule) {
				kept = append(kept, t)
			}
		}
		times = kept
	}
	return times, nil
}
