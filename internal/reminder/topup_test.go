package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

func seedDaily(t *testing.T, store *memStore, user uuid.UUID, lastDay int) *db.Reminder {
	t.Helper()
	rem := &db.Reminder{
		ID:                uuid.New(),
		UserID:            user,
		Title:             "Água",
		ReminderType:      db.ReminderTypeCustom,
		TargetDate:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		TargetTime:        strp("09:00:00"),
		IsRecurring:       true,
		RecurrencePattern: strp(db.PatternDaily),
		IsActive:          true,
	}
	var times []time.Time
	for d := 1; d <= lastDay; d++ {
		times = append(times, time.Date(2025, 6, d, 9, 0, 0, 0, time.UTC))
	}
	require.NoError(t, store.CreateReminder(context.Background(), rem, times))
	return rem
}

func TestTopUp_ExtendsFromDayAfterLatest(t *testing.T) {
	svc, store := newTestService(t)
	user := uuid.New()
	rem := seedDaily(t, store, user, 10)

	now := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)
	n, err := svc.TopUp(context.Background(), user, now)
	require.NoError(t, err)
	require.Equal(t, 25, n)

	times := store.scheduleTimes(rem.ID)
	require.Len(t, times, 35)
	require.Equal(t, time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC), times[10])
	require.Equal(t, time.Date(2025, 7, 5, 9, 0, 0, 0, time.UTC), times[len(times)-1])
}

func TestTopUp_SkipsWhenHorizonIsFarEnough(t *testing.T) {
	svc, store := newTestService(t)
	user := uuid.New()
	rem := seedDaily(t, store, user, 20)

	n, err := svc.TopUp(context.Background(), user, time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, store.scheduleTimes(rem.ID), 20)
}

func TestTopUp_IsRepeatable(t *testing.T) {
	svc, store := newTestService(t)
	user := uuid.New()
	seedDaily(t, store, user, 10)
	now := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)

	_, err := svc.TopUp(context.Background(), user, now)
	require.NoError(t, err)

	n, err := svc.TopUp(context.Background(), user, now)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTopUp_IgnoresPausedAndOtherUsers(t *testing.T) {
	svc, store := newTestService(t)
	user := uuid.New()
	paused := seedDaily(t, store, user, 3)
	store.reminders[paused.ID].IsActive = false
	other := seedDaily(t, store, uuid.New(), 3)

	n, err := svc.TopUp(context.Background(), user, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, store.scheduleTimes(other.ID), 3)
}

func TestTopUp_UsesOwnerTimezone(t *testing.T) {
	svc, store := newTestService(t)
	user := uuid.New()
	store.setTimezone(user, "America/Sao_Paulo")
	rem := &db.Reminder{
		ID:                uuid.New(),
		UserID:            user,
		Title:             "Remédio",
		ReminderType:      db.ReminderTypeCustom,
		TargetDate:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		TargetTime:        strp("21:30:00"),
		IsRecurring:       true,
		RecurrencePattern: strp(db.PatternDaily),
		IsActive:          true,
	}
	// 21:30 in São Paulo is 00:30 UTC the next day
	require.NoError(t, store.CreateReminder(context.Background(), rem, []time.Time{
		time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC),
	}))

	_, err := svc.TopUp(context.Background(), user, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	times := store.scheduleTimes(rem.ID)
	require.Equal(t, time.Date(2025, 6, 3, 0, 30, 0, 0, time.UTC), times[1])
	for _, tm := range times {
		require.Equal(t, 0, tm.Hour())
		require.Equal(t, 30, tm.Minute())
	}
}

func TestTopUpAll_CollectsFailures(t *testing.T) {
	svc, store := newTestService(t)
	good := seedDaily(t, store, uuid.New(), 3)
	bad := seedDaily(t, store, uuid.New(), 3)

	boom := errors.New("insert failed")
	store.createSchedulesFn = func(id uuid.UUID, _ []time.Time) error {
		if id == bad.ID {
			return boom
		}
		return nil
	}

	n, err := svc.TopUpAll(context.Background(), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Len(t, multierr.Errors(err), 1)
	require.Positive(t, n)
	require.Greater(t, len(store.scheduleTimes(good.ID)), 3)
	require.Len(t, store.scheduleTimes(bad.ID), 3)
}

func TestTopUpAll_StopsOnCancel(t *testing.T) {
	svc, store := newTestService(t)
	seedDaily(t, store, uuid.New(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.TopUpAll(ctx, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, context.Canceled)
}
