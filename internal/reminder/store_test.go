package reminder

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

// memStore is an in-memory Store with the same contract as db.Repository.
type memStore struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*db.Reminder
	schedules map[uuid.UUID][]db.Schedule
	settings  map[uuid.UUID]*db.NotificationSettings

	updates           []updateCall
	createSchedulesFn func(reminderID uuid.UUID, times []time.Time) error
}

type updateCall struct {
	id    uuid.UUID
	regen *db.Regeneration
}

func newMemStore() *memStore {
	return &memStore{
		reminders: map[uuid.UUID]*db.Reminder{},
		schedules: map[uuid.UUID][]db.Schedule{},
		settings:  map[uuid.UUID]*db.NotificationSettings{},
	}
}

func (m *memStore) setTimezone(userID uuid.UUID, tz string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = &db.NotificationSettings{UserID: userID, Timezone: tz, PushEnabled: true}
}

func (m *memStore) insert(reminderID uuid.UUID, times []time.Time) int64 {
	var n int64
	for _, t := range times {
		exists := slices.ContainsFunc(m.schedules[reminderID], func(s db.Schedule) bool {
			return s.ScheduledTime.Equal(t)
		})
		if exists {
			continue
		}
		m.schedules[reminderID] = append(m.schedules[reminderID], db.Schedule{
			ID:            uuid.New(),
			ReminderID:    reminderID,
			ScheduledTime: t.UTC(),
		})
		n++
	}
	sort.Slice(m.schedules[reminderID], func(i, j int) bool {
		return m.schedules[reminderID][i].ScheduledTime.Before(m.schedules[reminderID][j].ScheduledTime)
	})
	return n
}

func (m *memStore) CreateReminder(ctx context.Context, rem *db.Reminder, occurrences []time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rem
	m.reminders[rem.ID] = &cp
	m.insert(rem.ID, occurrences)
	return nil
}

func (m *memStore) owned(userID, id uuid.UUID) (*db.Reminder, bool) {
	rem, ok := m.reminders[id]
	if !ok || rem.UserID != userID {
		return nil, false
	}
	return rem, true
}

func (m *memStore) GetReminder(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.owned(userID, id)
	if !ok {
		return nil, db.ErrReminderNotFound
	}
	cp := *rem
	return &cp, nil
}

func (m *memStore) GetReminderWithSchedules(ctx context.Context, userID, id uuid.UUID) (*db.ReminderWithSchedules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.owned(userID, id)
	if !ok {
		return nil, db.ErrReminderNotFound
	}
	return &db.ReminderWithSchedules{Reminder: *rem, Schedules: slices.Clone(m.schedules[id])}, nil
}

func (m *memStore) UpdateReminder(ctx context.Context, rem *db.Reminder, regen *db.Regeneration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(rem.UserID, rem.ID); !ok {
		return db.ErrReminderNotFound
	}
	m.updates = append(m.updates, updateCall{id: rem.ID, regen: regen})
	cp := *rem
	m.reminders[rem.ID] = &cp
	if regen != nil {
		kept := m.schedules[rem.ID][:0]
		for _, s := range m.schedules[rem.ID] {
			if s.IsSent || s.ScheduledTime.Before(regen.Since) {
				kept = append(kept, s)
			}
		}
		m.schedules[rem.ID] = kept
		m.insert(rem.ID, regen.Occurrences)
	}
	return nil
}

func (m *memStore) ToggleReminderActive(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.owned(userID, id)
	if !ok {
		return nil, db.ErrReminderNotFound
	}
	rem.IsActive = !rem.IsActive
	cp := *rem
	return &cp, nil
}

func (m *memStore) DeleteReminder(ctx context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(userID, id); !ok {
		return db.ErrReminderNotFound
	}
	delete(m.reminders, id)
	delete(m.schedules, id)
	return nil
}

func (m *memStore) ListReminders(ctx context.Context, userID uuid.UUID, filter db.ReminderFilter) ([]db.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Reminder
	for _, rem := range m.reminders {
		if rem.UserID != userID {
			continue
		}
		if filter.Active != nil && rem.IsActive != *filter.Active {
			continue
		}
		if filter.Type != "" && rem.ReminderType != filter.Type {
			continue
		}
		out = append(out, *rem)
	}
	return out, nil
}

func (m *memStore) ListRemindersWithSchedules(ctx context.Context, userID uuid.UUID) ([]db.ReminderWithSchedules, error) {
	reminders, _ := m.ListReminders(ctx, userID, db.ReminderFilter{})
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.ReminderWithSchedules, 0, len(reminders))
	for _, rem := range reminders {
		out = append(out, db.ReminderWithSchedules{Reminder: rem, Schedules: slices.Clone(m.schedules[rem.ID])})
	}
	return out, nil
}

func (m *memStore) ListTopUpCandidates(ctx context.Context, userID *uuid.UUID) ([]db.TopUpCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.TopUpCandidate
	for _, rem := range m.reminders {
		if !rem.IsActive || !rem.IsRecurring {
			continue
		}
		if userID != nil && rem.UserID != *userID {
			continue
		}
		c := db.TopUpCandidate{Reminder: *rem}
		if s, ok := m.settings[rem.UserID]; ok {
			c.Timezone = s.Timezone
		}
		if scheds := m.schedules[rem.ID]; len(scheds) > 0 {
			latest := scheds[len(scheds)-1].ScheduledTime
			c.LatestSchedule = &latest
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) CreateSchedules(ctx context.Context, reminderID uuid.UUID, times []time.Time) (int64, error) {
	if m.createSchedulesFn != nil {
		if err := m.createSchedulesFn(reminderID, times); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(reminderID, times), nil
}

func (m *memStore) MarkScheduleSent(ctx context.Context, userID, scheduleID uuid.UUID, at time.Time) (*db.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for remID, scheds := range m.schedules {
		if _, ok := m.owned(userID, remID); !ok {
			continue
		}
		for i := range scheds {
			if scheds[i].ID != scheduleID {
				continue
			}
			if scheds[i].IsSent {
				return nil, db.ErrScheduleAlreadySent
			}
			sentAt := at
			scheds[i].IsSent = true
			scheds[i].SentAt = &sentAt
			cp := scheds[i]
			return &cp, nil
		}
	}
	return nil, db.ErrScheduleNotFound
}

func (m *memStore) PendingSchedules(ctx context.Context, userID uuid.UUID, now time.Time) ([]db.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Schedule
	for remID, scheds := range m.schedules {
		rem, ok := m.owned(userID, remID)
		if !ok || !rem.IsActive {
			continue
		}
		for _, s := range scheds {
			if !s.IsSent && !s.ScheduledTime.Before(now) {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (m *memStore) NextPendingSchedule(ctx context.Context, userID, reminderID uuid.UUID, now time.Time) (*db.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(userID, reminderID); !ok {
		return nil, db.ErrScheduleNotFound
	}
	for _, s := range m.schedules[reminderID] {
		if !s.IsSent && s.ScheduledTime.After(now) {
			cp := s
			return &cp, nil
		}
	}
	return nil, db.ErrScheduleNotFound
}

func (m *memStore) GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		s = &db.NotificationSettings{UserID: userID, Timezone: "UTC", PushEnabled: true, ReminderAdvanceMinutes: 15}
		m.settings[userID] = s
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) scheduleList(reminderID uuid.UUID) []db.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.schedules[reminderID])
}

func (m *memStore) scheduleTimes(reminderID uuid.UUID) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, s := range m.schedules[reminderID] {
		out = append(out, s.ScheduledTime)
	}
	return out
}
