// Package classify sorts a user's reminders into overdue, today and upcoming
// buckets for a given instant. Everything here is pure: inputs are never
// mutated and the same snapshot and now always yield the same Result.
package classify

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

// Bucket names a classification.
type Bucket string

const (
	BucketOverdue  Bucket = "overdue"
	BucketToday    Bucket = "today"
	BucketUpcoming Bucket = "upcoming"
	BucketNone     Bucket = ""
)

// Upcoming pairs a reminder with its next unsent schedule.
type Upcoming struct {
	Reminder db.Reminder `json:"reminder"`
	Next     db.Schedule `json:"next_schedule"`
}

// Stats are the dashboard aggregates.
type Stats struct {
	Total             int `json:"total"`
	Active            int `json:"active"`
	Today             int `json:"today"`
	CompletedToday    int `json:"completed_today"`
	UpcomingSchedules int `json:"upcoming_schedules"`
}

// Result holds the three buckets. A reminder may appear in more than one.
type Result struct {
	Overdue  []db.Reminder `json:"overdue"`
	Today    []db.Reminder `json:"today"`
	Upcoming []Upcoming    `json:"upcoming"`
	Stats    Stats         `json:"stats"`
}

// DayBounds returns [start of now's day, start of the next day) in now's location.
func DayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// Classify buckets entries relative to now. Inactive reminders only count
// towards Stats.Total.
func Classify(entries []db.ReminderWithSchedules, now time.Time) Result {
	startOfDay, startOfTomorrow := DayBounds(now)

	res := Result{
		Overdue:  []db.Reminder{},
		Today:    []db.Reminder{},
		Upcoming: []Upcoming{},
	}

	for _, e := range entries {
		res.Stats.Total++
		if !e.Reminder.IsActive {
			continue
		}
		res.Stats.Active++

		var (
			overdue, today, scheduledToday, completedToday bool
			next                                           *db.Schedule
		)

		for i := range e.Schedules {
			s := &e.Schedules[i]
			inToday := !s.ScheduledTime.Before(startOfDay) && s.ScheduledTime.Before(startOfTomorrow)

			if inToday {
				scheduledToday = true
			}
			if s.IsSent && s.SentAt != nil && !s.SentAt.Before(startOfDay) && s.SentAt.Before(startOfTomorrow) {
				completedToday = true
			}
			if !s.ScheduledTime.Before(startOfTomorrow) {
				res.Stats.UpcomingSchedules++
			}

			if s.IsSent {
				continue
			}
			if s.ScheduledTime.Before(now) {
				overdue = true
			}
			if inToday {
				today = true
			}
			if s.ScheduledTime.After(now) && (next == nil || s.ScheduledTime.Before(next.ScheduledTime)) {
				next = s
			}
		}

		if scheduledToday {
			res.Stats.Today++
		}
		if completedToday {
			res.Stats.CompletedToday++
		}
		if overdue {
			res.Overdue = append(res.Overdue, e.Reminder)
		}
		if today {
			res.Today = append(res.Today, e.Reminder)
		}
		if next != nil {
			res.Upcoming = append(res.Upcoming, Upcoming{Reminder: e.Reminder, Next: *next})
		}
	}

	sortReminders(res.Overdue)
	sortReminders(res.Today)
	sort.SliceStable(res.Upcoming, func(i, j int) bool {
		a, b := res.Upcoming[i], res.Upcoming[j]
		if !a.Next.ScheduledTime.Equal(b.Next.ScheduledTime) {
			return a.Next.ScheduledTime.Before(b.Next.ScheduledTime)
		}
		return lessID(a.Reminder.ID, b.Reminder.ID)
	})

	return res
}

// Of reports which buckets a single reminder falls into.
func Of(entry db.ReminderWithSchedules, now time.Time) []Bucket {
	res := Classify([]db.ReminderWithSchedules{entry}, now)

	var out []Bucket
	if len(res.Overdue) > 0 {
		out = append(out, BucketOverdue)
	}
	if len(res.Today) > 0 {
		out = append(out, BucketToday)
	}
	if len(res.Upcoming) > 0 {
		out = append(out, BucketUpcoming)
	}
	return out
}

func sortReminders(rs []db.Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		return lessID(rs[i].ID, rs[j].ID)
	})
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
