package db

import (
	"time"

	"github.com/google/uuid"
)

// Reminder types
const (
	ReminderTypeMeal     = "meal"
	ReminderTypeExercise = "exercise"
	ReminderTypeGoal     = "goal"
	ReminderTypeCustom   = "custom"
)

// Recurrence patterns
const (
	PatternDaily   = "daily"
	PatternWeekly  = "weekly"
	PatternMonthly = "monthly"
)

// Notification types recorded in history
const (
	NotificationPush  = "push"
	NotificationEmail = "email"
	NotificationInApp = "in_app"
)

// Push providers
const (
	ProviderFCM = "fcm"
	ProviderSNS = "sns"
)

// Goal status values
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalPaused    = "paused"
	GoalCancelled = "cancelled"
)

// Reminder is a user-owned intent to be reminded of something.
type Reminder struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	Title               string    `json:"title"`
	Description         *string   `json:"description,omitempty"`
	ReminderType        string    `json:"reminder_type"`
	TargetDate          time.Time `json:"target_date"`
	TargetTime          *string   `json:"target_time,omitempty"`
	IsRecurring         bool      `json:"is_recurring"`
	RecurrencePattern   *string   `json:"recurrence_pattern,omitempty"`
	RecurrenceDays      []int     `json:"recurrence_days,omitempty"`
	IsActive            bool      `json:"is_active"`
	NotificationEnabled bool      `json:"notification_enabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Schedule is one concrete firing time derived from a reminder.
type Schedule struct {
	ID            uuid.UUID  `json:"id"`
	ReminderID    uuid.UUID  `json:"reminder_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	IsSent        bool       `json:"is_sent"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReminderWithSchedules is a reminder together with all of its schedules.
type ReminderWithSchedules struct {
	Reminder  Reminder   `json:"reminder"`
	Schedules []Schedule `json:"schedules"`
}

// DueSchedule is a schedule the worker should consider for dispatch.
type DueSchedule struct {
	Schedule Schedule
	Reminder Reminder
}

// NotificationSettings holds one user's delivery preferences.
type NotificationSettings struct {
	ID                     uuid.UUID `json:"id"`
	UserID                 uuid.UUID `json:"user_id"`
	PushEnabled            bool      `json:"push_enabled"`
	EmailEnabled           bool      `json:"email_enabled"`
	EmailAddress           *string   `json:"email_address,omitempty"`
	ReminderAdvanceMinutes int       `json:"reminder_advance_minutes"`
	QuietHoursStart        string    `json:"quiet_hours_start"`
	QuietHoursEnd          string    `json:"quiet_hours_end"`
	Timezone               string    `json:"timezone"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// QuietWindow exposes the quiet-hours window as clock strings.
func (s NotificationSettings) QuietWindow() (string, string) {
	return s.QuietHoursStart, s.QuietHoursEnd
}

// Location resolves the settings timezone, falling back to UTC.
func (s NotificationSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NotificationHistory is an audit record of a delivered or attempted notification.
type NotificationHistory struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	ReminderID       *uuid.UUID `json:"reminder_id,omitempty"`
	NotificationType string     `json:"notification_type"`
	Title            string     `json:"title"`
	Body             *string    `json:"body,omitempty"`
	IsRead           bool       `json:"is_read"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	SentAt           time.Time  `json:"sent_at"`
}

// Goal is the read-only view of a user goal used for deadline checks.
type Goal struct {
	ID      uuid.UUID  `json:"id"`
	UserID  uuid.UUID  `json:"user_id"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

// PushSubscription is a device registered to receive push notifications.
type PushSubscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Provider  string    `json:"provider"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// ReminderFilter narrows reminder listings.
type ReminderFilter struct {
	Active *bool
	Type   string
}
