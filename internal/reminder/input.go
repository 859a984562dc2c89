package reminder

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/recurrence"
	"github.com/gabri3lsal3s/ikgaihub/internal/validate"
)

const dateLayout = "2006-01-02"

// Input is the full set of user-editable reminder fields.
type Input struct {
	Title               string  `json:"title" validate:"required,max=200"`
	Description         *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	ReminderType        string  `json:"reminder_type" validate:"required,oneof=meal exercise goal custom"`
	TargetDate          string  `json:"target_date" validate:"required,datetime=2006-01-02"`
	TargetTime          *string `json:"target_time,omitempty" validate:"omitempty,clocktime"`
	IsRecurring         bool    `json:"is_recurring"`
	RecurrencePattern   *string `json:"recurrence_pattern,omitempty" validate:"required_if=IsRecurring true,omitempty,oneof=daily weekly monthly"`
	RecurrenceDays      []int   `json:"recurrence_days,omitempty" validate:"omitempty,max=7,dive,min=0,max=6"`
	NotificationEnabled *bool   `json:"notification_enabled,omitempty"`
}

// Patch carries a partial update. Nil fields keep their current value; an
// empty TargetTime or RecurrencePattern clears it.
type Patch struct {
	Title               *string `json:"title,omitempty"`
	Description         *string `json:"description,omitempty"`
	ReminderType        *string `json:"reminder_type,omitempty"`
	TargetDate          *string `json:"target_date,omitempty"`
	TargetTime          *string `json:"target_time,omitempty"`
	IsRecurring         *bool   `json:"is_recurring,omitempty"`
	RecurrencePattern   *string `json:"recurrence_pattern,omitempty"`
	RecurrenceDays      *[]int  `json:"recurrence_days,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	NotificationEnabled *bool   `json:"notification_enabled,omitempty"`
}

// check runs the struct rules plus the ones that span fields.
func (in Input) check() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.IsRecurring && in.RecurrencePattern != nil && *in.RecurrencePattern == db.PatternWeekly && len(in.RecurrenceDays) == 0 {
		return validate.Invalid("recurrence_days", "required_if")
	}
	return nil
}

// apply writes the input onto rem. The input must have passed check.
func (in Input) apply(rem *db.Reminder) error {
	date, err := time.Parse(dateLayout, in.TargetDate)
	if err != nil {
		return validate.Invalid("target_date", "datetime")
	}

	rem.Title = in.Title
	rem.Description = in.Description
	rem.ReminderType = in.ReminderType
	rem.TargetDate = date
	rem.TargetTime = in.TargetTime
	rem.IsRecurring = in.IsRecurring
	rem.RecurrencePattern = nil
	rem.RecurrenceDays = nil

	if in.IsRecurring {
		rem.RecurrencePattern = in.RecurrencePattern
		if in.RecurrencePattern != nil && *in.RecurrencePattern == db.PatternWeekly {
			rem.RecurrenceDays = normalizeDays(in.RecurrenceDays)
		}
	}

	if in.NotificationEnabled != nil {
		rem.NotificationEnabled = *in.NotificationEnabled
	}

	return nil
}

func (in Input) newReminder(userID uuid.UUID) (*db.Reminder, error) {
	rem := &db.Reminder{
		ID:                  uuid.New(),
		UserID:              userID,
		IsActive:            true,
		NotificationEnabled: true,
	}
	if err := in.apply(rem); err != nil {
		return nil, err
	}
	return rem, nil
}

// inputFrom rebuilds the editable view of a stored reminder.
func inputFrom(rem *db.Reminder) Input {
	enabled := rem.NotificationEnabled
	return Input{
		Title:               rem.Title,
		Description:         rem.Description,
		ReminderType:        rem.ReminderType,
		TargetDate:          rem.TargetDate.Format(dateLayout),
		TargetTime:          rem.TargetTime,
		IsRecurring:         rem.IsRecurring,
		RecurrencePattern:   rem.RecurrencePattern,
		RecurrenceDays:      slices.Clone(rem.RecurrenceDays),
		NotificationEnabled: &enabled,
	}
}

// merge overlays p onto in.
func (p Patch) merge(in Input) Input {
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Description != nil {
		in.Description = p.Description
		if *p.Description == "" {
			in.Description = nil
		}
	}
	if p.ReminderType != nil {
		in.ReminderType = *p.ReminderType
	}
	if p.TargetDate != nil {
		in.TargetDate = *p.TargetDate
	}
	if p.TargetTime != nil {
		in.TargetTime = p.TargetTime
		if *p.TargetTime == "" {
			in.TargetTime = nil
		}
	}
	if p.IsRecurring != nil {
		in.IsRecurring = *p.IsRecurring
	}
	if p.RecurrencePattern != nil {
		in.RecurrencePattern = p.RecurrencePattern
		if *p.RecurrencePattern == "" {
			in.RecurrencePattern = nil
		}
	}
	if p.RecurrenceDays != nil {
		in.RecurrenceDays = slices.Clone(*p.RecurrenceDays)
	}
	if p.NotificationEnabled != nil {
		in.NotificationEnabled = p.NotificationEnabled
	}
	return in
}

// recurrenceChanged reports whether the schedule-defining fields differ.
func recurrenceChanged(before, after *db.Reminder) bool {
	return before.IsRecurring != after.IsRecurring ||
		!equalStringPtr(before.RecurrencePattern, after.RecurrencePattern) ||
		!slices.Equal(normalizeDays(before.RecurrenceDays), normalizeDays(after.RecurrenceDays)) ||
		!before.TargetDate.Equal(after.TargetDate) ||
		clockOf(before.TargetTime) != clockOf(after.TargetTime)
}

// Definition builds the expansion input for rem in loc.
func Definition(rem *db.Reminder, loc *time.Location) recurrence.Definition {
	def := recurrence.Definition{
		TargetDate: rem.TargetDate,
		Recurring:  rem.IsRecurring,
		Days:       rem.RecurrenceDays,
		Location:   loc,
	}
	if rem.TargetTime != nil {
		def.TargetTime = *rem.TargetTime
	}
	if rem.RecurrencePattern != nil {
		def.Pattern = recurrence.Pattern(*rem.RecurrencePattern)
	}
	return def
}

func normalizeDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}

// clockOf normalises "HH:MM" and "HH:MM:SS" so 09:00 equals 09:00:00.
func clockOf(s *string) string {
	if s == nil {
		return recurrence.DefaultTime
	}
	if len(*s) == 5 {
		return *s + ":00"
	}
	return *s
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
