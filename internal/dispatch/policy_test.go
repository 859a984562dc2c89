package dispatch

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

func strPtr(s string) *string { return &s }

func activeReminder() db.Reminder {
	return db.Reminder{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		Title:               "Drink water",
		ReminderType:        db.ReminderTypeCustom,
		IsActive:            true,
		NotificationEnabled: true,
	}
}

func defaultSettings() db.NotificationSettings {
	return db.NotificationSettings{
		PushEnabled:            true,
		ReminderAdvanceMinutes: 15,
		QuietHoursStart:        "22:00:00",
		QuietHoursEnd:          "07:00:00",
		Timezone:               "UTC",
	}
}

func TestDecide(t *testing.T) {
	noon := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	night := time.Date(2025, 6, 4, 23, 0, 0, 0, time.UTC)

	inactive := activeReminder()
	inactive.IsActive = false

	muted := activeReminder()
	muted.NotificationEnabled = false

	noChannels := defaultSettings()
	noChannels.PushEnabled = false

	emailOnly := defaultSettings()
	emailOnly.PushEnabled = false
	emailOnly.EmailEnabled = true
	emailOnly.EmailAddress = strPtr("user@example.com")

	emailWithoutAddress := defaultSettings()
	emailWithoutAddress.PushEnabled = false
	emailWithoutAddress.EmailEnabled = true

	tests := []struct {
		name     string
		rem      db.Reminder
		settings db.NotificationSettings
		now      time.Time
		send     bool
		reason   Reason
		channels []Channel
	}{
		{"push allowed", activeReminder(), defaultSettings(), noon, true, ReasonNone, []Channel{ChannelPush}},
		{"inactive reminder", inactive, defaultSettings(), noon, false, ReasonInactive, nil},
		{"notifications disabled", muted, defaultSettings(), noon, false, ReasonNotificationsDisabled, nil},
		{"quiet hours", activeReminder(), defaultSettings(), night, false, ReasonQuietHours, nil},
		{"no channel", activeReminder(), noChannels, noon, false, ReasonNoChannel, nil},
		{"email only", activeReminder(), emailOnly, noon, true, ReasonNone, []Channel{ChannelEmail}},
		{"email without address", activeReminder(), emailWithoutAddress, noon, false, ReasonNoChannel, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.rem, tt.settings, tt.now)
			if got.Send != tt.send {
				t.Errorf("Send = %v, want %v", got.Send, tt.send)
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if len(got.Channels) != len(tt.channels) {
				t.Fatalf("Channels = %v, want %v", got.Channels, tt.channels)
			}
			for i := range tt.channels {
				if got.Channels[i] != tt.channels[i] {
					t.Errorf("Channels[%d] = %s, want %s", i, got.Channels[i], tt.channels[i])
				}
			}
		})
	}
}

func TestDecide_UsesSettingsTimezone(t *testing.T) {
	settings := defaultSettings()
	settings.Timezone = "America/Sao_Paulo"

	// 01:30 UTC is 22:30 the previous evening in Sao Paulo.
	now := time.Date(2025, 6, 5, 1, 30, 0, 0, time.UTC)

	got := Decide(activeReminder(), settings, now)
	if got.Reason != ReasonQuietHours {
		t.Errorf("expected quiet hours in user timezone, got %+v", got)
	}
}

func TestDecide_UnparseableWindowNeverSuppresses(t *testing.T) {
	settings := defaultSettings()
	settings.QuietHoursStart = "late"

	got := Decide(activeReminder(), settings, time.Date(2025, 6, 4, 23, 0, 0, 0, time.UTC))
	if !got.Send {
		t.Errorf("expected send with broken window, got %+v", got)
	}
}

func TestDecision_Retryable(t *testing.T) {
	if !(Decision{Reason: ReasonQuietHours}).Retryable() {
		t.Error("quiet hours should be retryable")
	}
	if (Decision{Reason: ReasonInactive}).Retryable() {
		t.Error("inactive should not be retryable")
	}
	if (Decision{Send: true}).Retryable() {
		t.Error("a send decision is not a retry")
	}
}

func TestIconAndTag(t *testing.T) {
	tests := map[string]string{
		db.ReminderTypeMeal:     "🍽️",
		db.ReminderTypeExercise: "💪",
		db.ReminderTypeGoal:     "🎯",
		db.ReminderTypeCustom:   "🔔",
		"other":                 "📝",
	}
	for typ, want := range tests {
		if got := Icon(typ); got != want {
			t.Errorf("Icon(%s) = %s, want %s", typ, got, want)
		}
	}

	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	if got := Tag(id); got != "reminder-7d444840-9dc0-11d1-b245-5ffdce74fad2" {
		t.Errorf("unexpected tag %s", got)
	}
}

func TestNewScheduleMessage(t *testing.T) {
	rem := activeReminder()
	rem.ReminderType = db.ReminderTypeMeal
	rem.Title = "Lunch"
	due := db.DueSchedule{
		Schedule: db.Schedule{ID: uuid.New(), ReminderID: rem.ID, ScheduledTime: time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)},
		Reminder: rem,
	}

	msg := NewScheduleMessage(due, ChannelPush)

	if msg.Title != "🍽️ Lunch" {
		t.Errorf("Title = %q", msg.Title)
	}
	if msg.Body != "Hora da sua refeição." {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.Tag != Tag(rem.ID) {
		t.Errorf("Tag = %q", msg.Tag)
	}
	if !msg.RequireInteraction || msg.Silent {
		t.Error("schedule notifications require interaction and are not silent")
	}
	if msg.Data["schedule_id"] != due.Schedule.ID.String() {
		t.Errorf("schedule_id data = %q", msg.Data["schedule_id"])
	}

	rem.Description = strPtr("Grilled chicken and rice")
	due.Reminder = rem
	if got := NewScheduleMessage(due, ChannelPush).Body; got != "Grilled chicken and rice" {
		t.Errorf("description should be the body, got %q", got)
	}
}

func TestBodyDefaultsPerType(t *testing.T) {
	tests := []struct {
		reminderType string
		expected     string
	}{
		{db.ReminderTypeMeal, "Hora da sua refeição."},
		{db.ReminderTypeExercise, "Hora de se exercitar."},
		{db.ReminderTypeGoal, "Confira o progresso da sua meta."},
		{db.ReminderTypeCustom, "Você tem um lembrete."},
	}

	for _, tt := range tests {
		t.Run(tt.reminderType, func(t *testing.T) {
			rem := activeReminder()
			rem.ReminderType = tt.reminderType
			if got := Body(rem); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}

	rem := activeReminder()
	rem.Description = strPtr("")
	if got := Body(rem); got != "Você tem um lembrete." {
		t.Errorf("empty description falls back to the default, got %q", got)
	}
}
