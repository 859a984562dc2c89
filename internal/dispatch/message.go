package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

// Target is one push destination: an FCM registration token or an SNS
// platform endpoint ARN.
type Target struct {
	Provider string
	Token    string
}

// Message is a channel-agnostic notification.
type Message struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	ReminderID         *uuid.UUID
	Channel            Channel
	Title              string
	Body               string
	Tag                string
	Icon               string
	RequireInteraction bool
	Silent             bool
	Data               map[string]string

	// Email recipient, set for ChannelEmail.
	To string
	// Push destinations, set for ChannelPush.
	Targets []Target
}

// Icon returns the emoji shown next to a reminder of the given type.
func Icon(reminderType string) string {
	switch reminderType {
	case db.ReminderTypeMeal:
		return "🍽️"
	case db.ReminderTypeExercise:
		return "💪"
	case db.ReminderTypeGoal:
		return "🎯"
	case db.ReminderTypeCustom:
		return "🔔"
	default:
		return "📝"
	}
}

// Tag groups notifications of one reminder so a newer one replaces the older.
func Tag(reminderID uuid.UUID) string {
	return "reminder-" + reminderID.String()
}

// Body is the notification text for a reminder.
func Body(rem db.Reminder) string {
	if rem.Description != nil && *rem.Description != "" {
		return *rem.Description
	}
	switch rem.ReminderType {
	case db.ReminderTypeMeal:
		return "Hora da sua refeição."
	case db.ReminderTypeExercise:
		return "Hora de se exercitar."
	case db.ReminderTypeGoal:
		return "Confira o progresso da sua meta."
	default:
		return "Você tem um lembrete."
	}
}

// NewScheduleMessage builds the notification for a due schedule on one channel.
func NewScheduleMessage(due db.DueSchedule, ch Channel) *Message {
	rem := due.Reminder
	reminderID := rem.ID

	return &Message{
		ID:                 due.Schedule.ID,
		UserID:             rem.UserID,
		ReminderID:         &reminderID,
		Channel:            ch,
		Title:              fmt.Sprintf("%s %s", Icon(rem.ReminderType), rem.Title),
		Body:               Body(rem),
		Tag:                Tag(rem.ID),
		Icon:               Icon(rem.ReminderType),
		RequireInteraction: true,
		Data: map[string]string{
			"type":           "reminder",
			"reminder_id":    rem.ID.String(),
			"schedule_id":    due.Schedule.ID.String(),
			"scheduled_time": due.Schedule.ScheduledTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
	}
}
