package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

var now = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func schedule(at time.Time, sent bool) db.Schedule {
	return db.Schedule{ID: uuid.New(), ScheduledTime: at, IsSent: sent}
}

func TestBuild_OnlyPendingSchedules(t *testing.T) {
	desc := "Proteína e salada"
	lunch := db.ReminderWithSchedules{
		Reminder: db.Reminder{ID: uuid.New(), Title: "Almoço", ReminderType: db.ReminderTypeMeal, IsActive: true, Description: &desc},
		Schedules: []db.Schedule{
			schedule(now.Add(-time.Hour), false),
			schedule(now.Add(48*time.Hour), false),
			schedule(now.Add(24*time.Hour), false),
			schedule(now.Add(72*time.Hour), true),
		},
	}
	paused := db.ReminderWithSchedules{
		Reminder:  db.Reminder{ID: uuid.New(), Title: "Treino", ReminderType: db.ReminderTypeExercise},
		Schedules: []db.Schedule{schedule(now.Add(time.Hour), false)},
	}

	cal := Build([]db.ReminderWithSchedules{lunch, paused}, now, "")

	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	require.Equal(t, lunch.Schedules[2].ID.String()+"@ikgaihub", first.Props.Get(ical.PropUID).Value)
	require.Equal(t, "🍽️ Almoço", first.Props.Get(ical.PropSummary).Value)
	require.Equal(t, "meal", first.Props.Get(ical.PropCategories).Value)
	require.Equal(t, "PT15M", first.Props.Get(ical.PropDuration).Value)
	require.Equal(t, desc, first.Props.Get(ical.PropDescription).Value)

	start, err := first.DateTimeStart(time.UTC)
	require.NoError(t, err)
	require.True(t, start.Equal(now.Add(24*time.Hour)))

	require.Equal(t, DefaultProdID, cal.Props.Get(ical.PropProductID).Value)
}

func TestBuild_SkipsEmptyDescription(t *testing.T) {
	entry := db.ReminderWithSchedules{
		Reminder:  db.Reminder{ID: uuid.New(), Title: "Meta", ReminderType: db.ReminderTypeGoal, IsActive: true},
		Schedules: []db.Schedule{schedule(now.Add(time.Hour), false)},
	}

	events := Build([]db.ReminderWithSchedules{entry}, now, "-//test//EN").Events()
	require.Len(t, events, 1)
	require.Nil(t, events[0].Props.Get(ical.PropDescription))
}

func TestEncode(t *testing.T) {
	entry := db.ReminderWithSchedules{
		Reminder:  db.Reminder{ID: uuid.New(), Title: "Beber água", ReminderType: db.ReminderTypeCustom, IsActive: true},
		Schedules: []db.Schedule{schedule(now.Add(time.Hour), false)},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Build([]db.ReminderWithSchedules{entry}, now, "")))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	require.Contains(t, out, "BEGIN:VEVENT")
	require.Contains(t, out, "DTSTART:20250604T130000Z")
}

func TestEncode_EmptyCalendar(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Build(nil, now, "-//test//EN")))
	require.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nEND:VCALENDAR\r\n", buf.String())
}
