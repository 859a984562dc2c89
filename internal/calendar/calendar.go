// Package calendar renders pending reminder schedules as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-ical"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/dispatch"
)

// DefaultProdID identifies the feed producer.
const DefaultProdID = "-//ikgaihub//Reminders//PT"

const eventDuration = "PT15M"

type event struct {
	reminder db.Reminder
	schedule db.Schedule
}

// Build returns a calendar with one VEVENT per schedule that is unsent, in the
// future and belongs to an active reminder.
func Build(entries []db.ReminderWithSchedules, now time.Time, prodID string) *ical.Calendar {
	if prodID == "" {
		prodID = DefaultProdID
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	var events []event
	for _, e := range entries {
		if !e.Reminder.IsActive {
			continue
		}
		for _, s := range e.Schedules {
			if s.IsSent || !s.ScheduledTime.After(now) {
				continue
			}
			events = append(events, event{reminder: e.Reminder, schedule: s})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].schedule.ScheduledTime.Before(events[j].schedule.ScheduledTime)
	})

	stamp := now.UTC()
	for _, ev := range events {
		cal.Children = append(cal.Children, newEvent(ev, stamp).Component)
	}
	return cal
}

func newEvent(ev event, stamp time.Time) *ical.Event {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, fmt.Sprintf("%s@ikgaihub", ev.schedule.ID))
	vevent.Props.SetText(ical.PropSummary, dispatch.Icon(ev.reminder.ReminderType)+" "+ev.reminder.Title)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.schedule.ScheduledTime.UTC())

	duration := ical.NewProp(ical.PropDuration)
	duration.Value = eventDuration
	vevent.Props.Set(duration)

	vevent.Props.SetText(ical.PropCategories, ev.reminder.ReminderType)
	if ev.reminder.Description != nil && *ev.reminder.Description != "" {
		vevent.Props.SetText(ical.PropDescription, *ev.reminder.Description)
	}
	return vevent
}

// Encode writes cal to w. A calendar without events is written as an empty
// VCALENDAR so subscribers still get a valid feed.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if len(cal.Children) == 0 {
		prodID := DefaultProdID
		if p := cal.Props.Get(ical.PropProductID); p != nil {
			prodID = p.Value
		}
		_, err := fmt.Fprintf(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", prodID)
		return err
	}
	return ical.NewEncoder(w).Encode(cal)
}
