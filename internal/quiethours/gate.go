// Package quiethours decides whether a notification falls inside a user's
// quiet-hours window. Windows are inclusive on both ends and may wrap midnight.
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings is anything that carries a quiet-hours window as clock strings.
type Settings interface {
	QuietWindow() (start, end string)
}

// Window is a quiet-hours window in minutes since midnight.
type Window struct {
	Start int
	End   int
}

// NewWindow parses start and end clock strings ("HH:MM" or "HH:MM:SS").
func NewWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("quiet hours end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Wraps reports whether the window spans 00:00.
func (w Window) Wraps() bool {
	return w.Start > w.End
}

// Contains reports whether minute (0..1439) is inside the window.
func (w Window) Contains(minute int) bool {
	if w.Wraps() {
		return minute >= w.Start || minute <= w.End
	}
	return minute >= w.Start && minute <= w.End
}

// IsQuietHours reports whether now falls in the settings' window. A window that
// cannot be parsed never suppresses.
func IsQuietHours(s Settings, now time.Time) bool {
	quiet, err := Check(s, now)
	if err != nil {
		return false
	}
	return quiet
}

// Check is IsQuietHours with the parse error surfaced.
func Check(s Settings, now time.Time) (bool, error) {
	start, end := s.QuietWindow()
	w, err := NewWindow(start, end)
	if err != nil {
		return false, err
	}
	return w.Contains(MinuteOfDay(now)), nil
}

// MinuteOfDay converts now to minutes since midnight in now's location.
func MinuteOfDay(now time.Time) int {
	return now.Hour()*60 + now.Minute()
}

// ParseClock converts "HH:MM" or "HH:MM:SS" to minutes since midnight.
// Seconds are accepted and ignored.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}

	return h*60 + m, nil
}
