// Package recurrence expands reminder definitions into concrete occurrence times.
//
// Recurring definitions are compiled to RFC 5545 rules (FREQ=DAILY, WEEKLY with
// BYDAY, MONTHLY with BYMONTHDAY) anchored at the first occurrence, so expanding
// over a horizon is equivalent to walking day by day from the target date and
// keeping the days the pattern selects. Wall-clock time is kept in the
// definition's location across DST changes.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	// DefaultTime is used when a reminder has no target time.
	DefaultTime = "09:00:00"

	// DefaultHorizonDays is how far ahead schedules are generated.
	DefaultHorizonDays = 30
)

// ErrInvalidRecurrence reports a definition that cannot be expanded.
var ErrInvalidRecurrence = errors.New("invalid recurrence")

// Pattern is a recurrence frequency.
type Pattern string

const (
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
)

// weekdays maps 0=Sunday..6=Saturday onto rrule weekdays.
var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Definition is the subset of a reminder that drives expansion.
type Definition struct {
	TargetDate time.Time // only year, month and day are used
	TargetTime string    // "HH:MM" or "HH:MM:SS"; empty means DefaultTime
	Recurring  bool
	Pattern    Pattern
	Days       []int // weekdays for Weekly, 0=Sunday
	Location   *time.Location
}

// First returns the occurrence on the target date at the target time.
func (d Definition) First() (time.Time, error) {
	clock := d.TargetTime
	if clock == "" {
		clock = DefaultTime
	}

	tod, err := parseTimeOfDay(clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}

	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}

	y, m, day := d.TargetDate.Date()
	return time.Date(y, m, day, tod.Hour(), tod.Minute(), tod.Second(), 0, loc), nil
}

// Validate checks the definition without expanding it.
func (d Definition) Validate() error {
	if _, err := d.First(); err != nil {
		return err
	}
	if !d.Recurring {
		return nil
	}

	switch d.Pattern {
	case Daily, Monthly:
		return nil
	case Weekly:
		if len(d.Days) == 0 {
			return fmt.Errorf("%w: weekly pattern needs at least one day", ErrInvalidRecurrence)
		}
		for _, day := range d.Days {
			if day < 0 || day > 6 {
				return fmt.Errorf("%w: weekday %d out of range 0-6", ErrInvalidRecurrence, day)
			}
		}
		return nil
	case "":
		return fmt.Errorf("%w: recurring reminder without pattern", ErrInvalidRecurrence)
	default:
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidRecurrence, d.Pattern)
	}
}

// Rule compiles a recurring definition into an rrule anchored at First.
func (d Definition) Rule() (*rrule.RRule, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !d.Recurring {
		return nil, fmt.Errorf("%w: one-off reminder has no rule", ErrInvalidRecurrence)
	}

	first, _ := d.First()
	opt := rrule.ROption{
		Dtstart:  first,
		Interval: 1,
	}

	switch d.Pattern {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = make([]rrule.Weekday, 0, len(d.Days))
		seen := make(map[int]bool, len(d.Days))
		for _, day := range d.Days {
			if seen[day] {
				continue
			}
			seen[day] = true
			opt.Byweekday = append(opt.Byweekday, weekdays[day])
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{first.Day()}
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	return rule, nil
}

// Expand returns the occurrences of d within horizonDays days starting at the
// target date. One-off definitions yield exactly one occurrence.
func Expand(d Definition, horizonDays int) ([]time.Time, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	first, err := d.First()
	if err != nil {
		return nil, err
	}
	if !d.Recurring {
		return []time.Time{first}, nil
	}

	last := first.AddDate(0, 0, horizonDays-1)
	return ExpandRange(d, first, last)
}

// ExpandRange returns the occurrences of d within [from, to], ascending.
func ExpandRange(d Definition, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, nil
	}

	if !d.Recurring {
		first, err := d.First()
		if err != nil {
			return nil, err
		}
		if first.Before(from) || first.After(to) {
			return nil, nil
		}
		return []time.Time{first}, nil
	}

	rule, err := d.Rule()
	if err != nil {
		return nil, err
	}

	return dedupe(rule.Between(from, to, true)), nil
}

func dedupe(times []time.Time) []time.Time {
	if len(times) < 2 {
		return times
	}
	out := times[:1]
	for _, t := range times[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

func parseTimeOfDay(s string) (time.Time, error) {
	if t, err := time.Parse("15:04:05", s); err == nil {
		return t, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", s)
	}
	return t, nil
}
