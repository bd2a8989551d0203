// Package scheduler implements the recurrence algebra for scheduled items:
// validation, next-fire computation, and clock-aligned ticks. Everything in
// here is pure; the autonomous loop owns the clock.
package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Schedule types
const (
	TypeOnce     = "once"
	TypeInterval = "interval"
	TypeDaily    = "daily"
	TypeWeekly   = "weekly"
	TypeMonthly  = "monthly"
)

// Spec is the tagged recurrence record. Fields are type-dependent:
// once needs At; interval needs Minutes; daily needs Time; weekly needs
// Time and Day; monthly needs Time and DayOfMonth.
type Spec struct {
	Type       string    `json:"type"`
	At         time.Time `json:"at,omitempty"`
	Minutes    int       `json:"minutes,omitempty"`
	Time       string    `json:"time,omitempty"` // "HH:MM", 24h UTC
	Day        string    `json:"day,omitempty"`  // monday..sunday
	DayOfMonth int       `json:"day_of_month,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Validate checks the spec's type-dependent fields.
func (s Spec) Validate() error {
	switch s.Type {
	case TypeOnce:
		if s.At.IsZero() {
			return fmt.Errorf("once schedule requires 'at'")
		}
	case TypeInterval:
		if s.Minutes <= 0 {
			return fmt.Errorf("interval schedule requires minutes > 0")
		}
	case TypeDaily:
		if _, _, err := parseClock(s.Time); err != nil {
			return fmt.Errorf("daily schedule: %w", err)
		}
	case TypeWeekly:
		if _, _, err := parseClock(s.Time); err != nil {
			return fmt.Errorf("weekly schedule: %w", err)
		}
		if _, ok := weekdays[strings.ToLower(s.Day)]; !ok {
			return fmt.Errorf("weekly schedule requires day monday..sunday, got %q", s.Day)
		}
	case TypeMonthly:
		if _, _, err := parseClock(s.Time); err != nil {
			return fmt.Errorf("monthly schedule: %w", err)
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 28 {
			return fmt.Errorf("monthly schedule requires day_of_month in [1,28], got %d", s.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	return nil
}

// Parse decodes and validates a schedule JSON document.
func Parse(raw []byte) (Spec, error) {
	var s Spec
	if err := json.Unmarshal(raw, &s); err != nil {
		return Spec{}, fmt.Errorf("parse schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// ComputeNextRun returns the first fire instant strictly after the given
// time, or the zero time when the schedule has no future fire (an expired
// "once").
func ComputeNextRun(s Spec, after time.Time) time.Time {
	after = after.UTC()
	switch s.Type {
	case TypeOnce:
		if s.At.After(after) {
			return s.At.UTC()
		}
		return time.Time{}
	case TypeInterval:
		return after.Add(time.Duration(s.Minutes) * time.Minute)
	case TypeDaily:
		hh, mm, _ := parseClock(s.Time)
		next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, time.UTC)
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case TypeWeekly:
		hh, mm, _ := parseClock(s.Time)
		target := weekdays[strings.ToLower(s.Day)]
		next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, time.UTC)
		for next.Weekday() != target || !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case TypeMonthly:
		hh, mm, _ := parseClock(s.Time)
		next := time.Date(after.Year(), after.Month(), s.DayOfMonth, hh, mm, 0, 0, time.UTC)
		if !next.After(after) {
			// DayOfMonth is capped at 28, so adding a calendar month
			// never normalizes into the month after next.
			next = next.AddDate(0, 1, 0)
		}
		return next
	}
	return time.Time{}
}

// NextAlignedTick returns the next wall-clock instant whose minute is a
// multiple of tickMinutes with seconds zeroed. Strictly after now.
func NextAlignedTick(tickMinutes int, now time.Time) time.Time {
	if tickMinutes <= 0 {
		tickMinutes = 5
	}
	truncated := now.Truncate(time.Minute)
	minute := truncated.Minute()
	advance := tickMinutes - minute%tickMinutes
	return truncated.Add(time.Duration(advance) * time.Minute)
}

// IsDue reports whether an item with the given next-run timestamp should
// fire at now. Zero timestamps are never due.
func IsDue(nextRun, now time.Time) bool {
	return !nextRun.IsZero() && !nextRun.After(now)
}

// Describe renders a spec for listings and prompts.
func Describe(s Spec) string {
	switch s.Type {
	case TypeOnce:
		return "once at " + s.At.UTC().Format("2006-01-02 15:04 UTC")
	case TypeInterval:
		return fmt.Sprintf("every %d minutes", s.Minutes)
	case TypeDaily:
		return "daily at " + s.Time + " UTC"
	case TypeWeekly:
		return fmt.Sprintf("weekly on %s at %s UTC", strings.ToLower(s.Day), s.Time)
	case TypeMonthly:
		return fmt.Sprintf("monthly on day %d at %s UTC", s.DayOfMonth, s.Time)
	}
	return s.Type
}

func parseClock(v string) (hh, mm int, err error) {
	if _, err := time.Parse("15:04", v); err != nil {
		return 0, 0, fmt.Errorf("time must be HH:MM 24-hour, got %q", v)
	}
	fmt.Sscanf(v, "%d:%d", &hh, &mm)
	return hh, mm, nil
}
