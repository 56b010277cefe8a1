package models

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time in minutes after local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// TimeOfDayOf returns the wall-clock minute of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// On returns the instant at this wall-clock time on the calendar day of ref, in loc.
func (t TimeOfDay) On(ref time.Time, loc *time.Location) time.Time {
	y, m, d := ref.In(loc).Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// DailyWindow is a recurring local time-of-day range [Start, End).
// Start > End wraps past midnight. Start == End is an empty window.
type DailyWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ParseDailyWindow parses a pair of "HH:MM" strings. Two empty strings give an empty window.
func ParseDailyWindow(start, end string) (DailyWindow, error) {
	if start == "" && end == "" {
		return DailyWindow{}, nil
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return DailyWindow{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return DailyWindow{}, err
	}
	return DailyWindow{Start: s % minutesPerDay, End: e % minutesPerDay}, nil
}

func (w DailyWindow) IsEmpty() bool {
	return w.Start == w.End
}

func (w DailyWindow) Wraps() bool {
	return w.Start > w.End
}

// Contains reports whether the wall-clock minute falls inside the window.
func (w DailyWindow) Contains(t TimeOfDay) bool {
	switch {
	case w.IsEmpty():
		return false
	case w.Wraps():
		return t >= w.Start || t < w.End
	default:
		return t >= w.Start && t < w.End
	}
}

// ContainsInstant reports whether the instant, viewed in loc, falls inside the window.
func (w DailyWindow) ContainsInstant(at time.Time, loc *time.Location) bool {
	return w.Contains(TimeOfDayOf(at.In(loc)))
}

// NextStart returns the first window start at or after at (local to loc).
func (w DailyWindow) NextStart(at time.Time, loc *time.Location) time.Time {
	start := w.Start.On(at, loc)
	if start.Before(at) {
		start = w.Start.On(at.In(loc).AddDate(0, 0, 1), loc)
	}
	return start
}

// EndAfter returns the first window end strictly after at (local to loc).
func (w DailyWindow) EndAfter(at time.Time, loc *time.Location) time.Time {
	end := w.End.On(at, loc)
	if !end.After(at) {
		end = w.End.On(at.In(loc).AddDate(0, 0, 1), loc)
	}
	return end
}

func (w DailyWindow) String() string {
	if w.IsEmpty() {
		return "none"
	}
	return w.Start.String() + "-" + w.End.String()
}
