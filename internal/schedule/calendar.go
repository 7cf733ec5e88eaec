package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	hh, mm, ok := strings.Cut(value, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid time %q, expected HH:MM", value)}
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid time %q, expected HH:MM", value)}
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On places the time of day on the calendar date of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// Hours are the opening hours of a business day.
type Hours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

func (h Hours) contains(w Window) bool {
	return w.Start >= h.Open && w.End <= h.Close
}

// BusinessCalendar maps a weekday to its opening hours. Weekdays without an entry are closed.
type BusinessCalendar map[time.Weekday]Hours

// HoursFor returns the opening hours of the weekday and whether the shop is open.
func (c BusinessCalendar) HoursFor(wd time.Weekday) (Hours, bool) {
	h, ok := c[wd]
	return h, ok
}

// Window is one fixed appointment window of a template.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Minute
}

// SlotTemplate is the ordered list of windows offered on a day.
type SlotTemplate []Window

// Validate checks that windows are ordered, non-empty and do not overlap.
func (t SlotTemplate) Validate() error {
	for i, w := range t {
		if w.End <= w.Start {
			return fmt.Errorf("slot %s-%s: end must be after start", w.Start, w.End)
		}
		if i > 0 && w.Start < t[i-1].End {
			return fmt.Errorf("slot %s-%s overlaps or precedes %s-%s", w.Start, w.End, t[i-1].Start, t[i-1].End)
		}
	}
	return nil
}

// ParseTemplate builds a template from "HH:MM" start/end pairs.
func ParseTemplate(pairs [][2]string) (SlotTemplate, error) {
	tpl := make(SlotTemplate, 0, len(pairs))
	for _, p := range pairs {
		start, err := ParseTimeOfDay(p[0])
		if err != nil {
			return nil, err
		}
		end, err := ParseTimeOfDay(p[1])
		if err != nil {
			return nil, err
		}
		tpl = append(tpl, Window{Start: start, End: end})
	}
	return tpl, tpl.Validate()
}
