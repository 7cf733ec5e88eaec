package schedule

import (
	"fmt"
	"strings"
	"time"

	"carwash/internal/config"
	"carwash/internal/models"
)

// Engine computes slot availability for a date from the business calendar and
// the fixed slot templates. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	calendar BusinessCalendar
	weekday  SlotTemplate
	saturday SlotTemplate
	loc      *time.Location
}

func NewEngine(calendar BusinessCalendar, weekday, saturday SlotTemplate, loc *time.Location) (*Engine, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := weekday.Validate(); err != nil {
		return nil, fmt.Errorf("weekday template: %w", err)
	}
	if err := saturday.Validate(); err != nil {
		return nil, fmt.Errorf("saturday template: %w", err)
	}

	cal := make(BusinessCalendar, len(calendar))
	for wd, h := range calendar {
		if h.Close <= h.Open {
			return nil, fmt.Errorf("%s: close %s must be after open %s", wd, h.Close, h.Open)
		}
		cal[wd] = h
	}

	e := &Engine{
		calendar: cal,
		weekday:  append(SlotTemplate(nil), weekday...),
		saturday: append(SlotTemplate(nil), saturday...),
		loc:      loc,
	}

	// каждый шаблон должен укладываться в часы работы своего дня
	for wd, h := range cal {
		for _, w := range e.templateFor(wd) {
			if !h.contains(w) {
				return nil, fmt.Errorf("%s: slot %s-%s outside business hours %s-%s", wd, w.Start, w.End, h.Open, h.Close)
			}
		}
	}

	return e, nil
}

// NewEngineFromConfig builds an engine from the schedule section of the config.
func NewEngineFromConfig(cfg config.ScheduleConfig) (*Engine, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}

	calendar := make(BusinessCalendar)
	for _, d := range cfg.Calendar {
		if d.Closed {
			continue
		}
		open, err := ParseTimeOfDay(d.Open)
		if err != nil {
			return nil, fmt.Errorf("calendar weekday %d open: %w", d.Weekday, err)
		}
		closeAt, err := ParseTimeOfDay(d.Close)
		if err != nil {
			return nil, fmt.Errorf("calendar weekday %d close: %w", d.Weekday, err)
		}
		calendar[time.Weekday(d.Weekday)] = Hours{Open: open, Close: closeAt}
	}

	weekday, err := templateFromConfig(cfg.WeekdaySlots)
	if err != nil {
		return nil, fmt.Errorf("weekday slots: %w", err)
	}
	saturday, err := templateFromConfig(cfg.SaturdaySlots)
	if err != nil {
		return nil, fmt.Errorf("saturday slots: %w", err)
	}

	return NewEngine(calendar, weekday, saturday, loc)
}

func templateFromConfig(slots []config.SlotConfig) (SlotTemplate, error) {
	pairs := make([][2]string, 0, len(slots))
	for _, s := range slots {
		pairs = append(pairs, [2]string{s.Start, s.End})
	}
	return ParseTemplate(pairs)
}

// Location is the time zone slot instants are computed in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// ParseDate parses a YYYY-MM-DD calendar date into midnight of the engine location.
func (e *Engine) ParseDate(value string) (time.Time, error) {
	return ParseDateIn(value, e.loc)
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(value string) (time.Time, error) {
	return ParseDateIn(value, time.UTC)
}

func ParseDateIn(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &ValidationError{Field: "date", Message: "date is required"}
	}
	d, err := time.ParseInLocation(models.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", value)}
	}
	return d, nil
}

// IsOpen reports whether the shop works on the calendar date.
func (e *Engine) IsOpen(date time.Time) bool {
	_, ok := e.calendar.HoursFor(date.Weekday())
	return ok
}

func (e *Engine) templateFor(wd time.Weekday) SlotTemplate {
	if _, ok := e.calendar.HoursFor(wd); !ok {
		return nil
	}
	if wd == time.Saturday {
		return e.saturday
	}
	return e.weekday
}

// ComputeSlots returns the template windows of the date in order, each marked booked
// when an active booking starts inside [start, end). Closed days yield an empty list.
func (e *Engine) ComputeSlots(date time.Time, bookings []models.Booking) ([]models.AvailabilitySlot, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}

	tpl := e.templateFor(date.Weekday())
	slots := make([]models.AvailabilitySlot, 0, len(tpl))
	for _, w := range tpl {
		slot := e.buildSlot(date, w)
		slot.IsBooked = bookedWithin(slot.StartsAt, slot.EndsAt, bookings)
		slots = append(slots, slot)
	}
	return slots, nil
}

// SlotAt resolves the template window that starts at "HH:MM" on the date.
func (e *Engine) SlotAt(date time.Time, start string) (models.AvailabilitySlot, error) {
	if date.IsZero() {
		return models.AvailabilitySlot{}, &ValidationError{Field: "date", Message: "date is required"}
	}
	at, err := ParseTimeOfDay(start)
	if err != nil {
		return models.AvailabilitySlot{}, err
	}

	tpl := e.templateFor(date.Weekday())
	if tpl == nil {
		return models.AvailabilitySlot{}, &ValidationError{
			Field:   "date",
			Message: fmt.Sprintf("closed on %s", date.Weekday()),
		}
	}
	for _, w := range tpl {
		if w.Start == at {
			return e.buildSlot(date, w), nil
		}
	}
	return models.AvailabilitySlot{}, &ValidationError{
		Field:   "time",
		Message: fmt.Sprintf("%s is not a slot start on %s", at, date.Format(models.DateLayout)),
	}
}

func (e *Engine) buildSlot(date time.Time, w Window) models.AvailabilitySlot {
	startsAt := w.Start.On(date, e.loc)
	endsAt := w.End.On(date, e.loc)
	return models.AvailabilitySlot{
		Time:     w.Start.String() + " - " + w.End.String(),
		Start:    w.Start.String(),
		End:      w.End.String(),
		Duration: int(w.Duration() / time.Minute),
		StartsAt: startsAt,
		EndsAt:   endsAt,
	}
}

func bookedWithin(start, end time.Time, bookings []models.Booking) bool {
	for i := range bookings {
		b := &bookings[i]
		if !b.IsActive() {
			continue
		}
		// [start, end) содержит момент начала записи
		if !b.Date.Before(start) && b.Date.Before(end) {
			return true
		}
	}
	return false
}

// Summarize counts free and booked slots.
func Summarize(slots []models.AvailabilitySlot) models.AvailabilitySummary {
	s := models.AvailabilitySummary{Total: len(slots)}
	for _, slot := range slots {
		if slot.IsBooked {
			s.Booked++
		}
	}
	s.Available = s.Total - s.Booked
	return s
}
