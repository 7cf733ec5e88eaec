package schedule

import (
	"testing"
	"time"

	"carwash/internal/config"
	"carwash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wednesday = time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	saturday  = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	sunday    = time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngineFromConfig(defaultSchedule())
	require.NoError(t, err)
	return engine
}

func defaultSchedule() config.ScheduleConfig {
	return config.ScheduleConfig{
		Timezone: "UTC",
		Calendar: config.DefaultCalendar(),
		WeekdaySlots: []config.SlotConfig{
			{Start: "08:30", End: "10:00"},
			{Start: "10:00", End: "11:30"},
			{Start: "11:30", End: "13:00"},
			{Start: "14:00", End: "15:30"},
			{Start: "15:30", End: "17:00"},
		},
		SaturdaySlots: []config.SlotConfig{
			{Start: "08:30", End: "10:00"},
			{Start: "10:00", End: "11:30"},
			{Start: "11:30", End: "13:00"},
		},
	}
}

func bookingAt(day time.Time, hh, mm int, status string) models.Booking {
	y, m, d := day.Date()
	return models.Booking{
		ID:     1,
		Date:   time.Date(y, m, d, hh, mm, 0, 0, time.UTC),
		Status: status,
	}
}

func labels(slots []models.AvailabilitySlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time)
	}
	return out
}

func bookedFlags(slots []models.AvailabilitySlot) []bool {
	out := make([]bool, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.IsBooked)
	}
	return out
}

func TestComputeSlots_SundayClosed(t *testing.T) {
	engine := newTestEngine(t)

	slots, err := engine.ComputeSlots(sunday, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NotNil(t, slots)

	slots, err = engine.ComputeSlots(sunday, []models.Booking{bookingAt(sunday, 10, 0, models.StatusConfirmed)})
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.False(t, engine.IsOpen(sunday))
}

func TestComputeSlots_WeekdayFree(t *testing.T) {
	engine := newTestEngine(t)

	for day := 10; day <= 14; day++ {
		date := time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
		slots, err := engine.ComputeSlots(date, nil)
		require.NoError(t, err)
		require.Len(t, slots, 5, date.Weekday().String())

		assert.Equal(t, []string{
			"08:30 - 10:00",
			"10:00 - 11:30",
			"11:30 - 13:00",
			"14:00 - 15:30",
			"15:30 - 17:00",
		}, labels(slots))
		for _, s := range slots {
			assert.False(t, s.IsBooked)
			assert.Equal(t, 90, s.Duration)
		}
		assert.Equal(t, "08:30", slots[0].Start)
		assert.Equal(t, "17:00", slots[4].End)
	}
}

func TestComputeSlots_LunchGap(t *testing.T) {
	engine := newTestEngine(t)

	slots, err := engine.ComputeSlots(wednesday, nil)
	require.NoError(t, err)

	lunchStart := time.Date(2025, 3, 12, 13, 0, 0, 0, time.UTC)
	lunchEnd := time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	for _, s := range slots {
		overlaps := s.StartsAt.Before(lunchEnd) && lunchStart.Before(s.EndsAt)
		assert.False(t, overlaps, s.Time)
	}
	for i := 1; i < len(slots); i++ {
		assert.False(t, slots[i].StartsAt.Before(slots[i-1].EndsAt), "slots must not overlap")
	}
}

func TestComputeSlots_SaturdayFree(t *testing.T) {
	engine := newTestEngine(t)

	slots, err := engine.ComputeSlots(saturday, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:30 - 10:00", "10:00 - 11:30", "11:30 - 13:00"}, labels(slots))
	assert.Equal(t, []bool{false, false, false}, bookedFlags(slots))
	assert.Equal(t, models.AvailabilitySummary{Total: 3, Available: 3, Booked: 0}, Summarize(slots))
}

func TestComputeSlots_Idempotent(t *testing.T) {
	engine := newTestEngine(t)
	bookings := []models.Booking{bookingAt(wednesday, 10, 0, models.StatusPending)}

	first, err := engine.ComputeSlots(wednesday, bookings)
	require.NoError(t, err)
	second, err := engine.ComputeSlots(wednesday, bookings)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeSlots_BookingAtTen(t *testing.T) {
	engine := newTestEngine(t)
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	slots, err := engine.ComputeSlots(monday, []models.Booking{bookingAt(monday, 10, 0, models.StatusConfirmed)})
	require.NoError(t, err)

	for _, s := range slots {
		assert.Equal(t, s.Time == "10:00 - 11:30", s.IsBooked, s.Time)
	}
}

func TestComputeSlots_CancellationFreesSlot(t *testing.T) {
	engine := newTestEngine(t)
	booking := bookingAt(wednesday, 10, 0, models.StatusPending)

	slots, err := engine.ComputeSlots(wednesday, []models.Booking{booking})
	require.NoError(t, err)
	assert.True(t, slots[1].IsBooked)

	slots, err = engine.ComputeSlots(wednesday, nil)
	require.NoError(t, err)
	assert.False(t, slots[1].IsBooked)

	booking.Status = models.StatusCancelled
	slots, err = engine.ComputeSlots(wednesday, []models.Booking{booking})
	require.NoError(t, err)
	assert.False(t, slots[1].IsBooked)
}

func TestComputeSlots_WednesdayScenario(t *testing.T) {
	engine := newTestEngine(t)

	slots, err := engine.ComputeSlots(wednesday, []models.Booking{bookingAt(wednesday, 11, 30, models.StatusConfirmed)})
	require.NoError(t, err)

	assert.Equal(t, []string{"08:30 - 10:00", "10:00 - 11:30", "11:30 - 13:00", "14:00 - 15:30", "15:30 - 17:00"}, labels(slots))
	assert.Equal(t, []bool{false, false, true, false, false}, bookedFlags(slots))
	assert.Equal(t, models.AvailabilitySummary{Total: 5, Available: 4, Booked: 1}, Summarize(slots))
}

func TestComputeSlots_MatchingByContainment(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name   string
		hh, mm int
		booked []bool
	}{
		{"at slot start", 14, 0, []bool{false, false, false, true, false}},
		{"inside slot", 14, 45, []bool{false, false, false, true, false}},
		{"at slot end belongs to next", 10, 0, []bool{false, true, false, false, false}},
		{"in lunch gap", 13, 15, []bool{false, false, false, false, false}},
		{"before opening", 7, 0, []bool{false, false, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, err := engine.ComputeSlots(wednesday, []models.Booking{bookingAt(wednesday, tt.hh, tt.mm, models.StatusPending)})
			require.NoError(t, err)
			assert.Equal(t, tt.booked, bookedFlags(slots))
		})
	}
}

func TestComputeSlots_SeveralBookingsSameSlot(t *testing.T) {
	engine := newTestEngine(t)
	bookings := []models.Booking{
		bookingAt(wednesday, 8, 30, models.StatusPending),
		bookingAt(wednesday, 9, 0, models.StatusConfirmed),
	}

	slots, err := engine.ComputeSlots(wednesday, bookings)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilitySummary{Total: 5, Available: 4, Booked: 1}, Summarize(slots))
}

func TestComputeSlots_OtherTimezoneInstant(t *testing.T) {
	engine := newTestEngine(t)
	bogota := time.FixedZone("COT", -5*60*60)
	// 06:30 в Боготе = 11:30 UTC
	booking := models.Booking{Date: time.Date(2025, 3, 12, 6, 30, 0, 0, bogota), Status: models.StatusPending}

	slots, err := engine.ComputeSlots(wednesday, []models.Booking{booking})
	require.NoError(t, err)
	assert.True(t, slots[2].IsBooked)
}

func TestComputeSlots_ZeroDate(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.ComputeSlots(time.Time{}, nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestComputeSlots_PastDateAllowed(t *testing.T) {
	engine := newTestEngine(t)
	past := time.Date(2001, 1, 3, 0, 0, 0, 0, time.UTC) // среда

	slots, err := engine.ComputeSlots(past, nil)
	require.NoError(t, err)
	assert.Len(t, slots, 5)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-12")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, d.Weekday())

	for _, bad := range []string{"", "   ", "12/03/2025", "2025-13-01", "2025-02-30", "tomorrow"} {
		_, err := ParseDate(bad)
		require.Error(t, err, bad)

		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "date", ve.Field)
	}
}

func TestSlotAt(t *testing.T) {
	engine := newTestEngine(t)

	slot, err := engine.SlotAt(wednesday, "14:00")
	require.NoError(t, err)
	assert.Equal(t, "14:00 - 15:30", slot.Time)
	assert.Equal(t, time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC), slot.StartsAt)

	_, err = engine.SlotAt(wednesday, "13:00")
	assert.True(t, IsValidationError(err))

	_, err = engine.SlotAt(saturday, "14:00")
	assert.True(t, IsValidationError(err))

	_, err = engine.SlotAt(sunday, "08:30")
	assert.True(t, IsValidationError(err))

	_, err = engine.SlotAt(wednesday, "8:30")
	assert.True(t, IsValidationError(err))
}

func TestNewEngine_InvalidTemplates(t *testing.T) {
	calendar := BusinessCalendar{time.Monday: {Open: 8 * 60, Close: 12 * 60}}

	_, err := NewEngine(calendar, SlotTemplate{{Start: 9 * 60, End: 9 * 60}}, nil, time.UTC)
	assert.Error(t, err, "empty window")

	_, err = NewEngine(calendar, SlotTemplate{{Start: 9 * 60, End: 10 * 60}, {Start: 9*60 + 30, End: 11 * 60}}, nil, time.UTC)
	assert.Error(t, err, "overlap")

	_, err = NewEngine(calendar, SlotTemplate{{Start: 11 * 60, End: 13 * 60}}, nil, time.UTC)
	assert.Error(t, err, "outside hours")

	_, err = NewEngine(BusinessCalendar{time.Monday: {Open: 12 * 60, Close: 8 * 60}}, nil, nil, time.UTC)
	assert.Error(t, err, "close before open")

	engine, err := NewEngine(calendar, SlotTemplate{{Start: 9 * 60, End: 10 * 60}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, engine.Location())
}

func TestNewEngineFromConfig_Errors(t *testing.T) {
	cfg := defaultSchedule()
	cfg.Timezone = "Mars/Olympus"
	_, err := NewEngineFromConfig(cfg)
	assert.Error(t, err)

	cfg = defaultSchedule()
	cfg.SaturdaySlots = append(cfg.SaturdaySlots, config.SlotConfig{Start: "13:00", End: "14:30"})
	_, err = NewEngineFromConfig(cfg)
	assert.Error(t, err)

	cfg = defaultSchedule()
	cfg.WeekdaySlots[0].Start = "8.30"
	_, err = NewEngineFromConfig(cfg)
	assert.Error(t, err)
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("15:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(15*60+30), tod)
	assert.Equal(t, "15:30", tod.String())

	_, err = ParseTimeOfDay("24:00")
	assert.Error(t, err)
}
