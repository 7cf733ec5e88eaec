package export

import (
	"bytes"
	"testing"
	"time"

	"carwash/internal/catalog"
	"carwash/internal/config"
	"carwash/internal/models"
	"carwash/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	cfg := config.DefaultSchedule()
	cfg.Timezone = "UTC"
	engine, err := schedule.NewEngineFromConfig(cfg)
	require.NoError(t, err)
	cat, err := catalog.New(config.DefaultCatalog())
	require.NoError(t, err)
	return NewExporter(engine, cat)
}

func booking(id int64, day, hour, minute int, status string) models.Booking {
	return models.Booking{
		ID:           id,
		ClientName:   "Cliente",
		ClientPhone:  "+573001234567",
		Date:         time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC),
		VehicleType:  "car",
		VehiclePlate: "ABC123",
		ServiceType:  "full",
		Price:        40000,
		Status:       status,
		CreatedAt:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func openWorkbook(t *testing.T, buf *bytes.Buffer) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExporter_Write(t *testing.T) {
	e := newTestExporter(t)
	// среда 12, суббота 15, воскресенье 16
	from := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)
	bookings := []models.Booking{
		booking(1, 12, 8, 30, models.StatusConfirmed),
		booking(2, 12, 10, 0, models.StatusPending),
		booking(3, 12, 14, 0, models.StatusCancelled),
		booking(4, 15, 11, 30, models.StatusPending),
	}

	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf, from, to, bookings))

	f := openWorkbook(t, &buf)
	assert.Equal(t, []string{bookingsSheet, agendaSheet}, f.GetSheetList())

	t.Run("BookingsSheet", func(t *testing.T) {
		rows, err := f.GetRows(bookingsSheet)
		require.NoError(t, err)
		require.Len(t, rows, 5)
		assert.Equal(t, "ID", rows[0][0])
		assert.Equal(t, "2025-03-12", rows[1][1])
		assert.Equal(t, "08:30", rows[1][2])
		assert.Equal(t, "Lavado completo", rows[1][8])
		assert.Equal(t, models.StatusCancelled, rows[3][10])
	})

	t.Run("Agenda", func(t *testing.T) {
		rows, err := f.GetRows(agendaSheet)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rows), 7)

		// строки 3..7 это 08:30, 10:00, 11:30, 14:00, 15:30
		assert.Equal(t, "08:30", rows[2][0])
		assert.Equal(t, "15:30", rows[6][0])

		wed, err := f.GetCellValue(agendaSheet, "B3")
		require.NoError(t, err)
		assert.Contains(t, wed, "ABC123")

		cancelled, _ := f.GetCellValue(agendaSheet, "B6")
		assert.Equal(t, "Libre", cancelled)

		sat, _ := f.GetCellValue(agendaSheet, "E5")
		assert.Contains(t, sat, "Cliente")
		satAfternoon, _ := f.GetCellValue(agendaSheet, "E6")
		assert.Empty(t, satAfternoon)

		sun, _ := f.GetCellValue(agendaSheet, "F3")
		assert.Equal(t, "Cerrado", sun)
	})
}

func TestExporter_InvalidRange(t *testing.T) {
	e := newTestExporter(t)
	from := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	assert.Error(t, e.Write(&buf, from, from.AddDate(0, 0, -1), nil))
	assert.Zero(t, buf.Len())
}

func TestExporter_EmptyRange(t *testing.T) {
	e := newTestExporter(t)
	day := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf, day, day, nil))

	f := openWorkbook(t, &buf)
	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	free, _ := f.GetCellValue(agendaSheet, "B3")
	assert.Equal(t, "Libre", free)
}

func TestFileName(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "reservas_2025-03-01_a_2025-03-31.xlsx", FileName(from, to))
}
