package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"carwash/internal/models"
	"carwash/internal/schedule"

	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Reservas"
	agendaSheet   = "Agenda"

	fillFree      = "#FFFFFF"
	fillPending   = "#FFEB9C"
	fillConfirmed = "#C6EFCE"
	fillClosed    = "#D9D9D9"
	fillHeader    = "#DDEBF7"
)

var weekdayNames = [...]string{"Dom", "Lun", "Mar", "Mié", "Jue", "Vie", "Sáb"}

// ServiceNames resolves service codes for display.
type ServiceNames interface {
	Service(code string) (models.Service, error)
}

// Exporter renders bookings of a date range into an xlsx workbook with a
// flat list sheet and a date × slot agenda.
type Exporter struct {
	engine   *schedule.Engine
	services ServiceNames
}

func NewExporter(engine *schedule.Engine, services ServiceNames) *Exporter {
	return &Exporter{engine: engine, services: services}
}

// FileName returns the download name for a range.
func FileName(from, to time.Time) string {
	return fmt.Sprintf("reservas_%s_a_%s.xlsx", from.Format(models.DateLayout), to.Format(models.DateLayout))
}

// Write builds the workbook and writes it to w.
func (e *Exporter) Write(w io.Writer, from, to time.Time, bookings []models.Booking) error {
	if to.Before(from) {
		return fmt.Errorf("invalid range: %s is before %s", to.Format(models.DateLayout), from.Format(models.DateLayout))
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := e.writeBookings(f, bookings); err != nil {
		return err
	}
	if _, err := f.NewSheet(agendaSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := e.writeAgenda(f, from, to, bookings); err != nil {
		return err
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func (e *Exporter) writeBookings(f *excelize.File, bookings []models.Booking) error {
	headers := []string{
		"ID", "Fecha", "Hora", "Cliente", "Teléfono", "Correo", "Placa", "Vehículo", "Servicio", "Valor", "Estado", "Comentario", "Creada",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, header)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{fillHeader}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(bookingsSheet, "A1", last, headerStyle)
	}

	for i := range bookings {
		b := &bookings[i]
		row := []interface{}{
			b.ID,
			b.DateKey(),
			b.StartKey(),
			b.ClientName,
			b.ClientPhone,
			b.ClientEmail,
			b.VehiclePlate,
			b.VehicleType,
			e.serviceName(b.ServiceType),
			b.Price,
			b.Status,
			b.Comment,
			b.CreatedAt.Format("02.01.2006 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(bookingsSheet, cell, &row); err != nil {
			return fmt.Errorf("error writing booking %d: %w", b.ID, err)
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "C", 12)
	_ = f.SetColWidth(bookingsSheet, "D", "I", 20)
	_ = f.SetColWidth(bookingsSheet, "J", "K", 12)
	_ = f.SetColWidth(bookingsSheet, "L", "M", 25)
	return nil
}

func (e *Exporter) writeAgenda(f *excelize.File, from, to time.Time, bookings []models.Booking) error {
	byDate := make(map[string][]models.Booking)
	for _, b := range bookings {
		if b.IsActive() {
			byDate[b.DateKey()] = append(byDate[b.DateKey()], b)
		}
	}

	_ = f.SetCellValue(agendaSheet, "A1", fmt.Sprintf("Periodo: %s - %s", from.Format("02.01.2006"), to.Format("02.01.2006")))

	// Строки: все времена начала, встречающиеся в периоде
	type dayColumn struct {
		date  time.Time
		slots []models.AvailabilitySlot
	}
	var days []dayColumn
	rowsByStart := make(map[string]int)
	var starts []string

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		slots, err := e.engine.ComputeSlots(d, byDate[d.Format(models.DateLayout)])
		if err != nil {
			return fmt.Errorf("compute slots for %s: %w", d.Format(models.DateLayout), err)
		}
		days = append(days, dayColumn{date: d, slots: slots})
		for _, s := range slots {
			if _, ok := rowsByStart[s.Start]; !ok {
				rowsByStart[s.Start] = 0
				starts = append(starts, s.Start)
			}
		}
	}
	sort.Strings(starts)
	for i, start := range starts {
		row := i + 3
		rowsByStart[start] = row
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(agendaSheet, cell, start)
	}

	styles, err := newFillStyles(f)
	if err != nil {
		return err
	}

	for i, day := range days {
		col := i + 2
		header, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(agendaSheet, header, weekdayNames[day.date.Weekday()]+" "+day.date.Format("02.01"))
		_ = f.SetCellStyle(agendaSheet, header, header, styles[fillHeader])

		if len(day.slots) == 0 {
			for _, row := range rowsByStart {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(agendaSheet, cell, "Cerrado")
				_ = f.SetCellStyle(agendaSheet, cell, cell, styles[fillClosed])
			}
			continue
		}

		booked := make(map[string]models.Booking)
		for _, b := range byDate[day.date.Format(models.DateLayout)] {
			booked[b.StartKey()] = b
		}
		for _, slot := range day.slots {
			cell, _ := excelize.CoordinatesToCellName(col, rowsByStart[slot.Start])
			b, ok := booked[slot.Start]
			if !slot.IsBooked || !ok {
				_ = f.SetCellValue(agendaSheet, cell, "Libre")
				_ = f.SetCellStyle(agendaSheet, cell, cell, styles[fillFree])
				continue
			}
			_ = f.SetCellValue(agendaSheet, cell, fmt.Sprintf("%s\n%s\n%s", b.ClientName, b.VehiclePlate, e.serviceName(b.ServiceType)))
			fill := fillPending
			if b.Status == models.StatusConfirmed {
				fill = fillConfirmed
			}
			_ = f.SetCellStyle(agendaSheet, cell, cell, styles[fill])
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(days) + 1)
	_ = f.MergeCell(agendaSheet, "A1", lastCol+"1")
	_ = f.SetColWidth(agendaSheet, "A", "A", 10)
	_ = f.SetColWidth(agendaSheet, "B", lastCol, 22)

	title, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(agendaSheet, "A1", "A1", title)
	return nil
}

func newFillStyles(f *excelize.File) (map[string]int, error) {
	styles := make(map[string]int)
	for _, color := range []string{fillFree, fillPending, fillConfirmed, fillClosed, fillHeader} {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{
				Horizontal: "left",
				Vertical:   "top",
				WrapText:   true,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating style: %w", err)
		}
		styles[color] = style
	}
	return styles, nil
}

func (e *Exporter) serviceName(code string) string {
	if e.services == nil {
		return code
	}
	svc, err := e.services.Service(code)
	if err != nil {
		return code
	}
	return svc.Name
}
