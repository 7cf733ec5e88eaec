package notify

import (
	"fmt"
	"strings"
	"time"

	"carwash/internal/models"
)

// BookingDetails is what every booking email shows.
type BookingDetails struct {
	ShopName     string
	ClientName   string
	ServiceName  string
	VehiclePlate string
	Start        time.Time
	Duration     time.Duration
	Price        int64
}

// DetailsFor builds the email details of a booking.
func DetailsFor(shopName, serviceName string, b *models.Booking, slot time.Duration) BookingDetails {
	if serviceName == "" {
		serviceName = b.ServiceType
	}
	return BookingDetails{
		ShopName:     shopName,
		ClientName:   b.ClientName,
		ServiceName:  serviceName,
		VehiclePlate: b.VehiclePlate,
		Start:        b.Date,
		Duration:     slot,
		Price:        b.Price,
	}
}

// FormatPrice renders whole pesos with dot thousands separators: 25000 -> "$25.000".
func FormatPrice(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return "$" + sign + b.String()
}

func (d BookingDetails) lines() []string {
	end := d.Start.Add(d.Duration)
	return []string{
		fmt.Sprintf("Servicio: %s", d.ServiceName),
		fmt.Sprintf("Placa: %s", d.VehiclePlate),
		fmt.Sprintf("Fecha: %s", d.Start.Format(models.DateLayout)),
		fmt.Sprintf("Horario: %s - %s", d.Start.Format(models.TimeLayout), end.Format(models.TimeLayout)),
		fmt.Sprintf("Valor: %s", FormatPrice(d.Price)),
	}
}

func (d BookingDetails) shop() string {
	if s := strings.TrimSpace(d.ShopName); s != "" {
		return s
	}
	return "Lavadero"
}

func build(to, subject, intro string, d BookingDetails, outro string) Message {
	body := []string{fmt.Sprintf("Hola %s,", d.ClientName), "", intro, ""}
	body = append(body, d.lines()...)
	if outro != "" {
		body = append(body, "", outro)
	}
	body = append(body, "", d.shop())
	return Message{To: to, Subject: fmt.Sprintf("%s - %s", subject, d.shop()), Body: strings.Join(body, "\n")}
}

// BookingReceived is sent right after a booking is created (pending).
func BookingReceived(to string, d BookingDetails) Message {
	return build(to, "Reserva recibida", "Recibimos tu reserva. Te avisaremos cuando sea confirmada.", d, "")
}

func BookingConfirmed(to string, d BookingDetails) Message {
	return build(to, "Reserva confirmada", "Tu reserva está confirmada.", d, "Por favor llega 10 minutos antes.")
}

func BookingCancelled(to string, d BookingDetails) Message {
	return build(to, "Reserva cancelada", "Tu reserva fue cancelada y el horario quedó libre.", d, "")
}

func BookingReminder(to string, d BookingDetails) Message {
	return build(to, "Recordatorio de reserva", "Te recordamos tu cita de mañana.", d, "")
}

// ForStatus picks the confirmation message matching the booking status.
func ForStatus(to, status string, d BookingDetails) Message {
	switch status {
	case models.StatusConfirmed:
		return BookingConfirmed(to, d)
	case models.StatusCancelled:
		return BookingCancelled(to, d)
	default:
		return BookingReceived(to, d)
	}
}
