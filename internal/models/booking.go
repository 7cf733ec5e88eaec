package models

import "time"

type Booking struct {
	ID           int64     `json:"id"`
	ClientName   string    `json:"client_name"`
	ClientPhone  string    `json:"client_phone"`
	ClientEmail  string    `json:"client_email,omitempty"`
	Date         time.Time `json:"date"` // calendar date + slot start time
	VehicleType  string    `json:"vehicle_type"`
	VehiclePlate string    `json:"vehicle_plate"`
	ServiceType  string    `json:"service_type"`
	Price        int64     `json:"price"`
	Status       string    `json:"status"` // pending, confirmed, cancelled
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// IsActive reports whether the booking still occupies its slot.
func (b *Booking) IsActive() bool {
	return b.Status != StatusCancelled
}

// DateKey returns the calendar date of the booking as YYYY-MM-DD.
func (b *Booking) DateKey() string {
	return b.Date.Format(DateLayout)
}

// StartKey returns the slot start of the booking as HH:MM.
func (b *Booking) StartKey() string {
	return b.Date.Format(TimeLayout)
}
