package models

import "time"

// AvailabilitySlot is computed per query and never stored.
type AvailabilitySlot struct {
	Time     string    `json:"time"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	IsBooked bool      `json:"isBooked"`
	Duration int       `json:"duration"` // minutes
	StartsAt time.Time `json:"-"`
	EndsAt   time.Time `json:"-"`
}

type AvailabilitySummary struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Booked    int `json:"booked"`
}
