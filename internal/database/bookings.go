package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carwash/internal/models"

	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, client_name, client_phone, client_email, date, start_time,
	vehicle_type, vehicle_plate, service_type, price, status, comment,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b         models.Booking
		dateStr   string
		startTime string
	)
	err := row.Scan(
		&b.ID, &b.ClientName, &b.ClientPhone, &b.ClientEmail, &dateStr, &startTime,
		&b.VehicleType, &b.VehiclePlate, &b.ServiceType, &b.Price, &b.Status, &b.Comment,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Date, err = time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, dateStr+" "+startTime, db.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s %s: %w", dateStr, startTime, err)
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateBooking inserts a booking. A second active booking for the same
// date and start time is rejected by the unique slot index with ErrSlotTaken.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				client_name, client_phone, client_email, date, start_time,
				vehicle_type, vehicle_plate, service_type, price, status, comment,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if booking.Status == "" {
		booking.Status = models.StatusPending
	}

	local := booking.Date.In(db.loc)
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		booking.ClientName,
		booking.ClientPhone,
		booking.ClientEmail,
		local.Format(models.DateLayout),
		local.Format(models.TimeLayout),
		booking.VehicleType,
		booking.VehiclePlate,
		booking.ServiceType,
		booking.Price,
		booking.Status,
		booking.Comment,
		now,
		now,
		1,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

	b, err := db.scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// FetchActiveBookings returns non-cancelled bookings on the calendar date of date.
func (db *DB) FetchActiveBookings(ctx context.Context, date time.Time) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date = ? AND status != ?
              ORDER BY start_time`

	rows, err := db.QueryContext(ctx, query, date.Format(models.DateLayout), models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active bookings: %w", err)
	}
	return db.collectBookings(rows)
}

// GetBookingsByDateRange returns all bookings (any status) with from <= date <= to.
func (db *DB) GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date BETWEEN ? AND ?
              ORDER BY date, start_time, created_at`

	rows, err := db.QueryContext(ctx, query, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	return db.collectBookings(rows)
}

func (db *DB) collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	defer rows.Close()

	bookings := make([]models.Booking, 0)
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// UpdateBookingStatusWithVersion applies the status only when the stored version
// still equals fromVersion, then bumps the version.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, fromVersion)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetBooking(ctx, id); err != nil {
			return err
		}
		return ErrConcurrentModification
	}
	return nil
}
