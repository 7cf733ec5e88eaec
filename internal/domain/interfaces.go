package domain

import (
	"context"
	"time"

	"carwash/internal/models"
)

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	FetchActiveBookings(ctx context.Context, date time.Time) ([]models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error
}

type OutboxRepository interface {
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error
	GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error)
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	PurgeCompletedOutboxTasks(ctx context.Context, before time.Time) (int64, error)
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
	ReplaceBookingsSheet(ctx context.Context, bookings []models.Booking) error
}

// TaskEnqueuer accepts side-effect tasks produced by booking changes.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}
