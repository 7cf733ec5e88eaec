package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"carwash/internal/catalog"
	"carwash/internal/database"
	"carwash/internal/domain"
	"carwash/internal/events"
	"carwash/internal/metrics"
	"carwash/internal/models"
	"carwash/internal/schedule"
	"carwash/internal/worker"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRateLimited       = errors.New("too many booking requests")
	ErrUnavailable       = errors.New("storage unavailable")
)

const (
	maxNameLength    = 100
	maxCommentLength = 500
)

// DaySlots is the availability of one calendar date.
type DaySlots struct {
	Date    string                     `json:"date"`
	Closed  bool                       `json:"closed"`
	Slots   []models.AvailabilitySlot  `json:"slots"`
	Summary models.AvailabilitySummary `json:"summary"`
}

// CreateBookingRequest is a booking form as submitted by a client.
type CreateBookingRequest struct {
	ClientName   string `json:"client_name"`
	ClientPhone  string `json:"client_phone"`
	ClientEmail  string `json:"client_email"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	VehicleType  string `json:"vehicle_type"`
	VehiclePlate string `json:"vehicle_plate"`
	ServiceType  string `json:"service_type"`
	Comment      string `json:"comment"`
}

// BookingRange is the result of a date-range listing.
type BookingRange struct {
	From     time.Time
	To       time.Time
	Bookings []models.Booking
}

type Options struct {
	MaxBookingDays    int
	MaxRangeDays      int
	RateLimitBookings int
	RateLimitWindow   time.Duration
	DefaultRegion     string
}

type BookingService struct {
	repo     domain.BookingRepository
	engine   *schedule.Engine
	catalog  *catalog.Catalog
	limiter  domain.RateLimiter
	eventBus domain.EventPublisher
	outbox   domain.TaskEnqueuer
	opts     Options
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewBookingService(
	repo domain.BookingRepository,
	engine *schedule.Engine,
	cat *catalog.Catalog,
	limiter domain.RateLimiter,
	eventBus domain.EventPublisher,
	outbox domain.TaskEnqueuer,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	if opts.MaxBookingDays <= 0 {
		opts.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = 92
	}
	if opts.RateLimitBookings <= 0 {
		opts.RateLimitBookings = models.RateLimitBookings
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = models.RateLimitWindow * time.Second
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "CO"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		repo:     repo,
		engine:   engine,
		catalog:  cat,
		limiter:  limiter,
		eventBus: eventBus,
		outbox:   outbox,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// GetSlots returns the availability of the YYYY-MM-DD date. Closed days
// yield an empty slot list without touching storage.
func (s *BookingService) GetSlots(ctx context.Context, dateStr string) (*DaySlots, error) {
	date, err := s.engine.ParseDate(dateStr)
	if err != nil {
		metrics.IncSlotQuery("invalid")
		return nil, err
	}

	day := &DaySlots{Date: date.Format(models.DateLayout), Slots: []models.AvailabilitySlot{}}
	if !s.engine.IsOpen(date) {
		day.Closed = true
		metrics.IncSlotQuery("closed")
		return day, nil
	}

	bookings, err := s.repo.FetchActiveBookings(ctx, date)
	if err != nil {
		metrics.IncSlotQuery("error")
		return nil, storageErr("fetch bookings", err)
	}

	slots, err := s.engine.ComputeSlots(date, bookings)
	if err != nil {
		return nil, err
	}
	day.Slots = slots
	day.Summary = schedule.Summarize(slots)
	metrics.IncSlotQuery("ok")
	return day, nil
}

// CreateBooking validates the request, prices it from the catalog and stores it
// as pending. A taken slot is reported as database.ErrSlotTaken.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	booking, err := s.buildBooking(req)
	if err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, booking.ClientPhone); err != nil {
		return nil, err
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			s.logger.Info().Str("date", booking.DateKey()).Str("time", booking.StartKey()).Msg("Slot already taken")
		}
		return nil, storageErr("create booking", err)
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("date", booking.DateKey()).
		Str("time", booking.StartKey()).
		Str("service", booking.ServiceType).
		Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, booking, "client")
	s.enqueue(ctx, booking, worker.TaskEmailStatus, worker.TaskSheetsUpsert)
	return booking, nil
}

func (s *BookingService) buildBooking(req CreateBookingRequest) (*models.Booking, error) {
	name := strings.TrimSpace(req.ClientName)
	if name == "" {
		return nil, schedule.NewValidationError("client_name", "name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return nil, schedule.NewValidationError("client_name", "name is longer than %d characters", maxNameLength)
	}

	phone, err := s.normalizePhone(req.ClientPhone)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.ClientEmail)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return nil, schedule.NewValidationError("client_email", "invalid email %q", email)
		}
		email = addr.Address
	}

	plate, err := normalizePlate(req.VehiclePlate)
	if err != nil {
		return nil, err
	}

	comment := strings.TrimSpace(req.Comment)
	if len([]rune(comment)) > maxCommentLength {
		return nil, schedule.NewValidationError("comment", "comment is longer than %d characters", maxCommentLength)
	}

	if _, err := s.catalog.VehicleType(req.VehicleType); err != nil {
		return nil, schedule.NewValidationError("vehicle_type", "%v", err)
	}
	if _, err := s.catalog.Service(req.ServiceType); err != nil {
		return nil, schedule.NewValidationError("service_type", "%v", err)
	}
	price, err := s.catalog.Price(req.ServiceType, req.VehicleType)
	if err != nil {
		return nil, schedule.NewValidationError("service_type", "%v", err)
	}

	date, err := s.engine.ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	slot, err := s.engine.SlotAt(date, strings.TrimSpace(req.Time))
	if err != nil {
		return nil, err
	}
	if err := s.validateWindow(slot); err != nil {
		return nil, err
	}

	return &models.Booking{
		ClientName:   name,
		ClientPhone:  phone,
		ClientEmail:  email,
		Date:         slot.StartsAt,
		VehicleType:  req.VehicleType,
		VehiclePlate: plate,
		ServiceType:  req.ServiceType,
		Price:        price,
		Status:       models.StatusPending,
		Comment:      comment,
	}, nil
}

// validateWindow rejects slots that already started or lie beyond the booking horizon.
func (s *BookingService) validateWindow(slot models.AvailabilitySlot) error {
	now := s.now().In(s.engine.Location())
	if !slot.StartsAt.After(now) {
		return schedule.NewValidationError("time", "slot %s has already started", slot.Time)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	last := today.AddDate(0, 0, s.opts.MaxBookingDays+1)
	if !slot.StartsAt.Before(last) {
		return schedule.NewValidationError("date", "bookings are open up to %d days ahead", s.opts.MaxBookingDays)
	}
	return nil
}

func (s *BookingService) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", schedule.NewValidationError("client_phone", "phone is required")
	}
	num, err := phonenumbers.Parse(raw, s.opts.DefaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", schedule.NewValidationError("client_phone", "invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// normalizePlate upper-cases the plate and drops spaces and dashes: "abc-123" -> "ABC123".
func normalizePlate(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		switch {
		case r == ' ' || r == '-':
			continue
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			return "", schedule.NewValidationError("vehicle_plate", "invalid plate %q", raw)
		}
	}
	plate := b.String()
	if len(plate) < 5 || len(plate) > 8 {
		return "", schedule.NewValidationError("vehicle_plate", "invalid plate %q", raw)
	}
	return plate, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, phone string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.CheckRateLimit(ctx, "booking:"+phone, s.opts.RateLimitBookings, s.opts.RateLimitWindow)
	if err != nil {
		// лимитер недоступен - не блокируем клиента
		s.logger.Warn().Err(err).Msg("Rate limiter failed")
		return nil
	}
	if !allowed {
		metrics.IncRateLimited("booking")
		return ErrRateLimited
	}
	return nil
}

// ConfirmBooking moves a pending booking to confirmed. A non-zero version must
// match the stored one.
func (s *BookingService) ConfirmBooking(ctx context.Context, id, version int64) (*models.Booking, error) {
	return s.transition(ctx, id, version, models.StatusConfirmed, events.EventBookingConfirmed)
}

// CancelBooking cancels a pending or confirmed booking and frees its slot.
func (s *BookingService) CancelBooking(ctx context.Context, id, version int64) (*models.Booking, error) {
	return s.transition(ctx, id, version, models.StatusCancelled, events.EventBookingCancelled)
}

func (s *BookingService) transition(ctx context.Context, id, version int64, status, eventType string) (*models.Booking, error) {
	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storageErr("get booking", err)
	}
	if version != 0 && current.Version != version {
		return nil, database.ErrConcurrentModification
	}
	if !models.CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, current.Version, status); err != nil {
		return nil, storageErr("update booking status", err)
	}

	updated, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storageErr("reload booking", err)
	}

	s.logger.Info().Int64("booking_id", id).Str("from", current.Status).Str("to", status).Msg("Booking status changed")
	s.publishEvent(eventType, updated, "staff")
	s.enqueue(ctx, updated, worker.TaskEmailStatus, worker.TaskSheetsStatus)
	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storageErr("get booking", err)
	}
	return b, nil
}

// ListBookings returns bookings of any status between two YYYY-MM-DD dates inclusive.
func (s *BookingService) ListBookings(ctx context.Context, fromStr, toStr string) (*BookingRange, error) {
	from, err := s.engine.ParseDate(fromStr)
	if err != nil {
		return nil, err
	}
	to, err := s.engine.ParseDate(toStr)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, schedule.NewValidationError("to", "end date %s is before start date %s", toStr, fromStr)
	}
	if to.Sub(from) > time.Duration(s.opts.MaxRangeDays)*24*time.Hour {
		return nil, schedule.NewValidationError("to", "range is longer than %d days", s.opts.MaxRangeDays)
	}

	bookings, err := s.repo.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return nil, storageErr("list bookings", err)
	}
	return &BookingRange{From: from, To: to, Bookings: bookings}, nil
}

// EnqueueReminders queues reminder emails for the active bookings of date.
func (s *BookingService) EnqueueReminders(ctx context.Context, date time.Time) (int, error) {
	bookings, err := s.repo.FetchActiveBookings(ctx, date)
	if err != nil {
		return 0, storageErr("fetch bookings", err)
	}

	queued := 0
	for i := range bookings {
		b := &bookings[i]
		if b.ClientEmail == "" {
			continue
		}
		if s.outbox == nil {
			break
		}
		if err := s.outbox.EnqueueTask(ctx, worker.TaskEmailReminder, b); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("Failed to enqueue reminder")
			continue
		}
		queued++
	}
	return queued, nil
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, changedBy string) {
	metrics.IncBookingEvent(eventType)
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    b.ID,
		ClientName:   b.ClientName,
		ClientPhone:  b.ClientPhone,
		ServiceType:  b.ServiceType,
		VehicleType:  b.VehicleType,
		VehiclePlate: b.VehiclePlate,
		Status:       b.Status,
		Date:         b.Date,
		Price:        b.Price,
		ChangedBy:    changedBy,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueue(ctx context.Context, b *models.Booking, taskTypes ...string) {
	if s.outbox == nil {
		return
	}
	for _, taskType := range taskTypes {
		if err := s.outbox.EnqueueTask(ctx, taskType, b); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("outbox enqueue error")
		}
	}
}

// storageErr passes domain errors through and marks the rest as a storage outage.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, database.ErrSlotTaken),
		errors.Is(err, database.ErrConcurrentModification),
		errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
