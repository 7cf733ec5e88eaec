package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"carwash/internal/catalog"
	"carwash/internal/config"
	"carwash/internal/export"
	"carwash/internal/models"
	"carwash/internal/service"

	"github.com/rs/zerolog"
)

const (
	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
)

// BookingService is the part of service.BookingService the HTTP layer uses.
type BookingService interface {
	GetSlots(ctx context.Context, date string) (*service.DaySlots, error)
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, id, version int64) (*models.Booking, error)
	CancelBooking(ctx context.Context, id, version int64) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, from, to string) (*service.BookingRange, error)
}

// Pinger reports storage readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// FailedTasks lists outbox tasks that ran out of retries.
type FailedTasks interface {
	GetFailedOutboxTasks(ctx context.Context) ([]models.OutboxTask, error)
}

type Dependencies struct {
	Bookings BookingService
	Catalog  *catalog.Catalog
	Exporter *export.Exporter
	Storage  Pinger
	Outbox   FailedTasks
}

// HTTPServer serves the public booking API and the staff endpoints.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Dependencies
	auth   *HTTPAuth
	logger *zerolog.Logger
	server *http.Server
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewHTTPAuth(cfg),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	mux.HandleFunc("GET /api/v1/catalog", srv.handleCatalog)
	mux.HandleFunc("GET /api/v1/slots", srv.handleSlots)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)

	mux.Handle("GET /api/v1/bookings", srv.auth.Require(permReadBookings, http.HandlerFunc(srv.handleListBookings)))
	mux.Handle("GET /api/v1/bookings/export", srv.auth.Require(permReadBookings, http.HandlerFunc(srv.handleExport)))
	mux.Handle("GET /api/v1/bookings/{id}", srv.auth.Require(permReadBookings, http.HandlerFunc(srv.handleGetBooking)))
	mux.Handle("POST /api/v1/bookings/{id}/confirm", srv.auth.Require(permWriteBookings, http.HandlerFunc(srv.handleConfirm)))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", srv.auth.Require(permWriteBookings, http.HandlerFunc(srv.handleCancel)))
	if deps.Outbox != nil {
		mux.Handle("GET /api/v1/outbox/failed", srv.auth.Require(permReadBookings, http.HandlerFunc(srv.handleFailedOutbox)))
	}

	var handler http.Handler = mux
	handler = srv.auth.RateLimit(handler)
	handler = corsMiddleware(cfg.CORS, handler)
	handler = loggingMiddleware(logger, handler)
	handler = recoverMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler exposes the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
