package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"carwash/internal/database"
	"carwash/internal/export"
	"carwash/internal/models"
	"carwash/internal/schedule"
	"carwash/internal/service"
)

const maxBodyBytes = 64 << 10

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage != nil {
		if err := s.deps.Storage.PingContext(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services":      s.deps.Catalog.Services(),
		"vehicle_types": s.deps.Catalog.VehicleTypes(),
	})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	day, err := s.deps.Bookings.GetSlots(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.deps.Bookings.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Bookings.ListBookings(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     res.From.Format(models.DateLayout),
		"to":       res.To.Format(models.DateLayout),
		"bookings": res.Bookings,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Bookings.ListBookings(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(res.From, res.To)))
	if err := s.deps.Exporter.Write(w, res.From, res.To, res.Bookings); err != nil {
		// заголовки могли уже уйти клиенту
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("Export failed")
	}
}

func (s *HTTPServer) handleFailedOutbox(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Outbox.GetFailedOutboxTasks(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("List failed outbox tasks")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tasks == nil {
		tasks = []models.OutboxTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deps.Bookings.ConfirmBooking)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deps.Bookings.CancelBooking)
}

type transitionRequest struct {
	Version int64 `json:"version"`
}

func (s *HTTPServer) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id, version int64) (*models.Booking, error),
) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	booking, err := apply(r.Context(), id, req.Version)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var vErr *schedule.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "booking not found"
	case errors.Is(err, database.ErrSlotTaken):
		return http.StatusConflict, "slot is already booked"
	case errors.Is(err, database.ErrConcurrentModification):
		return http.StatusConflict, "booking was modified, reload and retry"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "too many booking requests, try again later"
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": strings.TrimSpace(message)})
}
