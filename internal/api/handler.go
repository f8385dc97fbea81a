package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/booking"
	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/reminder"
)

// BookingService defines the admission operations the API exposes.
type BookingService interface {
	Availability(ctx context.Context, tenantID int64, date string) ([]db.AvailableSlot, error)
	Commit(ctx context.Context, req booking.CommitRequest) (*booking.CommitResult, error)
	Cancel(ctx context.Context, bookingID int64) error
	ListByLineUser(ctx context.Context, lineUserID string) ([]*db.Booking, error)
}

// CapacityAdmin configures slot limits.
type CapacityAdmin interface {
	UpsertCapacity(ctx context.Context, c *db.SlotCapacity) error
}

// ReminderScanner triggers a reminder pass on demand.
type ReminderScanner interface {
	Scan(ctx context.Context, kind string) (reminder.Stats, error)
}

// LockSweeper removes expired slot locks on demand.
type LockSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// BookingRequest represents the incoming booking body.
type BookingRequest struct {
	TenantID   int64  `json:"tenant_id"`
	Date       string `json:"date"`
	TimeSlot   string `json:"time_slot"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	LineUserID string `json:"line_user_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// BookingResponse is returned after a successful commit.
type BookingResponse struct {
	BookingID  int64  `json:"booking_id"`
	CustomerID int64  `json:"customer_id"`
	Status     string `json:"status"`
}

// CapacityRequest configures one slot limit.
type CapacityRequest struct {
	TenantID    int64  `json:"tenant_id"`
	Scope       string `json:"scope"`
	Date        string `json:"date,omitempty"`
	Weekday     *int   `json:"weekday,omitempty"`
	TimeSlot    string `json:"time_slot"`
	MaxBookings *int   `json:"max_bookings"`
	Active      *bool  `json:"active,omitempty"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger   *zap.Logger
	bookings BookingService
	capacity CapacityAdmin
	scanner  ReminderScanner
	locks    LockSweeper
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, bookings BookingService, capacity CapacityAdmin, scanner ReminderScanner, locks LockSweeper) *Handler {
	return &Handler{
		logger:   logger,
		bookings: bookings,
		capacity: capacity,
		scanner:  scanner,
		locks:    locks,
	}
}

// Routes mounts all v1 routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/availability", h.GetAvailability)
	r.Post("/bookings", h.CreateBooking)
	r.Get("/bookings", h.ListBookings)
	r.Post("/bookings/{id}/cancel", h.CancelBooking)
	r.Put("/capacity", h.UpsertCapacity)
	r.Post("/reminders/scan", h.TriggerReminderScan)
	r.Post("/locks/sweep", h.TriggerLockSweep)
}

// GetAvailability handles GET /v1/availability?tenant_id=1&date=2026-09-02
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.tenantIDParam(w, r)
	if !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing date", "date query parameter is required")
		return
	}

	slots, err := h.bookings.Availability(ctx, tenantID, date)
	if err != nil {
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid parameter", verr.Error())
			return
		}
		h.logger.Error("failed to compute availability",
			zap.Error(err),
			zap.Int64("tenant_id", tenantID),
			zap.String("date", date),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute availability", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  date,
		"slots": slots,
	})
}

// CreateBooking handles POST /v1/bookings. Contention (slot held, slot
// full) maps to 409 so clients can show "this slot was just taken" and
// refresh availability.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tenant_id", "tenant_id is required")
		return
	}

	result, err := h.bookings.Commit(ctx, booking.CommitRequest{
		TenantID:   req.TenantID,
		Date:       req.Date,
		TimeSlot:   req.TimeSlot,
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		LineUserID: req.LineUserID,
		Notes:      req.Notes,
		SessionID:  req.SessionID,
	})
	if err != nil {
		var verr *booking.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid booking request", verr.Error())
		case errors.Is(err, booking.ErrSlotHeld):
			h.writeError(w, http.StatusConflict, "slot_held", "Time slot was just taken",
				"Another customer is completing a booking for this slot. Please retry or pick another slot.")
		case errors.Is(err, booking.ErrSlotFull):
			h.writeError(w, http.StatusConflict, "slot_full", "Time slot is fully booked",
				"This slot has no remaining capacity. Please pick another slot.")
		default:
			h.logger.Error("failed to commit booking",
				zap.Error(err),
				zap.Int64("tenant_id", req.TenantID),
				zap.String("date", req.Date),
				zap.String("time_slot", req.TimeSlot),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create booking", "")
		}
		return
	}

	h.logger.Info("booking created",
		zap.Int64("booking_id", result.BookingID),
		zap.Int64("tenant_id", req.TenantID),
		zap.String("date", req.Date),
		zap.String("time_slot", req.TimeSlot),
	)

	writeJSON(w, http.StatusCreated, BookingResponse{
		BookingID:  result.BookingID,
		CustomerID: result.CustomerID,
		Status:     db.BookingPending,
	})
}

// ListBookings handles GET /v1/bookings?line_user_id=U123
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lineUserID := r.URL.Query().Get("line_user_id")
	if lineUserID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing line_user_id", "line_user_id query parameter is required")
		return
	}

	bookings, err := h.bookings.ListByLineUser(ctx, lineUserID)
	if err != nil {
		h.logger.Error("failed to list bookings",
			zap.Error(err),
			zap.String("line_user_id", lineUserID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list bookings", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  bookings,
		"count": len(bookings),
	})
}

// CancelBooking handles POST /v1/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid booking ID", "ID must be a positive integer")
		return
	}

	if err := h.bookings.Cancel(ctx, id); err != nil {
		if errors.Is(err, db.ErrBookingNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Booking not found", "")
			return
		}
		h.logger.Error("failed to cancel booking",
			zap.Error(err),
			zap.Int64("booking_id", id),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to cancel booking", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     idStr,
		"status": db.BookingCancelled,
	})
}

// UpsertCapacity handles PUT /v1/capacity
func (h *Handler) UpsertCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID <= 0 || req.TimeSlot == "" || req.MaxBookings == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"tenant_id, time_slot, and max_bookings are required")
		return
	}
	if *req.MaxBookings < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid max_bookings", "max_bookings must be >= 0")
		return
	}

	switch req.Scope {
	case db.ScopeDate:
		if req.Date == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing date", "date is required for scope=date")
			return
		}
	case db.ScopeWeekday:
		if req.Weekday == nil || *req.Weekday < 0 || *req.Weekday > 6 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid weekday", "weekday must be 0 (Sunday) through 6 (Saturday)")
			return
		}
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid scope", "scope must be date or weekday")
		return
	}

	capacity := &db.SlotCapacity{
		TenantID:    req.TenantID,
		Scope:       req.Scope,
		Date:        req.Date,
		TimeSlot:    req.TimeSlot,
		MaxBookings: *req.MaxBookings,
		Active:      true,
	}
	if req.Weekday != nil {
		capacity.Weekday = *req.Weekday
	}
	if req.Active != nil {
		capacity.Active = *req.Active
	}

	if err := h.capacity.UpsertCapacity(ctx, capacity); err != nil {
		h.logger.Error("failed to upsert slot limit",
			zap.Error(err),
			zap.Int64("tenant_id", req.TenantID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to configure slot limit", "")
		return
	}

	writeJSON(w, http.StatusOK, capacity)
}

// TriggerReminderScan handles POST /v1/reminders/scan. With no body or an
// empty kind it runs both the 24h and 2h passes.
func (h *Handler) TriggerReminderScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Kind string `json:"kind"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
	}

	kinds := []string{db.Reminder24h, db.Reminder2h}
	if req.Kind != "" {
		kinds = []string{req.Kind}
	}

	results := make(map[string]reminder.Stats, len(kinds))
	for _, kind := range kinds {
		stats, err := h.scanner.Scan(ctx, kind)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Scan failed", err.Error())
			return
		}
		results[kind] = stats
	}

	writeJSON(w, http.StatusOK, results)
}

// TriggerLockSweep handles POST /v1/locks/sweep
func (h *Handler) TriggerLockSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.locks.SweepExpired(r.Context())
	if err != nil {
		h.logger.Error("lock sweep failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to sweep locks", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"swept": swept})
}

func (h *Handler) tenantIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("tenant_id")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tenant_id", "tenant_id query parameter is required")
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a positive integer")
		return 0, false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
