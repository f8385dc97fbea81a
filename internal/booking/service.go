package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/notify"
)

// BookingStore is the persistence surface the admission service needs.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *db.Booking) error
	GetBooking(ctx context.Context, id int64) (*db.Booking, error)
	CountActiveBookings(ctx context.Context, tenantID int64, date, timeSlot string) (int, error)
	UpdateBookingStatus(ctx context.Context, id int64, status string) error
	ListBookingsByCustomer(ctx context.Context, customerID int64) ([]*db.Booking, error)
	FindCustomerByLineUserID(ctx context.Context, lineUserID string) (*db.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*db.Customer, error)
	ResolveOrCreateCustomer(ctx context.Context, tenantID int64, identity db.CustomerIdentity) (int64, error)
	TenantExists(ctx context.Context, tenantID int64) (bool, error)
}

// CapacityResolver resolves admission ceilings for slots.
type CapacityResolver interface {
	ResolveCapacity(ctx context.Context, tenantID int64, date, timeSlot string) (int, error)
	ResolveCapacitiesForDate(ctx context.Context, tenantID int64, date string) (map[string]int, error)
	DefaultCapacity() int
}

// LockStore is the mutual-exclusion primitive for the commit path.
type LockStore interface {
	Acquire(ctx context.Context, key db.LockKey, owner string, ttl time.Duration) (int64, error)
	ReleaseByID(ctx context.Context, lockID int64) error
}

// ConfirmationSink accepts best-effort booking confirmations. A failed
// enqueue or send is logged and never affects the commit result.
type ConfirmationSink interface {
	EnqueueConfirmation(ctx context.Context, msg *notify.Message) error
}

// DefaultSlots is the hourly grid used when a tenant has no explicit
// slot limits configured for a date.
var DefaultSlots = []string{
	"09:00", "10:00", "11:00", "12:00",
	"13:00", "14:00", "15:00", "16:00", "17:00",
}

// Service implements slot admission: read-only availability snapshots and
// the lock-guarded booking commit flow.
type Service struct {
	store         BookingStore
	capacity      CapacityResolver
	locks         LockStore
	confirmations ConfirmationSink
	lockTTL       time.Duration
	logger        *zap.Logger
}

// Config holds admission tuning.
type Config struct {
	LockTTL time.Duration
}

// NewService creates the admission service. confirmations may be nil,
// in which case no confirmation messages are produced.
func NewService(store BookingStore, capacity CapacityResolver, locks LockStore, confirmations ConfirmationSink, cfg Config, logger *zap.Logger) *Service {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Minute
	}

	return &Service{
		store:         store,
		capacity:      capacity,
		locks:         locks,
		confirmations: confirmations,
		lockTTL:       cfg.LockTTL,
		logger:        logger,
	}
}

// Availability returns the point-in-time slot snapshot for a tenant/date.
// It takes no locks: the result is advisory and may be stale by the time a
// caller commits, which is why Commit re-validates under the slot lock.
// An unknown tenant yields an empty (non-nil) result, not an error.
func (s *Service) Availability(ctx context.Context, tenantID int64, date string) ([]db.AvailableSlot, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	known, err := s.store.TenantExists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant: %w", err)
	}
	if !known {
		return []db.AvailableSlot{}, nil
	}

	limits, err := s.capacity.ResolveCapacitiesForDate(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("resolve slot limits: %w", err)
	}

	var slots []string
	if len(limits) > 0 {
		for slot := range limits {
			slots = append(slots, slot)
		}
		sort.Strings(slots)
	} else {
		slots = DefaultSlots
	}

	result := make([]db.AvailableSlot, 0, len(slots))
	for _, slot := range slots {
		capacity, ok := limits[slot]
		if !ok {
			capacity = s.capacity.DefaultCapacity()
		}

		booked, err := s.store.CountActiveBookings(ctx, tenantID, date, slot)
		if err != nil {
			return nil, fmt.Errorf("count bookings for %s: %w", slot, err)
		}

		remaining := capacity - booked
		if remaining < 0 {
			remaining = 0
		}

		result = append(result, db.AvailableSlot{
			TimeSlot:    slot,
			Remaining:   remaining,
			IsAvailable: remaining > 0,
		})
	}

	return result, nil
}

// CommitRequest carries one booking attempt.
type CommitRequest struct {
	TenantID   int64
	Date       string // YYYY-MM-DD
	TimeSlot   string // e.g. "10:00"
	Name       string
	Phone      string
	Email      string
	LineUserID string
	Notes      string
	SessionID  string // lock owner; generated when empty
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	BookingID  int64
	CustomerID int64
}

// Commit runs the correctness-critical booking path:
//
//	acquire lock -> re-validate capacity -> resolve customer ->
//	insert booking -> release lock -> best-effort confirmation
//
// The lock is released on every exit path; if this process dies mid-commit
// the lock self-expires after its TTL and the slot becomes claimable again.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if err := validateCommit(req); err != nil {
		return nil, err
	}

	owner := req.SessionID
	if owner == "" {
		owner = uuid.NewString()
	}

	key := db.LockKey{TenantID: req.TenantID, Date: req.Date, TimeSlot: req.TimeSlot}

	lockID, err := s.locks.Acquire(ctx, key, owner, s.lockTTL)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyLocked) {
			metrics.RecordBookingConflict("slot_held")
			return nil, ErrSlotHeld
		}
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	metrics.RecordLockAcquired()

	defer func() {
		if err := s.locks.ReleaseByID(ctx, lockID); err != nil {
			// Not fatal: the lock self-expires after the TTL.
			s.logger.Warn("failed to release slot lock",
				zap.Int64("lock_id", lockID),
				zap.Error(err),
			)
		}
	}()

	// Re-check under the lock. Availability snapshots are advisory; this
	// is the authoritative admission decision.
	capacity, err := s.capacity.ResolveCapacity(ctx, req.TenantID, req.Date, req.TimeSlot)
	if err != nil {
		return nil, fmt.Errorf("resolve capacity: %w", err)
	}

	booked, err := s.store.CountActiveBookings(ctx, req.TenantID, req.Date, req.TimeSlot)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}

	if capacity-booked <= 0 {
		metrics.RecordBookingConflict("slot_full")
		return nil, ErrSlotFull
	}

	customerID, err := s.store.ResolveOrCreateCustomer(ctx, req.TenantID, db.CustomerIdentity{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		LineUserID: req.LineUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve customer: %w", err)
	}

	b := &db.Booking{
		TenantID:   req.TenantID,
		CustomerID: customerID,
		Date:       req.Date,
		TimeSlot:   req.TimeSlot,
		Status:     db.BookingPending,
		Notes:      req.Notes,
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.RecordBookingCommitted(strconv.FormatInt(req.TenantID, 10))

	s.sendConfirmation(ctx, b, req)

	return &CommitResult{BookingID: b.ID, CustomerID: customerID}, nil
}

// sendConfirmation produces a best-effort booking confirmation. Failures
// are logged and never propagated: notification latency and provider
// health must not affect the commit result.
func (s *Service) sendConfirmation(ctx context.Context, b *db.Booking, req CommitRequest) {
	if s.confirmations == nil {
		return
	}

	channel, recipient := pickChannel(req.LineUserID, req.Email, req.Phone)
	if channel == "" {
		return
	}

	msg := &notify.Message{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		Channel:   channel,
		Recipient: recipient,
		Subject:   "Booking received",
		Body: fmt.Sprintf("Hi %s, we received your booking for %s at %s. We will confirm it shortly.",
			req.Name, b.Date, b.TimeSlot),
	}

	if err := s.confirmations.EnqueueConfirmation(ctx, msg); err != nil {
		s.logger.Warn("failed to enqueue booking confirmation",
			zap.Int64("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

// Cancel sets a booking's status to cancelled. Capacity counts live
// bookings dynamically, so the slot frees immediately; no lock is taken.
func (s *Service) Cancel(ctx context.Context, bookingID int64) error {
	if err := s.store.UpdateBookingStatus(ctx, bookingID, db.BookingCancelled); err != nil {
		return err
	}

	s.logger.Info("booking cancelled", zap.Int64("booking_id", bookingID))
	return nil
}

// ListByLineUser returns all bookings of the customer bound to a LINE
// user id, newest first. Unknown handles yield an empty list.
func (s *Service) ListByLineUser(ctx context.Context, lineUserID string) ([]*db.Booking, error) {
	if lineUserID == "" {
		return nil, &ValidationError{Field: "line_user_id", Reason: "must not be empty"}
	}

	customer, err := s.store.FindCustomerByLineUserID(ctx, lineUserID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return []*db.Booking{}, nil
	}

	return s.store.ListBookingsByCustomer(ctx, customer.ID)
}

func pickChannel(lineUserID, email, phone string) (channel, recipient string) {
	switch {
	case lineUserID != "":
		return db.ChannelLine, lineUserID
	case email != "":
		return db.ChannelEmail, email
	case phone != "":
		return db.ChannelSMS, phone
	default:
		return "", ""
	}
}

func validateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return nil
}

func validateSlot(slot string) error {
	if _, err := time.Parse("15:04", slot); err != nil {
		return &ValidationError{Field: "time_slot", Reason: "must be HH:MM"}
	}
	return nil
}

func validateCommit(req CommitRequest) error {
	if err := validateDate(req.Date); err != nil {
		return err
	}
	if err := validateSlot(req.TimeSlot); err != nil {
		return err
	}
	if req.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if req.Phone == "" && req.LineUserID == "" {
		return &ValidationError{Field: "phone", Reason: "phone or line_user_id is required"}
	}
	return nil
}
