package db

import (
	"time"
)

// Booking is the durable record of a reservation. Cancellation is a status
// flip, never a row removal, so capacity counts stay auditable.
type Booking struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	CustomerID int64      `json:"customer_id"`
	Date       string     `json:"date"`      // YYYY-MM-DD
	TimeSlot   string     `json:"time_slot"` // e.g. "10:00"
	Status     string     `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Booking status constants
const (
	BookingPending   = "pending"
	BookingApproved  = "approved"
	BookingCancelled = "cancelled"
	BookingCompleted = "completed"
	BookingNoShow    = "no_show"
)

// Customer is the minimal projection of the customer directory this
// subsystem needs: identity for dedup and handles for notification routing.
type Customer struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email,omitempty"`
	LineUserID string    `json:"line_user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CustomerIdentity carries the fields used to resolve or create a customer.
type CustomerIdentity struct {
	Name       string
	Phone      string
	Email      string
	LineUserID string
}

// BookingWithCustomer joins a booking with its customer's notification
// handles for the reminder scan path.
type BookingWithCustomer struct {
	Booking  Booking
	Customer Customer
}

// SlotCapacity defines the admission ceiling for a recurring or specific slot.
// A specific-date row takes precedence over a weekday row for the same slot.
type SlotCapacity struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Scope       string    `json:"scope"`             // "date" or "weekday"
	Date        string    `json:"date,omitempty"`    // set when Scope == "date"
	Weekday     int       `json:"weekday,omitempty"` // 0=Sunday..6=Saturday, when Scope == "weekday"
	TimeSlot    string    `json:"time_slot"`
	MaxBookings int       `json:"max_bookings"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Capacity scope constants
const (
	ScopeDate    = "date"
	ScopeWeekday = "weekday"
)

// BookingLock is a transient exclusive claim on a (tenant, date, slot) key.
// The unique constraint on that triple is the sole source of mutual
// exclusion; expired rows are deleted lazily before each insert attempt.
type BookingLock struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Date      string    `json:"date"`
	TimeSlot  string    `json:"time_slot"`
	LockedBy  string    `json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReminderRecord is the idempotency and audit record for one
// (booking, reminder-kind) pair.
type ReminderRecord struct {
	ID           int64      `json:"id"`
	BookingID    int64      `json:"appointment_id"`
	TenantID     int64      `json:"tenant_id"`
	Kind         string     `json:"reminder_type"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Reminder kind constants
const (
	Reminder24h    = "24h"
	Reminder2h     = "2h"
	ReminderCustom = "custom"
)

// Reminder status constants
const (
	ReminderPending = "pending"
	ReminderSent    = "sent"
	ReminderFailed  = "failed"
	ReminderSkipped = "skipped"
)

// Notification channel constants
const (
	ChannelLine  = "line"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// AvailableSlot is one entry of an availability snapshot. It is advisory:
// the commit path re-validates capacity under the slot lock.
type AvailableSlot struct {
	TimeSlot    string `json:"time"`
	Remaining   int    `json:"available"`
	IsAvailable bool   `json:"is_available"`
}
