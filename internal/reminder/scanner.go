package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/notify"
)

// windowHalf is the tolerance around the reminder target time. A scan that
// runs every 15 minutes with a +/-30 minute window sees every booking at
// least twice; the sent-reminder index keeps the second sighting a no-op.
const windowHalf = 30 * time.Minute

// BookingSource lists bookings whose start time falls inside a window.
type BookingSource interface {
	ListBookingsInWindow(ctx context.Context, from, to time.Time, statuses []string) ([]*db.BookingWithCustomer, error)
}

// ReminderStore persists reminder attempts and answers dedup queries.
type ReminderStore interface {
	HasSentReminder(ctx context.Context, bookingID int64, kind string) (bool, error)
	CreateReminder(ctx context.Context, rec *db.ReminderRecord) error
	FinishReminder(ctx context.Context, id int64, status string, errorMessage *string) error
}

// Stats summarizes one scan pass.
type Stats struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scanner finds bookings approaching their start time and delivers
// reminders for them. Each booking is processed independently: one
// customer's bounced email never blocks the rest of the window.
type Scanner struct {
	bookings  BookingSource
	reminders ReminderStore
	sender    notify.Sender
	loc       *time.Location
	logger    *zap.Logger
}

// NewScanner creates a reminder scanner. loc is the timezone appointment
// dates and slots are interpreted in; nil means the process-local zone.
func NewScanner(bookings BookingSource, reminders ReminderStore, sender notify.Sender, loc *time.Location, logger *zap.Logger) *Scanner {
	if loc == nil {
		loc = time.Local
	}

	return &Scanner{
		bookings:  bookings,
		reminders: reminders,
		sender:    sender,
		loc:       loc,
		logger:    logger,
	}
}

func leadFor(kind string) (time.Duration, error) {
	switch kind {
	case db.Reminder24h:
		return 24 * time.Hour, nil
	case db.Reminder2h:
		return 2 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown reminder kind: %q", kind)
	}
}

// Scan runs one reminder pass for the given kind. It finds bookings whose
// start time is lead away (within the window tolerance) and attempts a
// reminder for each. The returned stats count every booking the pass saw.
func (s *Scanner) Scan(ctx context.Context, kind string) (Stats, error) {
	lead, err := leadFor(kind)
	if err != nil {
		return Stats{}, err
	}

	start := time.Now()
	target := start.In(s.loc).Add(lead)
	from := target.Add(-windowHalf)
	to := target.Add(windowHalf)

	bookings, err := s.bookings.ListBookingsInWindow(ctx, from, to,
		[]string{db.BookingPending, db.BookingApproved})
	if err != nil {
		return Stats{}, fmt.Errorf("list bookings in window: %w", err)
	}

	var stats Stats
	stats.Scanned = len(bookings)

	for _, b := range bookings {
		outcome := s.process(ctx, kind, b)
		metrics.RecordReminder(kind, outcome)

		switch outcome {
		case "sent":
			stats.Sent++
		case "failed":
			stats.Failed++
		default:
			stats.Skipped++
		}
	}

	metrics.RecordScanDuration(kind, time.Since(start))

	s.logger.Info("reminder scan complete",
		zap.String("kind", kind),
		zap.Int("scanned", stats.Scanned),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)

	return stats, nil
}

// process handles one booking and reports the outcome: sent, failed or
// skipped. Errors are contained here so the rest of the pass continues.
func (s *Scanner) process(ctx context.Context, kind string, b *db.BookingWithCustomer) string {
	sent, err := s.reminders.HasSentReminder(ctx, b.Booking.ID, kind)
	if err != nil {
		s.logger.Error("dedup check failed",
			zap.Int64("booking_id", b.Booking.ID),
			zap.Error(err),
		)
		return "failed"
	}
	if sent {
		return "skipped"
	}

	channel, recipient := pickChannel(b.Customer)

	rec := &db.ReminderRecord{
		BookingID: b.Booking.ID,
		TenantID:  b.Booking.TenantID,
		Kind:      kind,
		Channel:   channel,
	}
	if err := s.reminders.CreateReminder(ctx, rec); err != nil {
		s.logger.Error("failed to create reminder record",
			zap.Int64("booking_id", b.Booking.ID),
			zap.Error(err),
		)
		return "failed"
	}

	if channel == "" {
		s.finish(ctx, rec.ID, db.ReminderSkipped, nil)
		s.logger.Debug("customer has no reachable channel",
			zap.Int64("booking_id", b.Booking.ID),
			zap.Int64("customer_id", b.Customer.ID),
		)
		return "skipped"
	}

	msg := buildMessage(kind, channel, recipient, b)
	if err := s.sender.Send(ctx, msg); err != nil {
		errMsg := err.Error()
		s.finish(ctx, rec.ID, db.ReminderFailed, &errMsg)
		s.logger.Warn("reminder delivery failed",
			zap.Int64("booking_id", b.Booking.ID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return "failed"
	}

	if err := s.reminders.FinishReminder(ctx, rec.ID, db.ReminderSent, nil); err != nil {
		if errors.Is(err, db.ErrReminderAlreadySent) {
			// A concurrent pass delivered first; count ours as a duplicate.
			s.finish(ctx, rec.ID, db.ReminderSkipped, nil)
			return "skipped"
		}
		s.logger.Error("failed to mark reminder sent",
			zap.Int64("booking_id", b.Booking.ID),
			zap.Error(err),
		)
		return "failed"
	}

	return "sent"
}

func (s *Scanner) finish(ctx context.Context, id int64, status string, errMsg *string) {
	if err := s.reminders.FinishReminder(ctx, id, status, errMsg); err != nil {
		s.logger.Error("failed to finish reminder record",
			zap.Int64("reminder_id", id),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
