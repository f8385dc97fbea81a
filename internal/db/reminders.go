package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrReminderAlreadySent is returned when marking a reminder sent collides
// with the partial unique index on (appointment_id, reminder_type) for sent
// rows: another scan pass delivered the same reminder first.
var ErrReminderAlreadySent = errors.New("reminder already sent for this booking and kind")

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ReminderStore persists reminder idempotency and audit records.
type ReminderStore struct {
	db     *DB
	logger *zap.Logger
}

// NewReminderStore creates a reminder store over the shared pool.
func NewReminderStore(db *DB, logger *zap.Logger) *ReminderStore {
	return &ReminderStore{
		db:     db,
		logger: logger,
	}
}

// HasSentReminder reports whether a sent reminder already exists for the
// (booking, kind) pair. This is the scanner's de-duplication check.
func (s *ReminderStore) HasSentReminder(ctx context.Context, bookingID int64, kind string) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment_reminders
			WHERE appointment_id = $1 AND reminder_type = $2 AND status = $3
		)
	`, bookingID, kind, ReminderSent).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent reminder: %w", err)
	}
	return exists, nil
}

// CreateReminder inserts a reminder record in pending state, immediately
// before a delivery attempt.
func (s *ReminderStore) CreateReminder(ctx context.Context, rec *ReminderRecord) error {
	err := s.db.Pool().QueryRow(ctx, `
		INSERT INTO appointment_reminders (appointment_id, tenant_id, reminder_type, channel, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, rec.BookingID, rec.TenantID, rec.Kind, rec.Channel, ReminderPending,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	rec.Status = ReminderPending
	return nil
}

// FinishReminder records the outcome of the delivery attempt. Marking a
// record sent can violate the one-sent-per-(booking, kind) index if a
// concurrent scan won the race; that surfaces as ErrReminderAlreadySent so
// the caller can downgrade this attempt to skipped.
func (s *ReminderStore) FinishReminder(ctx context.Context, id int64, status string, errorMessage *string) error {
	var sentAt *time.Time
	if status == ReminderSent || status == ReminderFailed {
		now := time.Now().UTC()
		sentAt = &now
	}

	_, err := s.db.Pool().Exec(ctx, `
		UPDATE appointment_reminders
		SET status = $1, sent_at = $2, error_message = $3
		WHERE id = $4
	`, status, sentAt, errorMessage, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrReminderAlreadySent
		}
		return fmt.Errorf("finish reminder: %w", err)
	}
	return nil
}

// ListRemindersForBooking returns all reminder records for a booking,
// newest first. Audit/debug surface.
func (s *ReminderStore) ListRemindersForBooking(ctx context.Context, bookingID int64) ([]*ReminderRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, appointment_id, tenant_id, reminder_type, channel, status,
		       sent_at, error_message, created_at
		FROM appointment_reminders
		WHERE appointment_id = $1
		ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var records []*ReminderRecord
	for rows.Next() {
		var rec ReminderRecord
		err := rows.Scan(
			&rec.ID, &rec.BookingID, &rec.TenantID, &rec.Kind, &rec.Channel,
			&rec.Status, &rec.SentAt, &rec.ErrorMessage, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}
