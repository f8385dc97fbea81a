package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrBookingNotFound is returned when a booking id does not exist.
var ErrBookingNotFound = errors.New("booking not found")

// Repository handles booking and customer persistence.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a booking repository over the shared pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// TenantExists reports whether a tenant id is known.
func (r *Repository) TenantExists(ctx context.Context, tenantID int64) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant: %w", err)
	}
	return exists, nil
}

// CreateBooking inserts a new booking row.
func (r *Repository) CreateBooking(ctx context.Context, b *Booking) error {
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO appointments (tenant_id, customer_id, appointment_date, time_slot, status, notes)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, b.TenantID, b.CustomerID, b.Date, b.TimeSlot, b.Status, b.Notes,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	r.logger.Info("booking created",
		zap.Int64("booking_id", b.ID),
		zap.Int64("tenant_id", b.TenantID),
		zap.String("date", b.Date),
		zap.String("time_slot", b.TimeSlot),
	)

	return nil
}

// GetBooking retrieves a booking by id.
func (r *Repository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	var b Booking
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, to_char(appointment_date, 'YYYY-MM-DD'),
		       time_slot, status, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(
		&b.ID, &b.TenantID, &b.CustomerID, &b.Date,
		&b.TimeSlot, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query booking: %w", err)
	}

	return &b, nil
}

// CountActiveBookings counts non-cancelled bookings for a (tenant, date, slot)
// key. This is the live side of the capacity check.
func (r *Repository) CountActiveBookings(ctx context.Context, tenantID int64, date, timeSlot string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE tenant_id = $1 AND appointment_date = $2::date AND time_slot = $3
		  AND status <> $4
	`, tenantID, date, timeSlot, BookingCancelled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return count, nil
}

// UpdateBookingStatus transitions a booking's status.
func (r *Repository) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	r.logger.Info("booking status updated",
		zap.Int64("booking_id", id),
		zap.String("status", status),
	)
	return nil
}

// ListBookingsInWindow returns bookings, joined with their customer's
// notification handles, whose scheduled instant (date + slot, naive local
// time) falls inside [from, to] and whose status is one of statuses.
func (r *Repository) ListBookingsInWindow(ctx context.Context, from, to time.Time, statuses []string) ([]*BookingWithCustomer, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT a.id, a.tenant_id, a.customer_id, to_char(a.appointment_date, 'YYYY-MM-DD'),
		       a.time_slot, a.status, COALESCE(a.notes, ''), a.created_at, a.updated_at,
		       c.id, c.tenant_id, c.name, COALESCE(c.phone, ''), COALESCE(c.email, ''),
		       COALESCE(c.line_user_id, ''), c.created_at
		FROM appointments a
		JOIN customers c ON c.id = a.customer_id
		WHERE a.status = ANY($1)
		  AND a.appointment_date + a.time_slot::time >= $2::timestamp
		  AND a.appointment_date + a.time_slot::time <= $3::timestamp
		ORDER BY a.appointment_date, a.time_slot
	`, statuses, from.Format("2006-01-02 15:04:05"), to.Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, fmt.Errorf("query bookings in window: %w", err)
	}
	defer rows.Close()

	var result []*BookingWithCustomer
	for rows.Next() {
		var bc BookingWithCustomer
		err := rows.Scan(
			&bc.Booking.ID, &bc.Booking.TenantID, &bc.Booking.CustomerID, &bc.Booking.Date,
			&bc.Booking.TimeSlot, &bc.Booking.Status, &bc.Booking.Notes,
			&bc.Booking.CreatedAt, &bc.Booking.UpdatedAt,
			&bc.Customer.ID, &bc.Customer.TenantID, &bc.Customer.Name, &bc.Customer.Phone,
			&bc.Customer.Email, &bc.Customer.LineUserID, &bc.Customer.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		result = append(result, &bc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// ListBookingsByCustomer returns a customer's bookings, newest first.
func (r *Repository) ListBookingsByCustomer(ctx context.Context, customerID int64) ([]*Booking, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, tenant_id, customer_id, to_char(appointment_date, 'YYYY-MM-DD'),
		       time_slot, status, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE customer_id = $1
		ORDER BY appointment_date DESC, time_slot DESC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query bookings by customer: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		var b Booking
		err := rows.Scan(
			&b.ID, &b.TenantID, &b.CustomerID, &b.Date,
			&b.TimeSlot, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return bookings, nil
}

// GetCustomer retrieves a customer by id.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(line_user_id, ''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.LineUserID, &c.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}

	return &c, nil
}

// FindCustomerByLineUserID looks a customer up by their LINE handle.
func (r *Repository) FindCustomerByLineUserID(ctx context.Context, lineUserID string) (*Customer, error) {
	var c Customer
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(line_user_id, ''), created_at
		FROM customers
		WHERE line_user_id = $1
	`, lineUserID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.LineUserID, &c.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customer by line user id: %w", err)
	}

	return &c, nil
}

// ResolveOrCreateCustomer returns a stable customer id for the identity,
// matching on LINE user id first, then phone, creating the row when no
// match exists.
func (r *Repository) ResolveOrCreateCustomer(ctx context.Context, tenantID int64, identity CustomerIdentity) (int64, error) {
	var id int64
	var err error

	if identity.LineUserID != "" {
		err = r.db.Pool().QueryRow(ctx, `
			SELECT id FROM customers WHERE tenant_id = $1 AND line_user_id = $2
		`, tenantID, identity.LineUserID).Scan(&id)
	} else {
		err = r.db.Pool().QueryRow(ctx, `
			SELECT id FROM customers WHERE tenant_id = $1 AND phone = $2
		`, tenantID, identity.Phone).Scan(&id)
	}

	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup customer: %w", err)
	}

	err = r.db.Pool().QueryRow(ctx, `
		INSERT INTO customers (tenant_id, name, phone, email, line_user_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
		RETURNING id
	`, tenantID, identity.Name, identity.Phone, identity.Email, identity.LineUserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert customer: %w", err)
	}

	r.logger.Info("customer created",
		zap.Int64("customer_id", id),
		zap.Int64("tenant_id", tenantID),
	)

	return id, nil
}
