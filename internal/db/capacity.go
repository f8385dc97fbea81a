package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CapacityStore reads and writes per-slot admission limits. The booking
// path only ever reads; writes come from tenant staff configuration.
type CapacityStore struct {
	db              *DB
	logger          *zap.Logger
	defaultCapacity int
}

// NewCapacityStore creates a capacity store. defaultCapacity applies to
// slots with no explicit limit row.
func NewCapacityStore(db *DB, defaultCapacity int, logger *zap.Logger) *CapacityStore {
	return &CapacityStore{
		db:              db,
		logger:          logger,
		defaultCapacity: defaultCapacity,
	}
}

// DefaultCapacity returns the fallback limit for unconfigured slots.
func (s *CapacityStore) DefaultCapacity() int {
	return s.defaultCapacity
}

// ResolveCapacity returns the admission ceiling for one (tenant, date, slot)
// key. An active specific-date row wins over a weekday row; with neither,
// the default applies.
func (s *CapacityStore) ResolveCapacity(ctx context.Context, tenantID int64, date, timeSlot string) (int, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", date, err)
	}

	var max int
	err = s.db.Pool().QueryRow(ctx, `
		SELECT max_bookings FROM booking_slot_limits
		WHERE tenant_id = $1 AND time_slot = $2 AND is_active
		  AND ((scope = 'date' AND date = $3::date) OR (scope = 'weekday' AND weekday = $4))
		ORDER BY CASE scope WHEN 'date' THEN 0 ELSE 1 END
		LIMIT 1
	`, tenantID, timeSlot, date, int(day.Weekday())).Scan(&max)

	if err != nil {
		if isNoRows(err) {
			return s.defaultCapacity, nil
		}
		return 0, fmt.Errorf("resolve capacity: %w", err)
	}

	return max, nil
}

// ResolveCapacitiesForDate returns the explicitly configured slot limits
// applying to a date, one entry per slot with specific-date rows taking
// precedence over weekday rows. An empty map means the tenant has no
// configuration for that date and the default grid applies.
func (s *CapacityStore) ResolveCapacitiesForDate(ctx context.Context, tenantID int64, date string) (map[string]int, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT DISTINCT ON (time_slot) time_slot, max_bookings
		FROM booking_slot_limits
		WHERE tenant_id = $1 AND is_active
		  AND ((scope = 'date' AND date = $2::date) OR (scope = 'weekday' AND weekday = $3))
		ORDER BY time_slot, CASE scope WHEN 'date' THEN 0 ELSE 1 END
	`, tenantID, date, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("query slot limits: %w", err)
	}
	defer rows.Close()

	limits := make(map[string]int)
	for rows.Next() {
		var slot string
		var max int
		if err := rows.Scan(&slot, &max); err != nil {
			return nil, fmt.Errorf("scan slot limit: %w", err)
		}
		limits[slot] = max
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return limits, nil
}

// UpsertCapacity creates or replaces one slot limit row. Configuration
// path only; the booking path never writes here.
func (s *CapacityStore) UpsertCapacity(ctx context.Context, c *SlotCapacity) error {
	if c.Scope != ScopeDate && c.Scope != ScopeWeekday {
		return fmt.Errorf("invalid capacity scope: %q", c.Scope)
	}
	if c.MaxBookings < 0 {
		return fmt.Errorf("max_bookings must be >= 0, got %d", c.MaxBookings)
	}

	var err error
	if c.Scope == ScopeDate {
		err = s.db.Pool().QueryRow(ctx, `
			INSERT INTO booking_slot_limits (tenant_id, scope, date, time_slot, max_bookings, is_active)
			VALUES ($1, 'date', $2::date, $3, $4, $5)
			ON CONFLICT (tenant_id, scope, date, time_slot) WHERE scope = 'date'
			DO UPDATE SET max_bookings = EXCLUDED.max_bookings,
			              is_active = EXCLUDED.is_active,
			              updated_at = NOW()
			RETURNING id
		`, c.TenantID, c.Date, c.TimeSlot, c.MaxBookings, c.Active).Scan(&c.ID)
	} else {
		err = s.db.Pool().QueryRow(ctx, `
			INSERT INTO booking_slot_limits (tenant_id, scope, weekday, time_slot, max_bookings, is_active)
			VALUES ($1, 'weekday', $2, $3, $4, $5)
			ON CONFLICT (tenant_id, scope, weekday, time_slot) WHERE scope = 'weekday'
			DO UPDATE SET max_bookings = EXCLUDED.max_bookings,
			              is_active = EXCLUDED.is_active,
			              updated_at = NOW()
			RETURNING id
		`, c.TenantID, c.Weekday, c.TimeSlot, c.MaxBookings, c.Active).Scan(&c.ID)
	}

	if err != nil {
		return fmt.Errorf("upsert slot limit: %w", err)
	}

	s.logger.Info("slot limit configured",
		zap.Int64("tenant_id", c.TenantID),
		zap.String("scope", c.Scope),
		zap.String("time_slot", c.TimeSlot),
		zap.Int("max_bookings", c.MaxBookings),
	)

	return nil
}
