package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrAlreadyLocked is returned when a live lock already holds the key.
// This is expected, high-frequency contention, not a failure: callers
// branch on it and must not log it as an error.
var ErrAlreadyLocked = errors.New("slot already locked")

const pgUniqueViolation = "23505"

// LockStore manages transient slot locks. Mutual exclusion comes entirely
// from the UNIQUE(tenant_id, date, time_slot) constraint: acquisition is
// "insert and treat a uniqueness violation as contention", never
// read-then-write.
type LockStore struct {
	db     *DB
	logger *zap.Logger
}

// NewLockStore creates a lock store over the shared pool.
func NewLockStore(db *DB, logger *zap.Logger) *LockStore {
	return &LockStore{
		db:     db,
		logger: logger,
	}
}

// LockKey identifies one bookable slot.
type LockKey struct {
	TenantID int64
	Date     string // YYYY-MM-DD
	TimeSlot string // e.g. "10:00"
}

// Acquire attempts to take an exclusive lock on the key for ttl.
//
// Expired rows for the key are deleted first (lazy expiry), so a crashed
// owner never blocks new acquisitions for longer than the TTL. No
// background sweeper is needed for correctness; SweepExpired exists only
// for storage hygiene.
func (s *LockStore) Acquire(ctx context.Context, key LockKey, owner string, ttl time.Duration) (int64, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err := s.db.Pool().Exec(ctx, `
		DELETE FROM booking_locks
		WHERE tenant_id = $1 AND date = $2::date AND time_slot = $3 AND expires_at < $4
	`, key.TenantID, key.Date, key.TimeSlot, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired lock: %w", err)
	}

	var lockID int64
	err = s.db.Pool().QueryRow(ctx, `
		INSERT INTO booking_locks (tenant_id, date, time_slot, locked_by, locked_at, expires_at)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		RETURNING id
	`, key.TenantID, key.Date, key.TimeSlot, owner, now, expiresAt).Scan(&lockID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			s.logger.Debug("slot lock contention",
				zap.Int64("tenant_id", key.TenantID),
				zap.String("date", key.Date),
				zap.String("time_slot", key.TimeSlot),
			)
			return 0, ErrAlreadyLocked
		}
		return 0, fmt.Errorf("insert lock: %w", err)
	}

	return lockID, nil
}

// Release deletes the lock for the key. Releasing an absent or expired
// lock is a no-op success.
func (s *LockStore) Release(ctx context.Context, key LockKey) error {
	_, err := s.db.Pool().Exec(ctx, `
		DELETE FROM booking_locks
		WHERE tenant_id = $1 AND date = $2::date AND time_slot = $3
	`, key.TenantID, key.Date, key.TimeSlot)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ReleaseByID deletes a lock by its row id. Idempotent.
func (s *LockStore) ReleaseByID(ctx context.Context, lockID int64) error {
	_, err := s.db.Pool().Exec(ctx, `DELETE FROM booking_locks WHERE id = $1`, lockID)
	if err != nil {
		return fmt.Errorf("release lock by id: %w", err)
	}
	return nil
}

// IsLocked reports whether a non-expired lock exists for the key.
func (s *LockStore) IsLocked(ctx context.Context, key LockKey) (bool, error) {
	var locked bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM booking_locks
			WHERE tenant_id = $1 AND date = $2::date AND time_slot = $3 AND expires_at > $4
		)
	`, key.TenantID, key.Date, key.TimeSlot, time.Now().UTC()).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return locked, nil
}

// SweepExpired bulk-deletes all expired locks and returns the count.
// Storage hygiene only; Acquire already clears expired rows on its key.
func (s *LockStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		DELETE FROM booking_locks WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info("swept expired slot locks", zap.Int64("removed", removed))
	}
	return removed, nil
}
