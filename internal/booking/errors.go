package booking

import "errors"

// Contention results. These are expected, high-frequency outcomes under
// concurrent load: callers branch on them and retry or pick another slot.
// They are never logged at error level.
var (
	// ErrSlotHeld means another request currently holds the slot lock.
	ErrSlotHeld = errors.New("slot temporarily held by another request")

	// ErrSlotFull means the slot's capacity is exhausted.
	ErrSlotFull = errors.New("slot full")
)

// ValidationError marks bad input (malformed date, missing fields).
// Surfaced immediately, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// IsConflict reports whether err is a contention outcome rather than a
// failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotHeld) || errors.Is(err, ErrSlotFull)
}
