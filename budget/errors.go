package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStateConflict is returned when a write carries a stale version.
	// Callers refetch the state and retry.
	ErrStateConflict = errors.New("state version conflict")

	// ErrInvalidEntryType is returned for a history type other than expense or income.
	ErrInvalidEntryType = errors.New("invalid transaction type")

	// ErrInvalidVersion is returned when an expected version is not a positive integer.
	ErrInvalidVersion = errors.New("invalid version")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StateConflictError carries the version currently stored.
type StateConflictError struct {
	Expected       int64
	CurrentVersion int64
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state version conflict: expected %d, current %d", e.Expected, e.CurrentVersion)
}

func (e *StateConflictError) Unwrap() error {
	return ErrStateConflict
}

// IsRetryable returns true if the error might succeed against a fresh snapshot.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStateConflict)
}
