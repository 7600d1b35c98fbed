package schedule

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned for empty, malformed, or overflowing date text
	// (e.g. "31/02/2026", "2026-13-01").
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidMonth is returned for month text that is not YYYY-MM.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrNotAnOccurrence is returned when a date is not one of the dates the
	// obligation's recurrence produces. Only scheduler output may be settled.
	ErrNotAnOccurrence = errors.New("date is not an occurrence of the obligation")
)

// OccurrenceError reports which obligation rejected which date.
type OccurrenceError struct {
	Kind       Kind
	ID         int64
	Occurrence string
}

func (e *OccurrenceError) Error() string {
	return fmt.Sprintf("%s %d: %s is not an occurrence", e.Kind, e.ID, e.Occurrence)
}

func (e *OccurrenceError) Unwrap() error {
	return ErrNotAnOccurrence
}
