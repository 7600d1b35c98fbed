/*
date.go - Calendar dates at day granularity

PURPOSE:
  Every comparison in the scheduler works on whole calendar days. Date wraps
  a UTC-midnight time.Time so that arithmetic stays on Go's calendar rules
  (month lengths, leap years) while never carrying a clock or a zone.

ACCEPTED TEXT FORMS:
  ISO:        2026-02-28            (exactly 4-2-2 digits)
  Localized:  28/02/2026, 8.2.2026, 28-2-2026   (1-2 digit day/month)

STRICTNESS:
  Parsing round-trips the components: the constructed date must have the
  same year/month/day as the input. "31/02/2026" would silently normalize to
  March 3rd in time.Date, so it is rejected instead.

SEE ALSO:
  - month.go: Month arithmetic used by the occurrence calculator
  - occurrence.go: Consumers of Date
*/
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the wire format for every date in the state snapshot.
const ISOLayout = "2006-01-02"

var (
	isoDatePattern       = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	localizedDatePattern = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)
)

// =============================================================================
// DATE
// =============================================================================

// Date is a calendar day. The zero value is invalid; 0001-01-01 is not.
type Date struct {
	t     time.Time
	valid bool
}

// NewDate builds a date and reports whether the components name a real day.
func NewDate(year int, month time.Month, day int) (Date, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, false
	}
	return Date{t: t, valid: true}, true
}

// MustDate is NewDate for literals known to be valid. It panics otherwise.
func MustDate(year int, month time.Month, day int) Date {
	d, ok := NewDate(year, month, day)
	if !ok {
		panic(fmt.Sprintf("schedule: invalid date %04d-%02d-%02d", year, int(month), day))
	}
	return d
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), valid: true}
}

// ParseDate accepts ISO or localized text. Empty or overflowing input yields ErrInvalidDate.
func ParseDate(text string) (Date, error) {
	if text == "" {
		return Date{}, ErrInvalidDate
	}

	var year, month, day int
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
	} else if m := localizedDatePattern.FindStringSubmatch(text); m != nil {
		day, month, year = atoi(m[1]), atoi(m[2]), atoi(m[3])
	} else {
		return Date{}, ErrInvalidDate
	}

	d, ok := NewDate(year, time.Month(month), day)
	if !ok {
		return Date{}, ErrInvalidDate
	}
	return d, nil
}

// ParseISO accepts only the YYYY-MM-DD form.
func ParseISO(text string) (Date, error) {
	if !isoDatePattern.MatchString(text) {
		return Date{}, ErrInvalidDate
	}
	return ParseDate(text)
}

// IsISODate reports whether text is a valid YYYY-MM-DD date.
func IsISODate(text string) bool {
	_, err := ParseISO(text)
	return err == nil
}

// ParseUserInputToISO trims user input and returns its ISO form.
func ParseUserInputToISO(text string) (string, bool) {
	d, err := ParseDate(strings.TrimSpace(text))
	if err != nil {
		return "", false
	}
	return d.ISO(), true
}

// FormatLocalized renders any parseable date text as DD/MM/YYYY, or "" when invalid.
func FormatLocalized(text string) string {
	d, err := ParseDate(strings.TrimSpace(text))
	if err != nil {
		return ""
	}
	return d.Localized()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Properties
func (d Date) IsValid() bool        { return d.valid }
func (d Date) Year() int            { return d.t.Year() }
func (d Date) Month() time.Month    { return d.t.Month() }
func (d Date) Day() int             { return d.t.Day() }
func (d Date) Time() time.Time      { return d.t }
func (d Date) CalendarMonth() Month { return MonthOf(d) }

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) Compare(o Date) int        { return d.t.Compare(o.t) }

// AddDays moves by whole days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n), valid: d.valid} }

// ISO formats as YYYY-MM-DD. Invalid dates format as "".
func (d Date) ISO() string {
	if !d.IsValid() {
		return ""
	}
	return d.t.Format(ISOLayout)
}

// Localized formats as DD/MM/YYYY. Invalid dates format as "".
func (d Date) Localized() string {
	if !d.IsValid() {
		return ""
	}
	return fmt.Sprintf("%02d/%02d/%04d", d.Day(), int(d.Month()), d.Year())
}

func (d Date) String() string { return d.ISO() }

// MarshalText implements encoding.TextMarshaler using the ISO form.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.ISO()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Only ISO is accepted on the wire.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseISO(string(b))
	if err != nil {
		return fmt.Errorf("%w: %q", err, string(b))
	}
	*d = parsed
	return nil
}
