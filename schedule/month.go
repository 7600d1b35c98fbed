package schedule

import (
	"fmt"
	"time"
)

// Month is a month in a specific year.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth returns a normalized Month; out-of-range months roll over into adjacent years.
func NewMonth(year int, month time.Month) Month {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// MonthOf returns the Month containing d.
func MonthOf(d Date) Month {
	return Month{Year: d.Year(), Month: d.Month()}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil || len(s) != 7 {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// String returns the month formatted as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// AddMonths moves by n months, crossing year boundaries as needed.
func (m Month) AddMonths(n int) Month {
	return NewMonth(m.Year, m.Month+time.Month(n))
}

// First returns the first day of the month.
func (m Month) First() Date {
	return Date{t: time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC), valid: true}
}

// LastDay returns the number of days in the month. Day 0 of the following
// month is the last day of this one, so leap years come from the calendar.
func (m Month) LastDay() int {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Last returns the last day of the month.
func (m Month) Last() Date {
	return Date{t: time.Date(m.Year, m.Month, m.LastDay(), 0, 0, 0, 0, time.UTC), valid: true}
}

// Next returns the first day of the following month.
func (m Month) Next() Date {
	return m.AddMonths(1).First()
}

// Contains reports whether d falls in the month.
func (m Month) Contains(d Date) bool {
	return d.IsValid() && d.Year() == m.Year && d.Month() == m.Month
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// After reports whether m is strictly later than o.
func (m Month) After(o Month) bool { return o.Before(m) }

// MonthsUntil counts whole months from m to o (negative when o precedes m).
func (m Month) MonthsUntil(o Month) int {
	return (o.Year-m.Year)*12 + int(o.Month) - int(m.Month)
}

// ClampedDay returns the date with the given day-of-month in m, pulled back
// to the month's last day when the month is shorter.
func (m Month) ClampedDay(day int) Date {
	if last := m.LastDay(); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date{t: time.Date(m.Year, m.Month, day, 0, 0, 0, 0, time.UTC), valid: true}
}
