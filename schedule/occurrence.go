/*
occurrence.go - Where an obligation lands in a given month

PURPOSE:
  Answers "does this obligation produce an occurrence in month M, and on
  which day?". Each obligation produces at most one occurrence per month,
  which is what makes every scan in this package strictly chronological.

RULES:
  once:      the anchor date itself, only in the anchor's month
  monthly:   anchor day-of-month, clamped to the month's last day
             (anchor 31 -> Feb 28, or Feb 29 in leap years)
  selected:  as monthly, but only in calendar months listed in Months

  Recurring occurrences never precede the anchor: a monthly obligation
  created on 2026-03-20 has nothing in February 2026.

DEGRADATION:
  Malformed input (unparseable anchor, unknown frequency, a frequency the
  variant does not support) means "no occurrence", never an error. Stored
  data may predate the validation boundary.
*/
package schedule

// OccurrenceIn computes the occurrence of r in month m.
func OccurrenceIn(r Recurrence, m Month) (Date, bool) {
	if !r.Anchor.IsValid() || !r.Kind.Allows(r.Frequency) {
		return Date{}, false
	}

	switch r.Frequency {
	case FrequencyOnce:
		if m.Contains(r.Anchor) {
			return r.Anchor, true
		}
		return Date{}, false

	case FrequencyMonthly:
		return clampedOccurrence(r.Anchor, m)

	case FrequencySelected:
		if !containsMonth(r.Months, int(m.Month)) {
			return Date{}, false
		}
		return clampedOccurrence(r.Anchor, m)
	}

	return Date{}, false
}

func clampedOccurrence(anchor Date, m Month) (Date, bool) {
	occurrence := m.ClampedDay(anchor.Day())
	if occurrence.Before(anchor) {
		return Date{}, false
	}
	return occurrence, true
}

// OccurrenceForMonth computes the occurrence of o in the month containing monthDate.
func OccurrenceForMonth(o Obligation, monthDate Date) (Date, bool) {
	if o == nil || !monthDate.IsValid() {
		return Date{}, false
	}
	return OccurrenceIn(o.Recurrence(), MonthOf(monthDate))
}

// IsOccurrence reports whether d is exactly the date o produces in d's month.
func IsOccurrence(o Obligation, d Date) bool {
	occurrence, ok := OccurrenceForMonth(o, d)
	return ok && occurrence.Equal(d)
}
