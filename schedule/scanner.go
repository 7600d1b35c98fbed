/*
scanner.go - Due-occurrence catch-up and next-occurrence lookahead

PURPOSE:
  The reconciliation pass needs every occurrence that should already have
  happened but was never settled (catch-up for missed months). The agenda
  needs the next upcoming occurrence. Both walk month by month and ask the
  occurrence calculator, so output is strictly chronological.

DUE RULE:
  An occurrence is due when it is strictly before the reference date, or
  on the reference date when IncludeReference is set. ISO strings compare
  lexicographically in the same order as dates, so either form works.

HORIZON:
  Forward lookups stop after Horizon months so an obligation whose
  remaining occurrences are all settled (or that produces none, e.g. a
  "selected" payment with an empty month set) still terminates.
*/
package schedule

// DefaultHorizonMonths bounds forward lookups when no horizon is configured.
const DefaultHorizonMonths = 36

// Scanner walks obligations across months.
type Scanner struct {
	// Horizon is the number of months NextFrom inspects, including the start month.
	Horizon int
}

// NewScanner returns a scanner with the given horizon (DefaultHorizonMonths when <= 0).
func NewScanner(horizon int) Scanner {
	if horizon <= 0 {
		horizon = DefaultHorizonMonths
	}
	return Scanner{Horizon: horizon}
}

func (s Scanner) horizon() int {
	if s.Horizon <= 0 {
		return DefaultHorizonMonths
	}
	return s.Horizon
}

// IsDue applies the before/on-reference rule.
func IsDue(occurrence, reference Date, includeReference bool) bool {
	if !occurrence.IsValid() || !reference.IsValid() {
		return false
	}
	if occurrence.Before(reference) {
		return true
	}
	return includeReference && occurrence.Equal(reference)
}

// DueUpTo returns the unsettled due occurrences of o from its anchor month
// through the reference month, oldest first.
func (s Scanner) DueUpTo(o Obligation, reference Date, includeReference bool) []Date {
	var due []Date
	if o == nil || !reference.IsValid() {
		return due
	}

	r := o.Recurrence()
	if !r.Anchor.IsValid() {
		return due
	}

	if r.Frequency == FrequencyOnce {
		if !r.Kind.Allows(r.Frequency) {
			return due
		}
		if IsDue(r.Anchor, reference, includeReference) && !IsSettled(o, r.Anchor) {
			due = append(due, r.Anchor)
		}
		return due
	}

	last := MonthOf(reference)
	for cursor := MonthOf(r.Anchor); !cursor.After(last); cursor = cursor.AddMonths(1) {
		occurrence, ok := OccurrenceIn(r, cursor)
		if !ok || IsSettled(o, occurrence) {
			continue
		}
		if IsDue(occurrence, reference, includeReference) {
			due = append(due, occurrence)
		}
	}
	return due
}

// NextFrom returns the earliest unsettled occurrence on or after from,
// looking at most Horizon months ahead.
func (s Scanner) NextFrom(o Obligation, from Date) (Date, bool) {
	if o == nil || !from.IsValid() {
		return Date{}, false
	}

	r := o.Recurrence()
	if !r.Anchor.IsValid() || !r.Kind.Allows(r.Frequency) {
		return Date{}, false
	}

	if r.Frequency == FrequencyOnce {
		if r.Anchor.Before(from) || IsSettled(o, r.Anchor) {
			return Date{}, false
		}
		return r.Anchor, true
	}

	start := MonthOf(from)
	for i := 0; i < s.horizon(); i++ {
		occurrence, ok := OccurrenceIn(r, start.AddMonths(i))
		if !ok || occurrence.Before(from) || IsSettled(o, occurrence) {
			continue
		}
		return occurrence, true
	}
	return Date{}, false
}

// DueOccurrencesUpTo is DueUpTo on a default scanner.
func DueOccurrencesUpTo(o Obligation, reference Date, includeReference bool) []Date {
	return NewScanner(0).DueUpTo(o, reference, includeReference)
}

// NextOccurrenceFrom is NextFrom on a default scanner.
func NextOccurrenceFrom(o Obligation, from Date) (Date, bool) {
	return NewScanner(0).NextFrom(o, from)
}
