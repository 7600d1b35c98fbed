/*
tracker.go - Settled-occurrence bookkeeping and the settle transition

PURPOSE:
  Each obligation keeps the ISO dates of the occurrences already paid or
  received. This set is what makes settlement idempotent: a date in the set
  is never settled again, no matter how many times a caller retries.

INVARIANTS:
  1. Ascending, no duplicates (binary-search insert keeps it that way)
  2. Subset of the obligation's occurrences (MarkSettled rejects other dates)
  3. Grow-only: there is no un-settle operation

SETTLE OUTCOMES:
  OutcomeAlreadySettled  the date was in the set; zero amount
  OutcomeUpdated         recurring obligation, date recorded; full amount
  OutcomeRemove          one-off obligation settled; caller drops it from
                         its collection. The date is recorded as well, so a
                         caller that keeps the record gets a no-op next time.
*/
package schedule

import "sort"

// IsSettled reports whether the occurrence was already settled.
func IsSettled(o Obligation, occurrence Date) bool {
	if o == nil || !occurrence.IsValid() {
		return false
	}
	dates := o.SettledDates()
	iso := occurrence.ISO()
	i := sort.SearchStrings(dates, iso)
	if i < len(dates) && dates[i] == iso {
		return true
	}
	// Externally edited records may be unsorted; fall back to a linear scan.
	for _, d := range dates {
		if d == iso {
			return true
		}
	}
	return false
}

// MarkSettled records the occurrence. It returns false when it was already
// present, and an *OccurrenceError when o never produces that date.
func MarkSettled(o Obligation, occurrence Date) (bool, error) {
	if o == nil {
		return false, ErrNotAnOccurrence
	}
	if !IsOccurrence(o, occurrence) {
		return false, &OccurrenceError{Kind: o.Kind(), ID: o.ObligationID(), Occurrence: occurrence.ISO()}
	}
	if IsSettled(o, occurrence) {
		return false, nil
	}

	set := o.settledSet()
	if !sort.StringsAreSorted(*set) {
		*set = NormalizeDates(*set)
	}
	dates := *set
	iso := occurrence.ISO()

	i := sort.SearchStrings(dates, iso)
	dates = append(dates, "")
	copy(dates[i+1:], dates[i:])
	dates[i] = iso
	*set = dates
	return true, nil
}

// =============================================================================
// SETTLE
// =============================================================================

// OutcomeKind tags the result of Settle.
type OutcomeKind string

const (
	OutcomeAlreadySettled OutcomeKind = "already_settled"
	OutcomeUpdated        OutcomeKind = "updated"
	OutcomeRemove         OutcomeKind = "remove_obligation"
)

// Outcome is what Settle did and the unsigned amount the caller must apply.
type Outcome struct {
	Kind       OutcomeKind
	Amount     Money
	Occurrence Date
}

// Changed reports whether the balance must move.
func (o Outcome) Changed() bool { return o.Kind != OutcomeAlreadySettled }

// SignedAmount returns the balance delta: negative for payments, positive for incomes.
func (o Outcome) SignedAmount(k Kind) Money {
	if k == KindPayment {
		return o.Amount.Neg()
	}
	return o.Amount
}

// Settle marks the occurrence settled and reports the amount to apply.
// Calling it again for the same occurrence is a zero-amount no-op.
func Settle(o Obligation, occurrence Date) (Outcome, error) {
	inserted, err := MarkSettled(o, occurrence)
	if err != nil {
		return Outcome{Kind: OutcomeAlreadySettled, Amount: Zero, Occurrence: occurrence}, err
	}
	if !inserted {
		return Outcome{Kind: OutcomeAlreadySettled, Amount: Zero, Occurrence: occurrence}, nil
	}

	amount := o.Value().Abs().Round2()
	if o.Recurrence().Frequency == FrequencyOnce {
		return Outcome{Kind: OutcomeRemove, Amount: amount, Occurrence: occurrence}, nil
	}
	return Outcome{Kind: OutcomeUpdated, Amount: amount, Occurrence: occurrence}, nil
}
