/*
reconcile.go - Settlement applier and the catch-up reconciliation pass

PURPOSE:
  Turns due occurrences into money movements. For each settled occurrence
  the snapshot changes in one logical step:

    1. the occurrence date joins the obligation's settled set
    2. the signed amount moves the balance (payments subtract)
    3. a new expense/income entry is appended to the history
    4. category totals are rebuilt from the full history
    5. a ledger event is emitted (idempotent by reference key)

  One-off obligations are removed from their collection once settled.

RUN MODES:
  automatic   every obligation, every due occurrence from its anchor month
              to today. Today's occurrences count only from the midday
              hour on.
  targeted    reason "manual-payment-<id>-<YYYY-MM-DD>" (or manual-income-)
              settles exactly that occurrence, if it is a real, unsettled
              occurrence of that obligation. Today is always included.

PURITY:
  Reconcile never touches storage. It works on a clone and returns the new
  snapshot, a summary and the ledger events; the Service writes them with
  optimistic locking and reruns the pass on conflict. Because settled
  dates are recorded in the snapshot, a rerun never double-books.

SEE ALSO:
  - schedule/tracker.go: Settle and the settled-date set
  - schedule/scanner.go: Due-occurrence scanner
  - service.go: Retry loop around Reconcile
*/
package budget

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/warp/budget-engine/schedule"
)

// DefaultMiddayHour is the local hour from which today's occurrences are due.
const DefaultMiddayHour = 12

var manualReasonPattern = regexp.MustCompile(`^manual-(payment|income)-(\d+)-(\d{4}-\d{2}-\d{2})$`)

// Target names one occurrence of one obligation.
type Target struct {
	Kind       schedule.Kind
	ID         int64
	Occurrence schedule.Date
}

// ParseManualReason extracts a Target from a run reason such as
// "manual-payment-17-2026-03-31". Any other reason yields false.
func ParseManualReason(reason string) (Target, bool) {
	m := manualReasonPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(reason)))
	if m == nil {
		return Target{}, false
	}
	occurrence, err := schedule.ParseISO(m[3])
	if err != nil {
		return Target{}, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Target{}, false
	}
	return Target{Kind: schedule.Kind(m[1]), ID: id, Occurrence: occurrence}, true
}

// ManualReason formats the reason ParseManualReason accepts.
func ManualReason(t Target) string {
	return "manual-" + string(t.Kind) + "-" + strconv.FormatInt(t.ID, 10) + "-" + t.Occurrence.ISO()
}

// =============================================================================
// APPLIER - One occurrence into one snapshot
// =============================================================================

// Applied is the result of settling one occurrence into a snapshot.
type Applied struct {
	Outcome schedule.Outcome
	Entry   Entry
	Event   LedgerEvent
}

// apply settles occurrence on o and, when money moves, updates balance and
// history in s. Totals are left to the caller so a batch rebuilds them once.
func (s *State) apply(o schedule.Obligation, occurrence schedule.Date, reason string) (Applied, error) {
	out, err := schedule.Settle(o, occurrence)
	if err != nil || !out.Changed() {
		return Applied{Outcome: out}, err
	}

	kind := o.Kind()
	entry := Entry{
		ID:     s.NextEntryID(),
		Amount: out.Amount,
		Date:   occurrence.ISO(),
		Name:   CleanText(o.Label(), MaxTextLength),
		Icon:   SettlementIcon,
	}
	if kind == schedule.KindPayment {
		entry.Category = CategoryPlannedPayments
		entry.Source = SourcePlannedPayment
		s.ExpenseEntries = append(s.ExpenseEntries, entry)
	} else {
		entry.Category = CategoryPlannedIncomes
		entry.Source = SourcePlannedIncome
		s.IncomeEntries = append(s.IncomeEntries, entry)
	}
	s.Balance = s.Balance.Add(out.SignedAmount(kind))

	return Applied{Outcome: out, Entry: entry, Event: SettlementEvent(o, out, reason)}, nil
}

// removeObligation drops a settled one-off obligation from its collection.
func (s *State) removeObligation(kind schedule.Kind, id int64) {
	switch kind {
	case schedule.KindPayment:
		kept := s.Payments[:0]
		for _, p := range s.Payments {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		s.Payments = kept
	case schedule.KindIncome:
		kept := s.Incomes[:0]
		for _, i := range s.Incomes {
			if i.ID != id {
				kept = append(kept, i)
			}
		}
		s.Incomes = kept
	}
}

// SettleOccurrence is the confirmation flow for a single occurrence: it
// settles it, moves the balance, appends the entry, rebuilds totals, and
// removes a one-off obligation. A repeated call is a zero-amount no-op.
func (s *State) SettleOccurrence(t Target, reason string) (Applied, error) {
	o, ok := s.FindObligation(t.Kind, t.ID)
	if !ok {
		return Applied{Outcome: schedule.Outcome{Kind: schedule.OutcomeAlreadySettled, Amount: schedule.Zero, Occurrence: t.Occurrence}},
			&schedule.OccurrenceError{Kind: t.Kind, ID: t.ID, Occurrence: t.Occurrence.ISO()}
	}
	applied, err := s.apply(o, t.Occurrence, reason)
	if err != nil || !applied.Outcome.Changed() {
		return applied, err
	}
	if applied.Outcome.Kind == schedule.OutcomeRemove {
		s.removeObligation(t.Kind, t.ID)
	}
	s.RecomputeTotals()
	return applied, nil
}

// =============================================================================
// RECONCILIATION PASS
// =============================================================================

// Run configures one reconciliation pass.
type Run struct {
	Reason     string
	Now        time.Time // local wall-clock time; its calendar date is "today"
	MiddayHour int
	Scanner    schedule.Scanner
}

// IncludeToday reports whether occurrences dated today are due in this run.
func (r Run) IncludeToday() bool {
	if _, manual := ParseManualReason(r.Reason); manual {
		return true
	}
	midday := r.MiddayHour
	if midday <= 0 {
		midday = DefaultMiddayHour
	}
	return r.Now.Hour() >= midday
}

// Summary reports what a pass did.
type Summary struct {
	Changed         bool           `json:"changed"`
	SettledPayments int            `json:"settledPayments"`
	SettledIncomes  int            `json:"settledIncomes"`
	BalanceDelta    schedule.Money `json:"balanceDelta"`
	RunAt           time.Time      `json:"runAt"`
	Today           string         `json:"today"`
	IncludeToday    bool           `json:"includeToday"`
}

// Result is the outcome of Reconcile.
type Result struct {
	State   State
	Summary Summary
	Events  []LedgerEvent
}

// Reconcile settles every due occurrence in state, payments first, each
// obligation's occurrences oldest first. An unchanged pass returns the
// input snapshot as is.
func Reconcile(state State, run Run) Result {
	today := schedule.DateOf(run.Now)
	include := run.IncludeToday()
	target, manual := ParseManualReason(run.Reason)

	summary := Summary{
		BalanceDelta: schedule.Zero,
		RunAt:        run.Now,
		Today:        today.ISO(),
		IncludeToday: include,
	}

	next := state.Clone()
	var events []LedgerEvent
	delta := schedule.Zero

	dueFor := func(o schedule.Obligation) []schedule.Date {
		if manual {
			if o.Kind() != target.Kind || o.ObligationID() != target.ID {
				return nil
			}
			if !schedule.IsOccurrence(o, target.Occurrence) || schedule.IsSettled(o, target.Occurrence) {
				return nil
			}
			return []schedule.Date{target.Occurrence}
		}
		return run.Scanner.DueUpTo(o, today, include)
	}

	settleAll := func(o schedule.Obligation) (remove bool) {
		// Zero-amount obligations are never settled, so a due one-time entry stays listed until edited.
		if !o.Value().Abs().Round2().IsPositive() {
			return false
		}
		for _, occurrence := range dueFor(o) {
			applied, err := next.apply(o, occurrence, run.Reason)
			if err != nil || !applied.Outcome.Changed() {
				continue
			}
			if o.Kind() == schedule.KindPayment {
				summary.SettledPayments++
			} else {
				summary.SettledIncomes++
			}
			delta = delta.Add(applied.Outcome.SignedAmount(o.Kind()))
			events = append(events, applied.Event)
			if applied.Outcome.Kind == schedule.OutcomeRemove {
				remove = true
			}
		}
		return remove
	}

	payments := make([]*schedule.Payment, 0, len(next.Payments))
	for _, p := range next.Payments {
		if !settleAll(p) {
			payments = append(payments, p)
		}
	}
	incomes := make([]*schedule.Income, 0, len(next.Incomes))
	for _, i := range next.Incomes {
		if !settleAll(i) {
			incomes = append(incomes, i)
		}
	}

	if summary.SettledPayments == 0 && summary.SettledIncomes == 0 {
		return Result{State: state, Summary: summary}
	}

	next.Payments = payments
	next.Incomes = incomes
	next.RecomputeTotals()

	summary.Changed = true
	summary.BalanceDelta = delta
	return Result{State: next, Summary: summary, Events: events}
}
