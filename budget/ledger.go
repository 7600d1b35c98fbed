/*
ledger.go - Append-only audit trail of balance movements

PURPOSE:
  The state snapshot says what the balance IS. The ledger says how it got
  there: every settlement and every manual balance change appends one
  event. Events are never updated or deleted.

IDEMPOTENCY:
  Each event carries a ReferenceKey derived from what caused it. Stores
  insert with "ignore on duplicate key", so replaying a settlement pass
  (retry after a version conflict, two servers racing) records each
  movement exactly once.

    settlement:payment:<id>:<occurrence>   planned payment settled
    settlement:income:<id>:<occurrence>    planned income settled
    manual:expense:<entryId>               new balance-update expense entry
    manual:income:<entryId>                new balance-update income entry
    manual:adjustment:v<version>           untracked balance edit

SEE ALSO:
  - reconcile.go: Emits settlement events
  - store.go: StateStore.WriteState persists events with the state
*/
package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/budget-engine/schedule"
)

// DefaultCurrency is stamped on events that do not name one.
const DefaultCurrency = "PLN"

// EventType classifies a ledger event.
type EventType string

const (
	EventSettlementPayment EventType = "settlement_payment"
	EventSettlementIncome  EventType = "settlement_income"
	EventManualExpense     EventType = "manual_balance_expense"
	EventManualIncome      EventType = "manual_balance_income"
	EventManualAdjustment  EventType = "manual_balance_adjustment"
)

// LedgerEvent is one signed balance movement.
type LedgerEvent struct {
	EventID       string         `json:"eventId"`
	ReferenceKey  string         `json:"referenceKey"`
	EventType     EventType      `json:"eventType"`
	Amount        schedule.Money `json:"amount"`
	EffectiveDate string         `json:"effectiveDate"`
	Currency      string         `json:"currency"`
	Details       map[string]any `json:"details"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Valid reports whether the event is worth persisting. Zero-amount events
// and events without a key, type, or ISO effective date are dropped.
func (e LedgerEvent) Valid() bool {
	return strings.TrimSpace(e.ReferenceKey) != "" &&
		strings.TrimSpace(string(e.EventType)) != "" &&
		schedule.IsISODate(e.EffectiveDate) &&
		!e.Amount.IsZero()
}

// Stamp fills in the event id, currency and creation time when missing.
func (e *LedgerEvent) Stamp(now time.Time) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = DefaultCurrency
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
}

// SettlementReferenceKey builds the idempotency key of a settled occurrence.
func SettlementReferenceKey(kind schedule.Kind, id int64, occurrence schedule.Date) string {
	return fmt.Sprintf("settlement:%s:%d:%s", kind, id, occurrence.ISO())
}

// SettlementEvent describes the balance movement of one settled occurrence.
func SettlementEvent(o schedule.Obligation, out schedule.Outcome, reason string) LedgerEvent {
	kind := o.Kind()
	details := map[string]any{
		"frequency": string(o.Recurrence().Frequency),
		"runReason": reason,
	}
	eventType := EventSettlementPayment
	if kind == schedule.KindPayment {
		details["paymentId"] = o.ObligationID()
		details["paymentName"] = o.Label()
		details["source"] = SourcePlannedPayment
	} else {
		eventType = EventSettlementIncome
		details["incomeId"] = o.ObligationID()
		details["incomeName"] = o.Label()
		details["source"] = SourcePlannedIncome
	}
	return LedgerEvent{
		ReferenceKey:  SettlementReferenceKey(kind, o.ObligationID(), out.Occurrence),
		EventType:     eventType,
		Amount:        out.SignedAmount(kind),
		EffectiveDate: out.Occurrence.ISO(),
		Details:       details,
	}
}

// =============================================================================
// MANUAL BALANCE EVENTS
// =============================================================================

// ManualBalanceEvents explains a user-saved snapshot change. Every new
// balance-update entry becomes an event; whatever part of the balance
// change those entries do not account for becomes one adjustment event
// keyed by the version the write will produce.
func ManualBalanceEvents(previous, next State, expectedVersion int64, today schedule.Date) []LedgerEvent {
	var events []LedgerEvent
	tracked := schedule.Zero

	collect := func(old, current []Entry, eventType EventType, keyPrefix string, sign int) {
		known := make(map[int64]bool, len(old))
		for _, e := range old {
			known[e.ID] = true
		}
		for _, e := range current {
			if known[e.ID] || strings.TrimSpace(e.Source) != SourceBalanceUpdate {
				continue
			}
			amount := e.Amount.Abs().Round2()
			if !amount.IsPositive() {
				continue
			}
			if sign < 0 {
				amount = amount.Neg()
			}
			tracked = tracked.Add(amount)

			effective := e.Date
			if !schedule.IsISODate(effective) {
				effective = today.ISO()
			}
			events = append(events, LedgerEvent{
				ReferenceKey:  fmt.Sprintf("%s:%d", keyPrefix, e.ID),
				EventType:     eventType,
				Amount:        amount,
				EffectiveDate: effective,
				Details: map[string]any{
					"entryId":         e.ID,
					"category":        e.Category,
					"name":            e.Name,
					"source":          e.Source,
					"expectedVersion": expectedVersion,
				},
			})
		}
	}

	collect(previous.ExpenseEntries, next.ExpenseEntries, EventManualExpense, "manual:expense", -1)
	collect(previous.IncomeEntries, next.IncomeEntries, EventManualIncome, "manual:income", 1)

	oldBalance := previous.Balance.Round2()
	newBalance := next.Balance.Round2()
	remainder := newBalance.Sub(oldBalance).Sub(tracked)
	if !remainder.IsZero() {
		events = append(events, LedgerEvent{
			ReferenceKey:  fmt.Sprintf("manual:adjustment:v%d", expectedVersion+1),
			EventType:     EventManualAdjustment,
			Amount:        remainder,
			EffectiveDate: today.ISO(),
			Details: map[string]any{
				"oldBalance":      oldBalance.Float64(),
				"newBalance":      newBalance.Float64(),
				"trackedDelta":    tracked.Float64(),
				"expectedVersion": expectedVersion,
			},
		})
	}
	return events
}
