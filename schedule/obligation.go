/*
obligation.go - Payments and incomes with a recurrence policy

PURPOSE:
  An obligation is a scheduled money movement: a Payment takes money out of
  the balance, an Income puts money in. Both carry an anchor date and a
  frequency, and both remember which occurrences were already settled.

SUM TYPE:
  Obligation is a sealed interface implemented only by *Payment and *Income.
  The sign of a settlement comes from the variant, never from the amount,
  and each variant has its own closed set of frequencies:

    Payment: once | monthly | selected
    Income:  once | monthly

WIRE SHAPE:
  {"id": 17, "name": "Rent", "amount": 1500, "date": "2026-01-31",
   "frequency": "monthly", "months": [], "paidDates": ["2026-01-31"],
   "type": "expense"}

  Incomes use "receivedDates" and "type": "income", and have no "months".

SEE ALSO:
  - occurrence.go: Turns a Recurrence into dates
  - tracker.go: Reads and writes the settled-date set
*/
package schedule

import (
	"encoding/json"
	"sort"
)

// Kind discriminates the two obligation variants.
type Kind string

const (
	KindPayment Kind = "payment"
	KindIncome  Kind = "income"
)

// Frequency is the recurrence policy of an obligation.
type Frequency string

const (
	FrequencyOnce     Frequency = "once"
	FrequencyMonthly  Frequency = "monthly"
	FrequencySelected Frequency = "selected" // only the calendar months listed in Months
)

// Wire values of the "type" field.
const (
	PaymentType = "expense"
	IncomeType  = "income"
)

// Allows reports whether the variant supports the frequency.
func (k Kind) Allows(f Frequency) bool {
	switch f {
	case FrequencyOnce, FrequencyMonthly:
		return k == KindPayment || k == KindIncome
	case FrequencySelected:
		return k == KindPayment
	default:
		return false
	}
}

// Recurrence is the scheduling-relevant part of an obligation.
type Recurrence struct {
	Kind      Kind
	Anchor    Date // invalid when the stored date is malformed
	Frequency Frequency
	Months    []int
}

// =============================================================================
// OBLIGATION - Sealed interface over Payment and Income
// =============================================================================

// Obligation is a Payment or an Income.
type Obligation interface {
	Kind() Kind
	ObligationID() int64
	Label() string
	Value() Money
	Recurrence() Recurrence

	// SettledDates returns the settled occurrence dates, ascending.
	SettledDates() []string

	settledSet() *[]string
}

// Payment is an outgoing obligation.
type Payment struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Amount    Money     `json:"amount"`
	Date      string    `json:"date"`
	Frequency Frequency `json:"frequency"`
	Months    []int     `json:"months"`
	PaidDates []string  `json:"paidDates"`
	Type      string    `json:"type,omitempty"`
}

func (p *Payment) Kind() Kind             { return KindPayment }
func (p *Payment) ObligationID() int64    { return p.ID }
func (p *Payment) Label() string          { return p.Name }
func (p *Payment) Value() Money           { return p.Amount }
func (p *Payment) SettledDates() []string { return p.PaidDates }
func (p *Payment) settledSet() *[]string  { return &p.PaidDates }

func (p *Payment) Recurrence() Recurrence {
	anchor, _ := ParseISO(p.Date)
	return Recurrence{Kind: KindPayment, Anchor: anchor, Frequency: p.Frequency, Months: p.Months}
}

// MarshalJSON keeps list fields as arrays and stamps the wire type.
func (p Payment) MarshalJSON() ([]byte, error) {
	type payment Payment
	out := payment(p)
	if out.Months == nil {
		out.Months = []int{}
	}
	if out.PaidDates == nil {
		out.PaidDates = []string{}
	}
	out.Type = PaymentType
	return json.Marshal(out)
}

// Income is an incoming obligation.
type Income struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Amount        Money     `json:"amount"`
	Date          string    `json:"date"`
	Frequency     Frequency `json:"frequency"`
	ReceivedDates []string  `json:"receivedDates"`
	Type          string    `json:"type,omitempty"`
}

func (i *Income) Kind() Kind             { return KindIncome }
func (i *Income) ObligationID() int64    { return i.ID }
func (i *Income) Label() string          { return i.Name }
func (i *Income) Value() Money           { return i.Amount }
func (i *Income) SettledDates() []string { return i.ReceivedDates }
func (i *Income) settledSet() *[]string  { return &i.ReceivedDates }

func (i *Income) Recurrence() Recurrence {
	anchor, _ := ParseISO(i.Date)
	return Recurrence{Kind: KindIncome, Anchor: anchor, Frequency: i.Frequency}
}

// MarshalJSON keeps list fields as arrays and stamps the wire type.
func (i Income) MarshalJSON() ([]byte, error) {
	type income Income
	out := income(i)
	if out.ReceivedDates == nil {
		out.ReceivedDates = []string{}
	}
	out.Type = IncomeType
	return json.Marshal(out)
}

// =============================================================================
// NORMALIZATION HELPERS
// =============================================================================

// NormalizeMonths returns the distinct values in 1..12, ascending.
func NormalizeMonths(months []int) []int {
	seen := make(map[int]bool, len(months))
	out := make([]int, 0, len(months))
	for _, m := range months {
		if m < 1 || m > 12 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// NormalizeDates returns the distinct valid ISO dates, ascending.
func NormalizeDates(dates []string) []string {
	seen := make(map[string]bool, len(dates))
	out := make([]string, 0, len(dates))
	for _, raw := range dates {
		d, err := ParseISO(raw)
		if err != nil {
			continue
		}
		iso := d.ISO()
		if seen[iso] {
			continue
		}
		seen[iso] = true
		out = append(out, iso)
	}
	sort.Strings(out)
	return out
}

func containsMonth(months []int, m int) bool {
	for _, v := range months {
		if v == m {
			return true
		}
	}
	return false
}
