/*
state.go - Application state snapshot and ledger entries

PURPOSE:
  The whole budget lives in one versioned snapshot: the running balance,
  the scheduled obligations, the expense/income entry history, and the
  category totals derived from that history. Every write replaces the
  snapshot and bumps the version (optimistic locking lives in the store).

WIRE SHAPE:
  {
    "version": 7,
    "balance": 2450.5,
    "payments": [...],            // schedule.Payment
    "incomes": [...],             // schedule.Income
    "expenseEntries": [...],      // Entry
    "incomeEntries": [...],       // Entry
    "expenseCategoryTotals": {"inne": 120.5},
    "incomeCategoryTotals": {}
  }

DERIVED DATA:
  Category totals are never patched in place. RecomputeTotals rebuilds
  both maps from the entry lists, so an entry edited outside the engine
  can never leave a stale total behind.

SEE ALSO:
  - totals.go: BuildCategoryTotals
  - reconcile.go: The settlement pass that mutates a State
  - factory/state.go: Sanitizes raw JSON into a State
*/
package budget

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/warp/budget-engine/schedule"
)

// Field limits shared by the sanitizer and the settlement pass.
const (
	MaxTextLength   = 120
	MaxIconLength   = 16
	MaxSourceLength = 64
)

// Well-known categories, sources and icons.
const (
	DefaultCategory = "inne"

	CategoryPlannedPayments = "zaplanowane płatności"
	CategoryPlannedIncomes  = "zaplanowane wpływy"

	SourceBalanceUpdate  = "balance-update"
	SourcePlannedPayment = "planned-payment"
	SourcePlannedIncome  = "planned-income"

	SettlementIcon = "📅"
)

// =============================================================================
// ENTRY TYPE
// =============================================================================

// EntryType selects one of the two entry histories.
type EntryType string

const (
	EntryExpense EntryType = "expense"
	EntryIncome  EntryType = "income"
)

// ParseEntryType validates a query value such as "expense".
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(strings.ToLower(strings.TrimSpace(s))) {
	case EntryExpense:
		return EntryExpense, nil
	case EntryIncome:
		return EntryIncome, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, s)
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one line in the expense or income history.
type Entry struct {
	ID       int64          `json:"id"`
	Amount   schedule.Money `json:"amount"`
	Category string         `json:"category"`
	Date     string         `json:"date"`
	Source   string         `json:"source"`
	Name     string         `json:"name"`
	Icon     string         `json:"icon"`
}

// Key identifies the entry in the transactions projection ("expense:42").
func (e Entry) Key(t EntryType) string {
	return fmt.Sprintf("%s:%d", t, e.ID)
}

// CategoryOrDefault returns the trimmed category, or DefaultCategory when blank.
func (e Entry) CategoryOrDefault() string {
	if c := strings.TrimSpace(e.Category); c != "" {
		return c
	}
	return DefaultCategory
}

// CategoryTotals maps a category to the rounded sum of its entries.
type CategoryTotals map[string]schedule.Money

// =============================================================================
// STATE
// =============================================================================

// State is the full application snapshot.
type State struct {
	Version               int64               `json:"version"`
	Balance               schedule.Money      `json:"balance"`
	Payments              []*schedule.Payment `json:"payments"`
	Incomes               []*schedule.Income  `json:"incomes"`
	ExpenseEntries        []Entry             `json:"expenseEntries"`
	IncomeEntries         []Entry             `json:"incomeEntries"`
	ExpenseCategoryTotals CategoryTotals      `json:"expenseCategoryTotals"`
	IncomeCategoryTotals  CategoryTotals      `json:"incomeCategoryTotals"`
}

// NewState returns the empty snapshot a fresh deployment starts from.
func NewState() State {
	return State{
		Version:               1,
		Balance:               schedule.Zero,
		Payments:              []*schedule.Payment{},
		Incomes:               []*schedule.Income{},
		ExpenseEntries:        []Entry{},
		IncomeEntries:         []Entry{},
		ExpenseCategoryTotals: CategoryTotals{},
		IncomeCategoryTotals:  CategoryTotals{},
	}
}

// Entries returns the history of the given type.
func (s State) Entries(t EntryType) []Entry {
	if t == EntryIncome {
		return s.IncomeEntries
	}
	return s.ExpenseEntries
}

// RecomputeTotals rebuilds both category-total maps from the entries.
func (s *State) RecomputeTotals() {
	s.ExpenseCategoryTotals = BuildCategoryTotals(s.ExpenseEntries)
	s.IncomeCategoryTotals = BuildCategoryTotals(s.IncomeEntries)
}

// NextEntryID returns one more than the largest entry id across both histories.
func (s State) NextEntryID() int64 {
	var highest int64
	for _, e := range s.ExpenseEntries {
		if e.ID > highest {
			highest = e.ID
		}
	}
	for _, e := range s.IncomeEntries {
		if e.ID > highest {
			highest = e.ID
		}
	}
	return highest + 1
}

// FindObligation looks up a payment or income by id.
func (s State) FindObligation(kind schedule.Kind, id int64) (schedule.Obligation, bool) {
	switch kind {
	case schedule.KindPayment:
		for _, p := range s.Payments {
			if p.ID == id {
				return p, true
			}
		}
	case schedule.KindIncome:
		for _, i := range s.Incomes {
			if i.ID == id {
				return i, true
			}
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Version:               s.Version,
		Balance:               s.Balance,
		Payments:              make([]*schedule.Payment, 0, len(s.Payments)),
		Incomes:               make([]*schedule.Income, 0, len(s.Incomes)),
		ExpenseEntries:        append([]Entry{}, s.ExpenseEntries...),
		IncomeEntries:         append([]Entry{}, s.IncomeEntries...),
		ExpenseCategoryTotals: make(CategoryTotals, len(s.ExpenseCategoryTotals)),
		IncomeCategoryTotals:  make(CategoryTotals, len(s.IncomeCategoryTotals)),
	}
	for _, p := range s.Payments {
		cp := *p
		cp.Months = append([]int{}, p.Months...)
		cp.PaidDates = append([]string{}, p.PaidDates...)
		out.Payments = append(out.Payments, &cp)
	}
	for _, i := range s.Incomes {
		ci := *i
		ci.ReceivedDates = append([]string{}, i.ReceivedDates...)
		out.Incomes = append(out.Incomes, &ci)
	}
	for k, v := range s.ExpenseCategoryTotals {
		out.ExpenseCategoryTotals[k] = v
	}
	for k, v := range s.IncomeCategoryTotals {
		out.IncomeCategoryTotals[k] = v
	}
	return out
}

// MarshalJSON writes empty collections as [] and {} rather than null.
func (s State) MarshalJSON() ([]byte, error) {
	type state State
	out := state(s)
	if out.Payments == nil {
		out.Payments = []*schedule.Payment{}
	}
	if out.Incomes == nil {
		out.Incomes = []*schedule.Income{}
	}
	if out.ExpenseEntries == nil {
		out.ExpenseEntries = []Entry{}
	}
	if out.IncomeEntries == nil {
		out.IncomeEntries = []Entry{}
	}
	if out.ExpenseCategoryTotals == nil {
		out.ExpenseCategoryTotals = CategoryTotals{}
	}
	if out.IncomeCategoryTotals == nil {
		out.IncomeCategoryTotals = CategoryTotals{}
	}
	return json.Marshal(out)
}

// CleanText trims s and caps it at limit runes.
func CleanText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
