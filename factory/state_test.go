package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testFactory() *StateFactory {
	return &StateFactory{Today: func() schedule.Date { return schedule.MustDate(2025, time.April, 5) }}
}

const validPayload = `{
  "version": 3,
  "balance": 1520.35,
  "payments": [
    {"id": 1, "name": "Czynsz", "amount": 1500, "date": "2025-01-31", "frequency": "monthly", "months": [], "paidDates": ["2025-01-31"], "type": "expense"},
    {"id": 2, "name": "Basen", "amount": "40.5", "date": "2025-06-01", "frequency": "selected", "months": [7, 6]}
  ],
  "incomes": [
    {"id": 1, "name": "Pensja", "amount": 6000, "date": "2025-01-10", "frequency": "monthly", "receivedDates": []}
  ],
  "expenseEntries": [
    {"id": 4, "amount": 12.5, "category": "jedzenie", "date": "2025-04-01", "source": "balance-update", "name": "", "icon": ""}
  ],
  "incomeEntries": [],
  "expenseCategoryTotals": {"jedzenie": 12.5},
  "incomeCategoryTotals": {}
}`

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	payload, err := testFactory().DecodePayload([]byte(body))
	require.NoError(t, err)
	return payload
}

func fields(errs []FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field+": "+e.Message)
	}
	return out
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestValidate_AcceptsWellFormedPayload(t *testing.T) {
	errs := testFactory().Validate(decode(t, validPayload))
	assert.Empty(t, fields(errs))
}

func TestValidate_TopLevelKeys(t *testing.T) {
	errs := testFactory().Validate(decode(t, `{"version": 1, "balance": 0, "pin": "1234"}`))

	got := fields(errs)
	assert.Contains(t, got, "pin: Unknown field")
	assert.Contains(t, got, "payments: Missing required field")
	assert.Contains(t, got, "incomeCategoryTotals: Missing required field")
	assert.Contains(t, got, "payments: Must be an array")
	assert.Contains(t, got, "expenseCategoryTotals: Must be an object")
}

func TestValidate_NotAnObject(t *testing.T) {
	errs := testFactory().Validate([]any{})
	require.Len(t, errs, 1)
	assert.Equal(t, "payload", errs[0].Field)
}

func TestValidate_VersionAndBalance(t *testing.T) {
	tests := []struct {
		name    string
		version string
		balance string
		want    []string
	}{
		{"fractional version", "2.0", "1", []string{"version: Version must be a positive integer"}},
		{"zero version", "0", "1", []string{"version: Version must be a positive integer"}},
		{"boolean version", "true", "1", []string{"version: Version must be a positive integer"}},
		{"text balance", "1", `"abc"`, []string{"balance: Balance must be a finite number"}},
		{"numeric string balance", "1", `"12.5"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"version": ` + tt.version + `, "balance": ` + tt.balance + `, "payments": [], "incomes": [],
				"expenseEntries": [], "incomeEntries": [], "expenseCategoryTotals": {}, "incomeCategoryTotals": {}}`
			assert.Equal(t, tt.want, nilIfEmpty(fields(testFactory().Validate(decode(t, body)))))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestValidate_ObligationRules(t *testing.T) {
	body := `{"version": 1, "balance": 0,
	  "payments": [
	    {"id": 1, "name": "", "amount": 0, "date": "31.01.2025", "frequency": "weekly", "extra": 1},
	    {"id": 1, "name": "Dup", "amount": 5, "date": "2025-01-01", "frequency": "monthly", "months": [3]},
	    {"id": 2, "name": "Sel", "amount": 5, "date": "2025-01-01", "frequency": "selected", "months": [3, 3, 13]},
	    {"id": 3, "name": "Paid", "amount": 5, "date": "2025-01-01", "frequency": "once", "paidDates": ["2025-01-01", "2025-01-01", "bad"]},
	    "nope"
	  ],
	  "incomes": [
	    {"id": -1, "name": "Bonus", "amount": 5, "date": "2025-01-01", "frequency": "selected", "months": [1]}
	  ],
	  "expenseEntries": [], "incomeEntries": [], "expenseCategoryTotals": {}, "incomeCategoryTotals": {}}`

	got := fields(testFactory().Validate(decode(t, body)))

	assert.ElementsMatch(t, []string{
		"payments[0].extra: Unknown field",
		"payments[0].name: Name is required",
		"payments[0].amount: Amount must be > 0",
		"payments[0].date: Date must be in YYYY-MM-DD format",
		"payments[0].frequency: Invalid frequency",
		"payments[1].id: Duplicate ID",
		"payments[1].months: Months are allowed only for selected frequency",
		"payments[2].months: Months must contain unique values from 1 to 12",
		"payments[3].paidDates: paidDates must contain valid YYYY-MM-DD dates",
		"payments[3].paidDates: paidDates must contain unique dates",
		"payments[4]: Item must be an object",
		"incomes[0].months: Unknown field",
		"incomes[0].id: ID must be a positive integer",
		"incomes[0].frequency: Invalid frequency",
	}, got)
}

func TestValidate_EntriesAndTotals(t *testing.T) {
	longName := make([]rune, budget.MaxTextLength+1)
	for i := range longName {
		longName[i] = 'a'
	}
	entries, err := json.Marshal([]map[string]any{
		{"id": 1, "amount": 3, "category": " ", "date": "2025-01-01", "name": string(longName), "icon": "🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂🙂"},
		{"id": 2, "amount": -3, "category": "x", "date": "2025-01-01", "note": "?"},
	})
	require.NoError(t, err)

	body := `{"version": 1, "balance": 0, "payments": [], "incomes": [],
	  "expenseEntries": ` + string(entries) + `, "incomeEntries": [],
	  "expenseCategoryTotals": {"x": -1, " ": 2}, "incomeCategoryTotals": {"y": "abc"}}`

	got := fields(testFactory().Validate(decode(t, body)))

	assert.ElementsMatch(t, []string{
		"expenseEntries[0].category: Category is required",
		"expenseEntries[0].name: Name max length is 120",
		"expenseEntries[0].icon: Icon max length is 16",
		"expenseEntries[1].note: Unknown field",
		"expenseEntries[1].amount: Amount must be > 0",
		"expenseCategoryTotals: Category key cannot be empty",
		"expenseCategoryTotals.x: Total must be a finite number >= 0",
		"incomeCategoryTotals.y: Total must be a finite number >= 0",
	}, got)
}

// =============================================================================
// SANITIZE
// =============================================================================

func TestSanitize_WellFormedPayload(t *testing.T) {
	state, err := testFactory().ParseStrict([]byte(validPayload))
	require.NoError(t, err)

	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, "1520.35", state.Balance.String())
	require.Len(t, state.Payments, 2)
	assert.Equal(t, []string{"2025-01-31"}, state.Payments[0].PaidDates)
	assert.Equal(t, []int{}, state.Payments[0].Months)
	assert.Equal(t, "40.50", state.Payments[1].Amount.String())
	assert.Equal(t, []int{6, 7}, state.Payments[1].Months)
	require.Len(t, state.Incomes, 1)
	assert.Equal(t, schedule.IncomeType, state.Incomes[0].Type)
	assert.Equal(t, "12.50", state.ExpenseCategoryTotals["jedzenie"].String())
}

func TestSanitize_RepairsBrokenRecords(t *testing.T) {
	// GIVEN: A stored row written by an older client
	raw := decode(t, `{
	  "version": "x",
	  "balance": "12.345",
	  "payments": [
	    {"id": "7", "name": "   ", "amount": -99.999, "date": "soon", "frequency": "weekly", "months": [1], "paidDates": ["2025-02-01", "2025-01-01", "2025-01-01", "bad"]},
	    42
	  ],
	  "incomes": [{"name": "Premia", "amount": 10, "date": "2025-03-03", "frequency": "selected"}],
	  "expenseEntries": [{"id": 3, "amount": -5, "category": "", "date": "", "source": ""}],
	  "incomeEntries": "oops",
	  "expenseCategoryTotals": {"stale": 999}
	}`)

	// WHEN
	state := testFactory().Sanitize(raw)

	// THEN
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, "12.35", state.Balance.String())

	require.Len(t, state.Payments, 1)
	p := state.Payments[0]
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, DefaultObligationName, p.Name)
	assert.Equal(t, "100.00", p.Amount.String())
	assert.Equal(t, "2025-04-05", p.Date)
	assert.Equal(t, schedule.FrequencyOnce, p.Frequency)
	assert.Empty(t, p.Months)
	assert.Equal(t, []string{"2025-01-01", "2025-02-01"}, p.PaidDates)

	require.Len(t, state.Incomes, 1)
	assert.Equal(t, int64(0), state.Incomes[0].ID)
	assert.Equal(t, schedule.FrequencyOnce, state.Incomes[0].Frequency)

	require.Len(t, state.ExpenseEntries, 1)
	e := state.ExpenseEntries[0]
	assert.Equal(t, "5.00", e.Amount.String())
	assert.Equal(t, budget.DefaultCategory, e.Category)
	assert.Equal(t, "2025-04-05", e.Date)
	assert.Equal(t, budget.SourceBalanceUpdate, e.Source)
	assert.Empty(t, state.IncomeEntries)

	assert.Equal(t, []string{budget.DefaultCategory}, state.ExpenseCategoryTotals.Categories())
}

func TestParseStrict_ReturnsValidationError(t *testing.T) {
	_, err := testFactory().ParseStrict([]byte(`{"version": 0}`))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Fields)
	assert.Contains(t, verr.Error(), "invalid state payload")
}

func TestDecodePayload_RejectsNonObjects(t *testing.T) {
	f := testFactory()
	for _, body := range []string{``, `[]`, `null`, `{"a":`} {
		_, err := f.DecodePayload([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestExpectedVersion(t *testing.T) {
	tests := []struct {
		body string
		want int64
		ok   bool
	}{
		{`{"version": 7}`, 7, true},
		{`{"version": 0}`, 0, false},
		{`{"version": -2}`, -2, false},
		{`{"version": 2.5}`, 0, false},
		{`{"version": "3"}`, 0, false},
		{`{}`, 0, false},
	}

	for _, tt := range tests {
		got, ok := ExpectedVersion(decode(t, tt.body))
		assert.Equal(t, tt.ok, ok, tt.body)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.body)
		}
	}
}

func TestSanitize_SettledDatesNeverContainBlanks(t *testing.T) {
	// GIVEN: A payload whose settled dates include the earliest ISO date
	raw := decode(t, `{
	  "version": 2, "balance": 0,
	  "payments": [{"id": 1, "name": "Stary", "amount": 5, "date": "0001-01-01", "frequency": "once", "paidDates": ["0001-01-01"]}],
	  "incomes": [], "expenseEntries": [], "incomeEntries": [],
	  "expenseCategoryTotals": {}, "incomeCategoryTotals": {}
	}`)
	require.Empty(t, testFactory().Validate(raw))

	// WHEN
	state := testFactory().Sanitize(raw)

	// THEN: The date survives as written instead of collapsing to ""
	require.Len(t, state.Payments, 1)
	assert.Equal(t, "0001-01-01", state.Payments[0].Date)
	assert.Equal(t, []string{"0001-01-01"}, state.Payments[0].PaidDates)
}
