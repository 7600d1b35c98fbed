/*
Package factory converts raw JSON into budget state.

PURPOSE:
  The state arrives as loosely typed JSON from two places: the client's
  PUT /api/state body, and the JSON columns read back from storage. The
  factory is the single boundary where that JSON becomes a typed
  budget.State. It does two separate jobs:

    Validate   strict; reports every problem as a field-level error so
               the client can show them. Used for user writes only.
    Sanitize   lenient; never fails. Trims and caps text, takes the
               absolute rounded amount, falls back to today for broken
               dates and to "once" for unknown frequencies, normalizes
               month and date lists. Used on every load.

NUMBERS:
  Payloads are decoded with json.Decoder.UseNumber so integer ids and
  versions are told apart from fractional values ("3.0" is not an id).
  Amounts are accepted as numbers or numeric strings.

EXAMPLE PAYLOAD:
  {
    "version": 7,
    "balance": 1520.35,
    "payments": [{"id": 1, "name": "Czynsz", "amount": 1500, "date": "2025-01-31",
                  "frequency": "monthly", "months": [], "paidDates": ["2025-01-31"]}],
    "incomes": [{"id": 2, "name": "Pensja", "amount": 6000, "date": "2025-01-10",
                 "frequency": "monthly", "receivedDates": []}],
    "expenseEntries": [], "incomeEntries": [],
    "expenseCategoryTotals": {}, "incomeCategoryTotals": {}
  }

SEE ALSO:
  - budget/state.go: State type and text limits
  - api/handlers.go: PUT /api/state flow
  - store/sqlite/sqlite.go: Sanitize on read
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/schedule"
)

// DefaultObligationName replaces a blank payment or income name.
const DefaultObligationName = "Bez nazwy"

// RequiredKeys are exactly the top-level keys a state payload carries.
var RequiredKeys = []string{
	"version",
	"balance",
	"payments",
	"incomes",
	"expenseEntries",
	"incomeEntries",
	"expenseCategoryTotals",
	"incomeCategoryTotals",
}

// FieldError is one validation problem, addressed by a JSON path such as
// "payments[2].amount".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError wraps the field errors of a rejected payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	switch len(e.Fields) {
	case 0:
		return "invalid state payload"
	case 1:
		return fmt.Sprintf("invalid state payload: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("invalid state payload: %s: %s (and %d more)", e.Fields[0].Field, e.Fields[0].Message, len(e.Fields)-1)
}

// =============================================================================
// STATE FACTORY
// =============================================================================

// StateFactory validates and sanitizes state JSON.
type StateFactory struct {
	// Today supplies the fallback for missing or broken dates.
	Today func() schedule.Date
}

// NewStateFactory creates a factory that falls back to the local date.
func NewStateFactory() *StateFactory {
	return &StateFactory{Today: func() schedule.Date { return schedule.DateOf(time.Now()) }}
}

func (f *StateFactory) today() string {
	if f == nil || f.Today == nil {
		return schedule.DateOf(time.Now()).ISO()
	}
	return f.Today().ISO()
}

// DecodePayload decodes a JSON object keeping numbers as json.Number.
func (f *StateFactory) DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse state JSON: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("failed to parse state JSON: expected an object")
	}
	return payload, nil
}

// ParseState decodes and sanitizes stored state JSON.
func (f *StateFactory) ParseState(data []byte) (budget.State, error) {
	payload, err := f.DecodePayload(data)
	if err != nil {
		return budget.State{}, err
	}
	return f.Sanitize(payload), nil
}

// ExpectedVersion returns the payload's version when it is a positive integer.
func ExpectedVersion(payload map[string]any) (int64, bool) {
	v, ok := strictInt(payload["version"])
	return v, ok && v >= 1
}

// ParseStrict decodes, validates and sanitizes a client payload. The
// returned error is a *ValidationError when the JSON is well formed but
// breaks a field rule.
func (f *StateFactory) ParseStrict(data []byte) (budget.State, error) {
	payload, err := f.DecodePayload(data)
	if err != nil {
		return budget.State{}, err
	}
	if problems := f.Validate(payload); len(problems) > 0 {
		return budget.State{}, &ValidationError{Fields: problems}
	}
	return f.Sanitize(payload), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

type collector struct {
	errors []FieldError
}

func (c *collector) add(field, message string) {
	c.errors = append(c.errors, FieldError{Field: field, Message: message})
}

// Validate checks a decoded payload and returns every problem found.
// An empty result means the payload is acceptable.
func (f *StateFactory) Validate(payload any) []FieldError {
	c := &collector{}
	obj, ok := payload.(map[string]any)
	if !ok {
		c.add("payload", "Payload must be a JSON object")
		return c.errors
	}

	required := make(map[string]bool, len(RequiredKeys))
	for _, key := range RequiredKeys {
		required[key] = true
	}
	missing := []string{}
	for _, key := range RequiredKeys {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		c.add(key, "Missing required field")
	}
	for _, key := range sortedKeys(obj) {
		if !required[key] {
			c.add(key, "Unknown field")
		}
	}

	if v, ok := strictInt(obj["version"]); !ok || v < 1 {
		c.add("version", "Version must be a positive integer")
	}
	if _, ok := number(obj["balance"]); !ok {
		c.add("balance", "Balance must be a finite number")
	}

	c.validateObligations("payments", obj["payments"], schedule.KindPayment)
	c.validateObligations("incomes", obj["incomes"], schedule.KindIncome)
	c.validateEntries("expenseEntries", obj["expenseEntries"])
	c.validateEntries("incomeEntries", obj["incomeEntries"])
	c.validateTotals("expenseCategoryTotals", obj["expenseCategoryTotals"])
	c.validateTotals("incomeCategoryTotals", obj["incomeCategoryTotals"])
	return c.errors
}

func (c *collector) validateObligations(field string, raw any, kind schedule.Kind) {
	items, ok := raw.([]any)
	if !ok {
		c.add(field, "Must be an array")
		return
	}

	allowed := map[string]bool{"id": true, "name": true, "amount": true, "date": true, "frequency": true, "type": true}
	settledField := "receivedDates"
	if kind == schedule.KindPayment {
		allowed["months"] = true
		settledField = "paidDates"
	}
	allowed[settledField] = true

	seen := make(map[int64]bool)
	for idx, rawItem := range items {
		prefix := fmt.Sprintf("%s[%d]", field, idx)
		item, ok := rawItem.(map[string]any)
		if !ok {
			c.add(prefix, "Item must be an object")
			continue
		}
		for _, key := range sortedKeys(item) {
			if !allowed[key] {
				c.add(prefix+"."+key, "Unknown field")
			}
		}

		c.validateID(prefix, item["id"], seen)

		name := text(item["name"])
		if name == "" {
			c.add(prefix+".name", "Name is required")
		}
		if utf8.RuneCountInString(name) > budget.MaxTextLength {
			c.add(prefix+".name", fmt.Sprintf("Name max length is %d", budget.MaxTextLength))
		}

		if amount, ok := number(item["amount"]); !ok || !amount.IsPositive() {
			c.add(prefix+".amount", "Amount must be > 0")
		}
		if !schedule.IsISODate(text(item["date"])) {
			c.add(prefix+".date", "Date must be in YYYY-MM-DD format")
		}

		frequency := schedule.Frequency(strings.ToLower(text(item["frequency"])))
		if !kind.Allows(frequency) {
			c.add(prefix+".frequency", "Invalid frequency")
		}

		if kind == schedule.KindPayment {
			c.validateMonths(prefix+".months", item["months"], frequency)
		}
		c.validateSettledDates(prefix+"."+settledField, settledField, item[settledField])
	}
}

func (c *collector) validateID(prefix string, raw any, seen map[int64]bool) {
	id, ok := strictInt(raw)
	switch {
	case !ok || id <= 0:
		c.add(prefix+".id", "ID must be a positive integer")
	case seen[id]:
		c.add(prefix+".id", "Duplicate ID")
	default:
		seen[id] = true
	}
}

func (c *collector) validateMonths(field string, raw any, frequency schedule.Frequency) {
	list, isList := raw.([]any)
	if frequency != schedule.FrequencySelected {
		if isList && len(list) > 0 {
			c.add(field, "Months are allowed only for selected frequency")
		}
		return
	}
	normalized := monthList(raw)
	if len(normalized) == 0 {
		c.add(field, "Selected frequency requires at least one month")
	}
	if len(normalized) != len(list) {
		c.add(field, "Months must contain unique values from 1 to 12")
	}
}

func (c *collector) validateSettledDates(field, name string, raw any) {
	if raw == nil {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		c.add(field, name+" must be an array")
		return
	}
	dates := make([]string, 0, len(list))
	invalid := false
	for _, v := range list {
		s, isString := v.(string)
		if !isString || !schedule.IsISODate(strings.TrimSpace(s)) {
			invalid = true
			continue
		}
		dates = append(dates, strings.TrimSpace(s))
	}
	if invalid {
		c.add(field, name+" must contain valid YYYY-MM-DD dates")
	}
	if len(schedule.NormalizeDates(dates)) != len(list) {
		c.add(field, name+" must contain unique dates")
	}
}

func (c *collector) validateEntries(field string, raw any) {
	items, ok := raw.([]any)
	if !ok {
		c.add(field, "Must be an array")
		return
	}

	allowed := map[string]bool{"id": true, "amount": true, "category": true, "date": true, "source": true, "name": true, "icon": true}
	seen := make(map[int64]bool)
	for idx, rawItem := range items {
		prefix := fmt.Sprintf("%s[%d]", field, idx)
		item, ok := rawItem.(map[string]any)
		if !ok {
			c.add(prefix, "Entry must be an object")
			continue
		}
		for _, key := range sortedKeys(item) {
			if !allowed[key] {
				c.add(prefix+"."+key, "Unknown field")
			}
		}

		c.validateID(prefix, item["id"], seen)

		if amount, ok := number(item["amount"]); !ok || !amount.IsPositive() {
			c.add(prefix+".amount", "Amount must be > 0")
		}

		category := text(item["category"])
		if category == "" {
			c.add(prefix+".category", "Category is required")
		}
		if utf8.RuneCountInString(category) > budget.MaxTextLength {
			c.add(prefix+".category", fmt.Sprintf("Category max length is %d", budget.MaxTextLength))
		}
		if !schedule.IsISODate(text(item["date"])) {
			c.add(prefix+".date", "Date must be in YYYY-MM-DD format")
		}
		if utf8.RuneCountInString(text(item["name"])) > budget.MaxTextLength {
			c.add(prefix+".name", fmt.Sprintf("Name max length is %d", budget.MaxTextLength))
		}
		if utf8.RuneCountInString(text(item["icon"])) > budget.MaxIconLength {
			c.add(prefix+".icon", fmt.Sprintf("Icon max length is %d", budget.MaxIconLength))
		}
	}
}

func (c *collector) validateTotals(field string, raw any) {
	totals, ok := raw.(map[string]any)
	if !ok {
		c.add(field, "Must be an object")
		return
	}
	for _, key := range sortedKeys(totals) {
		category := strings.TrimSpace(key)
		if category == "" {
			c.add(field, "Category key cannot be empty")
			continue
		}
		if utf8.RuneCountInString(category) > budget.MaxTextLength {
			c.add(field+"."+category, fmt.Sprintf("Category key max length is %d", budget.MaxTextLength))
		}
		if amount, ok := number(totals[key]); !ok || amount.IsNegative() {
			c.add(field+"."+category, "Total must be a finite number >= 0")
		}
	}
}

// =============================================================================
// SANITIZE
// =============================================================================

// Sanitize turns any decoded object into a well-formed State. Category
// totals are always rebuilt from the entries; stored totals are ignored.
func (f *StateFactory) Sanitize(raw map[string]any) budget.State {
	today := f.today()
	state := budget.NewState()

	if v, ok := looseInt(raw["version"]); ok && v >= 1 {
		state.Version = v
	}
	state.Balance = money(raw["balance"])

	for _, item := range objects(raw["payments"]) {
		state.Payments = append(state.Payments, sanitizePayment(item, today))
	}
	for _, item := range objects(raw["incomes"]) {
		state.Incomes = append(state.Incomes, sanitizeIncome(item, today))
	}
	state.ExpenseEntries = sanitizeEntries(raw["expenseEntries"], today)
	state.IncomeEntries = sanitizeEntries(raw["incomeEntries"], today)
	state.RecomputeTotals()
	return state
}

func sanitizePayment(item map[string]any, today string) *schedule.Payment {
	frequency := sanitizeFrequency(item["frequency"], schedule.KindPayment)
	p := &schedule.Payment{
		ID:        idOrZero(item["id"]),
		Name:      nameOrDefault(item["name"]),
		Amount:    money(item["amount"]).Abs(),
		Date:      dateOr(item["date"], today),
		Frequency: frequency,
		Months:    []int{},
		PaidDates: dateList(item["paidDates"]),
		Type:      schedule.PaymentType,
	}
	if frequency == schedule.FrequencySelected {
		p.Months = monthList(item["months"])
	}
	return p
}

func sanitizeIncome(item map[string]any, today string) *schedule.Income {
	return &schedule.Income{
		ID:            idOrZero(item["id"]),
		Name:          nameOrDefault(item["name"]),
		Amount:        money(item["amount"]).Abs(),
		Date:          dateOr(item["date"], today),
		Frequency:     sanitizeFrequency(item["frequency"], schedule.KindIncome),
		ReceivedDates: dateList(item["receivedDates"]),
		Type:          schedule.IncomeType,
	}
}

func sanitizeEntries(raw any, today string) []budget.Entry {
	entries := []budget.Entry{}
	for _, item := range objects(raw) {
		category := budget.CleanText(text(item["category"]), budget.MaxTextLength)
		if category == "" {
			category = budget.DefaultCategory
		}
		source := budget.CleanText(text(item["source"]), budget.MaxSourceLength)
		if source == "" {
			source = budget.SourceBalanceUpdate
		}
		entries = append(entries, budget.Entry{
			ID:       idOrZero(item["id"]),
			Amount:   money(item["amount"]).Abs(),
			Category: category,
			Date:     dateOr(item["date"], today),
			Source:   source,
			Name:     budget.CleanText(text(item["name"]), budget.MaxTextLength),
			Icon:     budget.CleanText(text(item["icon"]), budget.MaxIconLength),
		})
	}
	return entries
}

func sanitizeFrequency(raw any, kind schedule.Kind) schedule.Frequency {
	frequency := schedule.Frequency(strings.ToLower(text(raw)))
	if !kind.Allows(frequency) {
		return schedule.FrequencyOnce
	}
	return frequency
}

func nameOrDefault(raw any) string {
	if name := budget.CleanText(text(raw), budget.MaxTextLength); name != "" {
		return name
	}
	return DefaultObligationName
}

func dateOr(raw any, fallback string) string {
	if d := text(raw); schedule.IsISODate(d) {
		return d
	}
	return fallback
}

func idOrZero(raw any) int64 {
	id, _ := looseInt(raw)
	return id
}

// =============================================================================
// JSON VALUE HELPERS
// =============================================================================

// text renders a scalar JSON value as trimmed text. null is "".
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// strictInt accepts only integral JSON numbers.
func strictInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case int:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}

// looseInt also accepts whole floats and numeric strings.
func looseInt(v any) (int64, bool) {
	if n, ok := strictInt(v); ok {
		return n, true
	}
	d, ok := number(v)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// number parses a finite JSON number or numeric string.
func number(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	}
	return decimal.Zero, false
}

func money(v any) schedule.Money {
	d, ok := number(v)
	if !ok {
		return schedule.Zero
	}
	return schedule.NewMoneyFromDecimal(d).Round2()
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func monthList(v any) []int {
	list, _ := v.([]any)
	months := make([]int, 0, len(list))
	for _, item := range list {
		s := text(item)
		if s == "" || strings.Trim(s, "0123456789") != "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		months = append(months, n)
	}
	return schedule.NormalizeMonths(months)
}

func dateList(v any) []string {
	list, _ := v.([]any)
	dates := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			dates = append(dates, strings.TrimSpace(s))
		}
	}
	return schedule.NormalizeDates(dates)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
