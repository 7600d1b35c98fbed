package budget

import (
	"sort"

	"github.com/warp/budget-engine/schedule"
)

// BuildCategoryTotals sums entry amounts per category, rounding every step
// to currency precision. Blank categories count towards DefaultCategory.
func BuildCategoryTotals(entries []Entry) CategoryTotals {
	totals := make(CategoryTotals)
	for _, e := range entries {
		category := e.CategoryOrDefault()
		current, ok := totals[category]
		if !ok {
			current = schedule.Zero
		}
		totals[category] = current.Add(e.Amount.Round2())
	}
	return totals
}

// Sum returns the rounded total across all categories.
func (t CategoryTotals) Sum() schedule.Money {
	total := schedule.Zero
	for _, v := range t {
		total = total.Add(v)
	}
	return total
}

// Categories returns the category names in sorted order.
func (t CategoryTotals) Categories() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// MONTH VIEW
// =============================================================================

// MonthTransactions is the analysis view of one history for one month.
type MonthTransactions struct {
	Type             EntryType      `json:"type"`
	Month            string         `json:"month"`
	Entries          []Entry        `json:"entries"`
	TotalsByCategory CategoryTotals `json:"totalsByCategory"`
	TotalAmount      schedule.Money `json:"totalAmount"`
}

// EntriesInMonth filters entries whose date falls in m.
func EntriesInMonth(entries []Entry, m schedule.Month) []Entry {
	start, end := m.First().ISO(), m.Next().ISO()
	out := make([]Entry, 0)
	for _, e := range entries {
		if e.Date >= start && e.Date < end {
			out = append(out, e)
		}
	}
	return out
}

// SummarizeMonth orders entries newest first (ties by id, highest first)
// and totals them.
func SummarizeMonth(t EntryType, m schedule.Month, entries []Entry) MonthTransactions {
	sorted := append([]Entry{}, entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date > sorted[j].Date
		}
		return sorted[i].ID > sorted[j].ID
	})

	totals := BuildCategoryTotals(sorted)
	return MonthTransactions{
		Type:             t,
		Month:            m.String(),
		Entries:          sorted,
		TotalsByCategory: totals,
		TotalAmount:      totals.Sum(),
	}
}
