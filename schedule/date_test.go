package schedule_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/schedule"
)

func TestParseDate_AcceptedForms(t *testing.T) {
	cases := map[string]string{
		"2026-02-28": "2026-02-28",
		"28/02/2026": "2026-02-28",
		"8.2.2026":   "2026-02-08",
		"08-02-2026": "2026-02-08",
		"29/02/2024": "2024-02-29",
		"1/1/2025":   "2025-01-01",
	}
	for input, want := range cases {
		d, err := schedule.ParseDate(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, d.ISO(), input)
	}
}

func TestParseDate_StrictValidity(t *testing.T) {
	for _, input := range []string{
		"31/02/2026",
		"2026-13-01",
		"2026-02-30",
		"29/02/2025",
		"",
		"2026-2-3",
		"2026/02/03",
		"00/01/2026",
		"12/2026",
		" 2026-01-01",
	} {
		_, err := schedule.ParseDate(input)
		assert.ErrorIs(t, err, schedule.ErrInvalidDate, "input %q", input)
	}
}

func TestParseISO_RejectsLocalized(t *testing.T) {
	_, err := schedule.ParseISO("28/02/2026")
	assert.ErrorIs(t, err, schedule.ErrInvalidDate)
	assert.True(t, schedule.IsISODate("2026-02-28"))
	assert.False(t, schedule.IsISODate("2026-02-29"))
}

func TestParseDate_FirstDayOfYearOne(t *testing.T) {
	// GIVEN: The earliest ISO date, which is also time.Time's zero instant
	d, err := schedule.ParseDate("0001-01-01")

	// THEN: It is an ordinary valid date that formats back unchanged
	require.NoError(t, err)
	assert.True(t, d.IsValid())
	assert.Equal(t, "0001-01-01", d.ISO())
	assert.Equal(t, "01/01/0001", d.Localized())
	assert.True(t, d.Before(schedule.MustDate(2025, time.January, 1)))

	// AND: The zero Date is still invalid
	assert.False(t, schedule.Date{}.IsValid())
	assert.Equal(t, "", schedule.Date{}.ISO())
}

func TestNormalizeDates_KeepsYearOne(t *testing.T) {
	got := schedule.NormalizeDates([]string{"2025-01-01", "0001-01-01", "bad", "0001-01-01"})

	assert.Equal(t, []string{"0001-01-01", "2025-01-01"}, got)
}

func TestISORoundTrip(t *testing.T) {
	// Every day across a leap cycle survives format -> parse unchanged.
	d := schedule.MustDate(2023, time.January, 1)
	end := schedule.MustDate(2028, time.December, 31)
	for !d.After(end) {
		parsed, err := schedule.ParseISO(d.ISO())
		require.NoError(t, err)
		again, err := schedule.ParseISO(parsed.ISO())
		require.NoError(t, err)
		assert.True(t, parsed.Equal(again))
		assert.True(t, parsed.Equal(d))
		d = d.AddDays(1)
	}
}

func TestISOStringOrderMatchesDateOrder(t *testing.T) {
	a := schedule.MustDate(2025, time.December, 31)
	b := schedule.MustDate(2026, time.January, 1)
	assert.True(t, a.Before(b))
	assert.Less(t, a.ISO(), b.ISO())
}

func TestFormatLocalized(t *testing.T) {
	assert.Equal(t, "05/03/2026", schedule.FormatLocalized("2026-03-05"))
	assert.Equal(t, "05/03/2026", schedule.FormatLocalized("5.3.2026"))
	assert.Equal(t, "", schedule.FormatLocalized("2026-02-31"))
	assert.Equal(t, "", schedule.FormatLocalized(""))
}

func TestParseUserInputToISO(t *testing.T) {
	iso, ok := schedule.ParseUserInputToISO("  15/01/2025 ")
	assert.True(t, ok)
	assert.Equal(t, "2025-01-15", iso)

	_, ok = schedule.ParseUserInputToISO("   ")
	assert.False(t, ok)

	_, ok = schedule.ParseUserInputToISO("31/04/2025")
	assert.False(t, ok)
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		When schedule.Date `json:"when"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"when":"2026-01-31"}`), &payload))
	assert.Equal(t, "2026-01-31", payload.When.ISO())

	err := json.Unmarshal([]byte(`{"when":"31/01/2026"}`), &payload)
	assert.ErrorIs(t, err, schedule.ErrInvalidDate)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"when":"2026-01-31"}`, string(out))
}

func TestMonth(t *testing.T) {
	m, err := schedule.ParseMonth("2024-02")
	require.NoError(t, err)
	assert.Equal(t, 29, m.LastDay())
	assert.Equal(t, 28, schedule.NewMonth(2026, time.February).LastDay())
	assert.Equal(t, "2025-01", schedule.NewMonth(2024, time.December).AddMonths(1).String())
	assert.Equal(t, "2023-12", schedule.NewMonth(2024, time.January).AddMonths(-1).String())
	assert.Equal(t, 13, schedule.NewMonth(2024, time.January).MonthsUntil(schedule.NewMonth(2025, time.February)))

	for _, bad := range []string{"2024-13", "2024-2", "202402", ""} {
		_, err := schedule.ParseMonth(bad)
		assert.ErrorIs(t, err, schedule.ErrInvalidMonth, bad)
	}
}

func TestMoney_JSON(t *testing.T) {
	var m schedule.Money
	require.NoError(t, json.Unmarshal([]byte(`120.456`), &m))
	assert.Equal(t, "120.46", m.String())

	require.NoError(t, json.Unmarshal([]byte(`"99.9"`), &m))
	assert.Equal(t, "99.90", m.String())

	out, err := json.Marshal(schedule.MustMoney("10.50"))
	require.NoError(t, err)
	assert.Equal(t, "10.5", string(out))

	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &m))
}
