package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/schedule"
)

func TestMarkSettled_KeepsSortedUnique(t *testing.T) {
	p := monthlyPayment("2025-01-15")

	for _, d := range []schedule.Date{
		date(2025, time.March, 15),
		date(2025, time.January, 15),
		date(2025, time.February, 15),
		date(2025, time.January, 15),
	} {
		_, err := schedule.MarkSettled(p, d)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-15"}, p.PaidDates)
}

func TestMarkSettled_RejectsNonOccurrence(t *testing.T) {
	p := monthlyPayment("2025-01-15")

	inserted, err := schedule.MarkSettled(p, date(2025, time.February, 14))

	assert.False(t, inserted)
	assert.ErrorIs(t, err, schedule.ErrNotAnOccurrence)
	var occErr *schedule.OccurrenceError
	require.ErrorAs(t, err, &occErr)
	assert.Equal(t, "2025-02-14", occErr.Occurrence)
	assert.Empty(t, p.PaidDates)
}

func TestSettle_NilObligation(t *testing.T) {
	day := date(2025, time.January, 15)

	inserted, err := schedule.MarkSettled(nil, day)
	assert.False(t, inserted)
	assert.ErrorIs(t, err, schedule.ErrNotAnOccurrence)

	out, err := schedule.Settle(nil, day)
	assert.ErrorIs(t, err, schedule.ErrNotAnOccurrence)
	assert.False(t, out.Changed())
	assert.True(t, out.Amount.IsZero())
}

func TestIsSettled_TolerantOfUnsortedInput(t *testing.T) {
	i := &schedule.Income{ID: 9, Amount: schedule.MustMoney("1"), Date: "2025-01-01", Frequency: schedule.FrequencyMonthly,
		ReceivedDates: []string{"2025-03-01", "2025-01-01"}}

	assert.True(t, schedule.IsSettled(i, date(2025, time.January, 1)))
	assert.True(t, schedule.IsSettled(i, date(2025, time.March, 1)))
	assert.False(t, schedule.IsSettled(i, date(2025, time.February, 1)))

	_, err := schedule.MarkSettled(i, date(2025, time.February, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-02-01", "2025-03-01"}, i.ReceivedDates)
}

func TestSettle_Idempotent(t *testing.T) {
	// GIVEN: A monthly payment with nothing settled
	p := monthlyPayment("2025-01-15")
	occ := date(2025, time.February, 15)

	// WHEN: Settling the same occurrence twice
	first, err := schedule.Settle(p, occ)
	require.NoError(t, err)
	second, err := schedule.Settle(p, occ)
	require.NoError(t, err)

	// THEN: Only the first call moves money
	assert.Equal(t, schedule.OutcomeUpdated, first.Kind)
	assert.Equal(t, "1500.00", first.Amount.String())
	assert.Equal(t, schedule.OutcomeAlreadySettled, second.Kind)
	assert.True(t, second.Amount.IsZero())
	assert.False(t, second.Changed())
	assert.Equal(t, []string{"2025-02-15"}, p.PaidDates)
}

func TestSettle_OnceRemovesObligation(t *testing.T) {
	p := &schedule.Payment{ID: 4, Amount: schedule.MustMoney("49.99"), Date: "2026-05-02", Frequency: schedule.FrequencyOnce}

	first, err := schedule.Settle(p, date(2026, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, schedule.OutcomeRemove, first.Kind)
	assert.Equal(t, "49.99", first.Amount.String())
	assert.Equal(t, "-49.99", first.SignedAmount(schedule.KindPayment).String())

	// A caller that mistakenly kept the record gets a no-op.
	second, err := schedule.Settle(p, date(2026, time.May, 2))
	require.NoError(t, err)
	assert.Equal(t, schedule.OutcomeAlreadySettled, second.Kind)
	assert.True(t, second.Amount.IsZero())
}

func TestSettle_IncomeSign(t *testing.T) {
	i := &schedule.Income{ID: 5, Amount: schedule.MustMoney("3200"), Date: "2026-01-10", Frequency: schedule.FrequencyMonthly}

	out, err := schedule.Settle(i, date(2026, time.January, 10))
	require.NoError(t, err)
	assert.Equal(t, "3200.00", out.SignedAmount(schedule.KindIncome).String())
	assert.Equal(t, []string{"2026-01-10"}, i.ReceivedDates)
}
