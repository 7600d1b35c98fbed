package budget_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/schedule"
	"github.com/warp/budget-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// racingStore lets another writer bump the version right before the next
// `races` writes, so those writes hit a version conflict.
type racingStore struct {
	*memory.Store
	races int
}

func (r *racingStore) WriteState(ctx context.Context, state budget.State, expectedVersion int64, events []budget.LedgerEvent) (budget.State, error) {
	if r.races > 0 && expectedVersion != 0 {
		r.races--
		current, err := r.Store.ReadState(ctx)
		if err != nil {
			return budget.State{}, err
		}
		if _, err := r.Store.WriteState(ctx, current, 0, nil); err != nil {
			return budget.State{}, err
		}
	}
	return r.Store.WriteState(ctx, state, expectedVersion, events)
}

func newTestService(t *testing.T, store budget.StateStore, now time.Time) *budget.Service {
	t.Helper()
	svc := budget.NewService(store, zerolog.Nop())
	svc.Location = time.UTC
	svc.Now = func() time.Time { return now }
	return svc
}

func seed(t *testing.T, store budget.StateStore, state budget.State) budget.State {
	t.Helper()
	saved, err := store.WriteState(context.Background(), state, 0, nil)
	require.NoError(t, err)
	return saved
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestRunSettlement_WritesAndRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, stateWith([]*schedule.Payment{rent()}, nil))
	svc := newTestService(t, store, at(2025, time.February, 16, 9))

	result, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)

	assert.True(t, result.OK)
	assert.True(t, result.Changed)
	assert.Equal(t, 2, result.Summary.SettledPayments)
	assert.Equal(t, int64(3), result.State.Version)
	assert.Equal(t, "800.00", result.State.Balance.String())

	events, err := store.LedgerEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].EventID)
	assert.Equal(t, budget.DefaultCurrency, events[0].Currency)

	last, err := svc.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.OK)
	assert.Equal(t, "auto", last.Reason)
	assert.Equal(t, 1, last.Attempts)
	assert.Equal(t, "UTC", last.Timezone)
	assert.NotEmpty(t, last.ID)
}

func TestRunSettlement_RerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, stateWith([]*schedule.Payment{rent()}, []*schedule.Income{salary()}))
	svc := newTestService(t, store, at(2025, time.June, 1, 18))

	first, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)
	second, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.True(t, second.OK)
	assert.False(t, second.Changed)
	assert.Equal(t, first.State.Version, second.State.Version)
	assert.Equal(t, first.State.Balance.String(), second.State.Balance.String())

	events, err := store.LedgerEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, first.Summary.SettledPayments+first.Summary.SettledIncomes)
}

func TestRunSettlement_RetriesOnConflict(t *testing.T) {
	// GIVEN: A concurrent writer wins the first two writes
	ctx := context.Background()
	store := &racingStore{Store: memory.New(), races: 2}
	seed(t, store.Store, stateWith([]*schedule.Payment{rent()}, nil))
	svc := newTestService(t, store, at(2025, time.January, 20, 9))

	// WHEN
	result, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)

	// THEN: The third attempt lands and books the occurrence once
	assert.True(t, result.OK)
	assert.True(t, result.Changed)
	assert.Equal(t, "900.00", result.State.Balance.String())
	assert.Len(t, result.State.ExpenseEntries, 1)

	last, err := svc.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, last.Attempts)
}

func TestRunSettlement_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: memory.New(), races: 10}
	seed(t, store.Store, stateWith([]*schedule.Payment{rent()}, nil))
	svc := newTestService(t, store, at(2025, time.January, 20, 9))

	result, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)

	assert.False(t, result.OK)
	assert.False(t, result.Changed)
	assert.Empty(t, result.State.ExpenseEntries)
	assert.Equal(t, "1000.00", result.State.Balance.String())

	runs := store.SettlementRuns()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].OK)
	assert.Equal(t, budget.DefaultMaxAttempts, runs[0].Attempts)
	assert.NotEmpty(t, runs[0].Error)
}

// =============================================================================
// STATE WRITES
// =============================================================================

func TestSaveState_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newTestService(t, store, at(2025, time.April, 5, 10))

	current, err := store.ReadState(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.Version)

	next := current.Clone()
	next.Balance = schedule.MustMoney("250")
	next.ExpenseEntries = []budget.Entry{entry(1, "12.5", "", "2025-04-05")}

	saved, err := svc.SaveState(ctx, next, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, "12.50", saved.ExpenseCategoryTotals[budget.DefaultCategory].String())

	// Stale writer
	_, err = svc.SaveState(ctx, next, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrStateConflict)
	var conflict *budget.StateConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(2), conflict.CurrentVersion)

	events, err := store.LedgerEvents(ctx, 0)
	require.NoError(t, err)
	keys := []string{}
	for _, e := range events {
		keys = append(keys, e.ReferenceKey)
	}
	assert.ElementsMatch(t, []string{"manual:expense:1", "manual:adjustment:v2"}, keys)
}

func TestSaveState_RejectsInvalidVersion(t *testing.T) {
	svc := newTestService(t, memory.New(), at(2025, time.April, 5, 10))

	_, err := svc.SaveState(context.Background(), budget.NewState(), 0)
	assert.ErrorIs(t, err, budget.ErrInvalidVersion)
}

func TestCurrentState_SettlesBeforeReading(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, stateWith([]*schedule.Payment{rent()}, nil))
	svc := newTestService(t, store, at(2025, time.January, 15, 12))

	state, err := svc.CurrentState(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01-15"}, state.Payments[0].PaidDates)
	last, err := svc.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state_get", last.Reason)
}

func TestReset_BumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, stateWith([]*schedule.Payment{rent()}, nil))
	svc := newTestService(t, store, at(2025, time.January, 1, 12))

	state, err := svc.Reset(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), state.Version)
	assert.Empty(t, state.Payments)
	assert.True(t, state.Balance.IsZero())
}

func TestTransactionsAndAgenda(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, stateWith([]*schedule.Payment{rent()}, []*schedule.Income{salary()}))
	svc := newTestService(t, store, at(2025, time.March, 20, 14))

	_, err := svc.RunSettlement(ctx, "auto")
	require.NoError(t, err)

	view, err := svc.Transactions(ctx, budget.EntryExpense, schedule.NewMonth(2025, time.February))
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "2025-02-15", view.Entries[0].Date)
	assert.Equal(t, "100.00", view.TotalAmount.String())

	agenda, err := svc.Agenda(ctx, schedule.NewMonth(2025, time.April))
	require.NoError(t, err)
	require.Len(t, agenda.Items, 2)
	assert.False(t, agenda.Items[0].Settled)
	assert.False(t, agenda.Items[0].Due)
	assert.Equal(t, "2025-03-20", agenda.Today)

	events, err := svc.Ledger(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
