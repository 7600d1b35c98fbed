// Package memory provides an in-memory budget.StateStore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/schedule"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu         sync.RWMutex
	state      budget.State
	events     []budget.LedgerEvent
	references map[string]bool
	runs       []budget.SettlementRun
	now        func() time.Time
}

// New returns a store holding the empty snapshot at version 1.
func New() *Store {
	return &Store{
		state:      budget.NewState(),
		references: make(map[string]bool),
		now:        time.Now,
	}
}

// ReadState returns a copy of the stored snapshot.
func (m *Store) ReadState(_ context.Context) (budget.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), nil
}

// WriteState stores the snapshot if the version matches and appends new events.
func (m *Store) WriteState(_ context.Context, state budget.State, expectedVersion int64, events []budget.LedgerEvent) (budget.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the version first (atomic check)
	current := m.state.Version
	if expectedVersion != 0 && current != expectedVersion {
		return budget.State{}, &budget.StateConflictError{Expected: expectedVersion, CurrentVersion: current}
	}

	saved := state.Clone()
	saved.RecomputeTotals()
	saved.Version = current + 1
	m.state = saved

	for _, e := range events {
		m.appendLocked(e)
	}
	return saved.Clone(), nil
}

func (m *Store) appendLocked(e budget.LedgerEvent) {
	if !e.Valid() || m.references[e.ReferenceKey] {
		return
	}
	e.Stamp(m.now())

	// Binary search keeps events ordered by creation time
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].CreatedAt.After(e.CreatedAt)
	})
	m.events = append(m.events, budget.LedgerEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = e
	m.references[e.ReferenceKey] = true
}

// TransactionsForMonth filters the stored history by month.
func (m *Store) TransactionsForMonth(_ context.Context, t budget.EntryType, month schedule.Month) (budget.MonthTransactions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := budget.EntriesInMonth(m.state.Entries(t), month)
	return budget.SummarizeMonth(t, month, entries), nil
}

// LedgerEvents returns up to limit events, newest first.
func (m *Store) LedgerEvents(_ context.Context, limit int) ([]budget.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]budget.LedgerEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.events[i])
	}
	return result, nil
}

func (m *Store) SaveSettlementRun(_ context.Context, run budget.SettlementRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Store) LastSettlementRun(_ context.Context) (*budget.SettlementRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	run := m.runs[len(m.runs)-1]
	return &run, nil
}

// SettlementRuns returns every recorded run, oldest first.
func (m *Store) SettlementRuns() []budget.SettlementRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.SettlementRun{}, m.runs...)
}

var _ budget.StateStore = (*Store)(nil)
