/*
store.go - Persistence interface for the versioned state

PURPOSE:
  Defines the boundary between the settlement logic and the database.
  The state is a single versioned row; ledger events and settlement runs
  are append-only side tables written in the same transaction.

OPTIMISTIC LOCKING:
  WriteState(ctx, state, expectedVersion, events) succeeds only if the
  stored version still equals expectedVersion. The new version is
  expectedVersion+1. On mismatch it returns *StateConflictError carrying
  the current version and writes nothing.

  expectedVersion == 0 means "unconditional" (used by reset).

PROJECTION:
  Every successful write also mirrors the entry histories into a
  queryable transactions table keyed "<type>:<id>" (upsert, then prune
  keys no longer present), which backs TransactionsForMonth.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - store/memory: In-memory for tests and throwaway runs
*/
package budget

import (
	"context"
	"time"

	"github.com/warp/budget-engine/schedule"
)

// StateStore persists the snapshot, its ledger, and settlement runs.
type StateStore interface {
	// ReadState returns the stored snapshot, or NewState() if none exists yet.
	ReadState(ctx context.Context) (State, error)

	// WriteState stores state with optimistic locking and appends events
	// whose reference keys are not yet recorded. Returns the saved snapshot.
	WriteState(ctx context.Context, state State, expectedVersion int64, events []LedgerEvent) (State, error)

	// TransactionsForMonth returns one history's entries dated within m.
	TransactionsForMonth(ctx context.Context, t EntryType, m schedule.Month) (MonthTransactions, error)

	// LedgerEvents returns the most recent events, newest first.
	LedgerEvents(ctx context.Context, limit int) ([]LedgerEvent, error)

	// SaveSettlementRun records the outcome of a reconciliation pass.
	SaveSettlementRun(ctx context.Context, run SettlementRun) error

	// LastSettlementRun returns the latest run, or nil when none ran yet.
	LastSettlementRun(ctx context.Context) (*SettlementRun, error)
}

// SettlementRun is the audit record of one Service.RunSettlement call.
type SettlementRun struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	OK        bool      `json:"ok"`
	Attempts  int       `json:"attempts"`
	Timezone  string    `json:"timezone"`
	Summary   Summary   `json:"summary"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
