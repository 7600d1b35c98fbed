/*
Package sqlite provides a SQLite-backed budget.StateStore.

PURPOSE:
  Persists the single versioned budget snapshot together with its
  append-only side tables. Every state write runs in one database
  transaction: version check, snapshot update, transactions projection,
  ledger inserts. Either all of it lands or none of it does.

KEY TABLES:
  app_state:        Exactly one row (id = 1). Collections are JSON columns,
                    balance is decimal text, version is the lock counter.
  transactions:     Queryable projection of both entry histories, keyed
                    "<type>:<id>". Upserted on every write, stale keys pruned.
  ledger_events:    Append-only audit trail. reference_key is UNIQUE and
                    inserts use OR IGNORE, so replays are no-ops.
  settlement_runs:  One row per settlement attempt sequence.

OPTIMISTIC LOCKING:
  WriteState reads the stored version inside the transaction and refuses
  the write with *budget.StateConflictError when it differs from the
  caller's expected version. The UPDATE also carries "WHERE version = ?"
  so a writer from another process cannot slip in between.

READS:
  The snapshot columns are decoded loosely and passed through
  factory.StateFactory.Sanitize, so rows written by older clients load
  as well-formed state and category totals are always rebuilt.

CONCURRENCY:
  Uses sync.RWMutex for in-process serialization. SQLite itself is
  opened in WAL mode; ":memory:" databases are pinned to one connection
  so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := budget.NewService(store, logger)

SEE ALSO:
  - budget/store.go: StateStore contract
  - store/memory: In-memory implementation for tests
  - factory/state.go: Sanitize on load
*/
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/schedule"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timestampLayout sorts lexically in creation order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements budget.StateStore using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.StateFactory
	now     func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, factory: factory.NewStateFactory(), now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema and seeds the empty snapshot.
func (s *Store) migrate() error {
	schema := `
	-- Single versioned snapshot
	CREATE TABLE IF NOT EXISTS app_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		balance TEXT NOT NULL,
		payments_json TEXT NOT NULL,
		incomes_json TEXT NOT NULL,
		expense_entries_json TEXT NOT NULL,
		income_entries_json TEXT NOT NULL,
		expense_totals_json TEXT NOT NULL,
		income_totals_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Queryable projection of the entry histories
	CREATE TABLE IF NOT EXISTS transactions (
		entry_key TEXT PRIMARY KEY,
		entry_type TEXT NOT NULL,
		entry_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		source TEXT NOT NULL,
		name TEXT NOT NULL,
		icon TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_type_date
		ON transactions(entry_type, entry_date DESC);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS ledger_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		reference_key TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		currency TEXT NOT NULL,
		details_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_created
		ON ledger_events(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_type
		ON ledger_events(event_type);

	-- Settlement run audit
	CREATE TABLE IF NOT EXISTS settlement_runs (
		id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		ok INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		timezone TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlement_runs_created
		ON settlement_runs(created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	empty, err := encodeState(budget.NewState())
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO app_state
		(id, version, balance, payments_json, incomes_json, expense_entries_json,
		 income_entries_json, expense_totals_json, income_totals_json, updated_at)
		VALUES (1, 1, ?, ?, ?, ?, ?, ?, ?, ?)
	`, empty.balance, empty.payments, empty.incomes, empty.expenseEntries,
		empty.incomeEntries, empty.expenseTotals, empty.incomeTotals, s.timestamp())
	return err
}

// =============================================================================
// STATE
// =============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// stateColumns is the encoded form of a snapshot.
type stateColumns struct {
	balance        string
	payments       string
	incomes        string
	expenseEntries string
	incomeEntries  string
	expenseTotals  string
	incomeTotals   string
}

func encodeState(state budget.State) (stateColumns, error) {
	// MarshalJSON on State turns nil collections into [] and {}
	raw, err := json.Marshal(state)
	if err != nil {
		return stateColumns{}, fmt.Errorf("failed to encode state: %w", err)
	}
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return stateColumns{}, fmt.Errorf("failed to encode state: %w", err)
	}
	return stateColumns{
		balance:        state.Balance.Round2().String(),
		payments:       string(parts["payments"]),
		incomes:        string(parts["incomes"]),
		expenseEntries: string(parts["expenseEntries"]),
		incomeEntries:  string(parts["incomeEntries"]),
		expenseTotals:  string(parts["expenseCategoryTotals"]),
		incomeTotals:   string(parts["incomeCategoryTotals"]),
	}, nil
}

// ReadState loads and sanitizes the stored snapshot.
func (s *Store) ReadState(ctx context.Context) (budget.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readState(ctx, s.db)
}

func (s *Store) readState(ctx context.Context, q queryer) (budget.State, error) {
	var version int64
	var cols stateColumns
	err := q.QueryRowContext(ctx, `
		SELECT version, balance, payments_json, incomes_json, expense_entries_json,
			income_entries_json, expense_totals_json, income_totals_json
		FROM app_state WHERE id = 1
	`).Scan(&version, &cols.balance, &cols.payments, &cols.incomes, &cols.expenseEntries,
		&cols.incomeEntries, &cols.expenseTotals, &cols.incomeTotals)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.NewState(), nil
	}
	if err != nil {
		return budget.State{}, fmt.Errorf("failed to read state: %w", err)
	}

	raw := map[string]any{
		"version":               version,
		"balance":               cols.balance,
		"payments":              decodeColumn(cols.payments),
		"incomes":               decodeColumn(cols.incomes),
		"expenseEntries":        decodeColumn(cols.expenseEntries),
		"incomeEntries":         decodeColumn(cols.incomeEntries),
		"expenseCategoryTotals": decodeColumn(cols.expenseTotals),
		"incomeCategoryTotals":  decodeColumn(cols.incomeTotals),
	}
	return s.factory.Sanitize(raw), nil
}

// WriteState stores state if the stored version still equals
// expectedVersion (0 skips the check), then mirrors the entry histories
// and appends new ledger events, all in one transaction.
func (s *Store) WriteState(ctx context.Context, state budget.State, expectedVersion int64, events []budget.LedgerEvent) (budget.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := state.Clone()
	saved.Balance = saved.Balance.Round2()
	saved.RecomputeTotals()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		if err := tx.QueryRowContext(ctx, `SELECT version FROM app_state WHERE id = 1`).Scan(&current); err != nil {
			return fmt.Errorf("failed to read version: %w", err)
		}
		if expectedVersion != 0 && current != expectedVersion {
			return &budget.StateConflictError{Expected: expectedVersion, CurrentVersion: current}
		}

		cols, err := encodeState(saved)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE app_state SET
				version = ?, balance = ?, payments_json = ?, incomes_json = ?,
				expense_entries_json = ?, income_entries_json = ?,
				expense_totals_json = ?, income_totals_json = ?, updated_at = ?
			WHERE id = 1 AND version = ?
		`, current+1, cols.balance, cols.payments, cols.incomes, cols.expenseEntries,
			cols.incomeEntries, cols.expenseTotals, cols.incomeTotals, s.timestamp(), current)
		if err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return &budget.StateConflictError{Expected: expectedVersion, CurrentVersion: current + 1}
		}
		saved.Version = current + 1

		if err := s.syncTransactions(ctx, tx, budget.EntryExpense, saved.ExpenseEntries); err != nil {
			return err
		}
		if err := s.syncTransactions(ctx, tx, budget.EntryIncome, saved.IncomeEntries); err != nil {
			return err
		}
		for _, e := range events {
			if err := s.appendEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return budget.State{}, err
	}
	return saved, nil
}

// withTx executes fn within a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// TRANSACTIONS PROJECTION
// =============================================================================

// syncTransactions upserts every entry of one history and prunes keys
// that are no longer present.
func (s *Store) syncTransactions(ctx context.Context, db execer, t budget.EntryType, entries []budget.Entry) error {
	now := s.timestamp()
	keep := make(map[string]bool, len(entries))

	for _, e := range entries {
		key := e.Key(t)
		keep[key] = true
		_, err := db.ExecContext(ctx, `
			INSERT INTO transactions
			(entry_key, entry_type, entry_id, amount, category, entry_date, source, name, icon, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entry_key) DO UPDATE SET
				amount = excluded.amount,
				category = excluded.category,
				entry_date = excluded.entry_date,
				source = excluded.source,
				name = excluded.name,
				icon = excluded.icon,
				updated_at = excluded.updated_at
		`, key, string(t), e.ID, e.Amount.Round2().String(), e.CategoryOrDefault(), e.Date, e.Source, e.Name, e.Icon, now)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", key, err)
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT entry_key FROM transactions WHERE entry_type = ?`, string(t))
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}
	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		if !keep[key] {
			stale = append(stale, key)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, key := range stale {
		if _, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE entry_key = ?`, key); err != nil {
			return fmt.Errorf("failed to prune transaction %s: %w", key, err)
		}
	}
	return nil
}

// TransactionsForMonth returns one history's entries dated within m.
func (s *Store) TransactionsForMonth(ctx context.Context, t budget.EntryType, m schedule.Month) (budget.MonthTransactions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, amount, category, entry_date, source, name, icon
		FROM transactions
		WHERE entry_type = ? AND entry_date >= ? AND entry_date < ?
		ORDER BY entry_date DESC, entry_id DESC
	`, string(t), m.First().ISO(), m.Next().ISO())
	if err != nil {
		return budget.MonthTransactions{}, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	entries := []budget.Entry{}
	for rows.Next() {
		var e budget.Entry
		var amount string
		if err := rows.Scan(&e.ID, &amount, &e.Category, &e.Date, &e.Source, &e.Name, &e.Icon); err != nil {
			return budget.MonthTransactions{}, err
		}
		e.Amount, _ = schedule.ParseMoney(amount)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return budget.MonthTransactions{}, err
	}

	return budget.SummarizeMonth(t, m, entries), nil
}

// =============================================================================
// LEDGER
// =============================================================================

// appendEvent inserts a valid event unless its reference key is recorded.
func (s *Store) appendEvent(ctx context.Context, db execer, e budget.LedgerEvent) error {
	if !e.Valid() {
		return nil
	}
	e.Stamp(s.now())

	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_events
		(event_id, reference_key, event_type, amount, effective_date, currency, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventID, e.ReferenceKey, string(e.EventType), e.Amount.Round2().String(),
		e.EffectiveDate, strings.ToUpper(e.Currency), string(detailsJSON), e.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to append ledger event %s: %w", e.ReferenceKey, err)
	}
	return nil
}

// LedgerEvents returns up to limit events, newest first. limit <= 0 returns all.
func (s *Store) LedgerEvents(ctx context.Context, limit int) ([]budget.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, reference_key, event_type, amount, effective_date, currency, details_json, created_at
		FROM ledger_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	events := []budget.LedgerEvent{}
	for rows.Next() {
		var e budget.LedgerEvent
		var eventType, amount, detailsJSON, createdAt string
		if err := rows.Scan(&e.EventID, &e.ReferenceKey, &eventType, &amount, &e.EffectiveDate, &e.Currency, &detailsJSON, &createdAt); err != nil {
			return nil, err
		}
		e.EventType = budget.EventType(eventType)
		e.Amount, _ = schedule.ParseMoney(amount)
		e.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
		if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil || e.Details == nil {
			e.Details = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// SETTLEMENT RUNS
// =============================================================================

// SaveSettlementRun saves a settlement run.
func (s *Store) SaveSettlementRun(ctx context.Context, r budget.SettlementRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlement_runs (id, reason, ok, attempts, timezone, summary_json, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ok = excluded.ok,
			attempts = excluded.attempts,
			summary_json = excluded.summary_json,
			error = excluded.error
	`, r.ID, r.Reason, r.OK, r.Attempts, r.Timezone, string(summaryJSON),
		nullString(r.Error), createdAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to save settlement run: %w", err)
	}
	return nil
}

// LastSettlementRun returns the latest run, or nil when none ran yet.
func (s *Store) LastSettlementRun(ctx context.Context) (*budget.SettlementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r budget.SettlementRun
	var summaryJSON, createdAt string
	var runErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reason, ok, attempts, timezone, summary_json, error, created_at
		FROM settlement_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&r.ID, &r.Reason, &r.OK, &r.Attempts, &r.Timezone, &summaryJSON, &runErr, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement run: %w", err)
	}

	if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	r.Error = runErr.String
	r.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	return &r, nil
}

// Helper functions

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// decodeColumn parses a JSON column keeping numbers as json.Number.
// Broken JSON decodes to nil, which Sanitize treats as empty.
func decodeColumn(text string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ budget.StateStore = (*Store)(nil)
