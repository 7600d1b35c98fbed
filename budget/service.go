/*
service.go - Settlement orchestration over a StateStore

PURPOSE:
  Glues the pure reconciliation pass to storage. Every read-modify-write
  goes through optimistic locking: read the snapshot and its version,
  compute, write with the expected version, and on conflict start over
  from a fresh read.

RETRIES:
  RunSettlement makes up to MaxAttempts passes. Settled dates live in the
  snapshot, so a pass computed from a fresh read never re-books what a
  concurrent writer already booked. When all attempts conflict the run
  reports OK=false and returns the freshest state.

CLOCK:
  "Today" is the calendar date of Now() in Location. Tests pin both.

SEE ALSO:
  - reconcile.go: The pass itself
  - store.go: StateStore contract
  - api/handlers.go: HTTP surface
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/budget-engine/schedule"
)

// DefaultMaxAttempts bounds RunSettlement retries on version conflicts.
const DefaultMaxAttempts = 3

// Service runs settlements and state writes against a store.
type Service struct {
	Store       StateStore
	Scanner     schedule.Scanner
	Location    *time.Location
	MiddayHour  int
	MaxAttempts int
	Now         func() time.Time
	Logger      zerolog.Logger
}

// NewService creates a service with default scheduling parameters.
func NewService(store StateStore, logger zerolog.Logger) *Service {
	return &Service{
		Store:       store,
		Scanner:     schedule.NewScanner(schedule.DefaultHorizonMonths),
		Location:    time.Local,
		MiddayHour:  DefaultMiddayHour,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
		Logger:      logger,
	}
}

// LocalNow returns the current time in the configured location.
func (s *Service) LocalNow() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Today returns the calendar date of LocalNow.
func (s *Service) Today() schedule.Date {
	return schedule.DateOf(s.LocalNow())
}

func (s *Service) run(reason string) Run {
	return Run{
		Reason:     reason,
		Now:        s.LocalNow(),
		MiddayHour: s.MiddayHour,
		Scanner:    s.Scanner,
	}
}

// Timezone names the location "today" is computed in.
func (s *Service) Timezone() string {
	if s.Location == nil {
		return time.Local.String()
	}
	return s.Location.String()
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// RunResult is what RunSettlement returns to callers.
type RunResult struct {
	OK      bool    `json:"ok"`
	Changed bool    `json:"changed"`
	Summary Summary `json:"summary"`
	State   State   `json:"state"`
}

// RunSettlement reconciles the stored state and writes the result.
func (s *Service) RunSettlement(ctx context.Context, reason string) (RunResult, error) {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		current, err := s.Store.ReadState(ctx)
		if err != nil {
			return RunResult{}, fmt.Errorf("read state: %w", err)
		}

		result := Reconcile(current, s.run(reason))
		if !result.Summary.Changed {
			s.recordRun(ctx, reason, attempt, true, result.Summary, nil)
			return RunResult{OK: true, Summary: result.Summary, State: current}, nil
		}

		saved, err := s.Store.WriteState(ctx, result.State, current.Version, result.Events)
		if err != nil {
			if IsRetryable(err) {
				s.Logger.Debug().Str("reason", reason).Int("attempt", attempt).Err(err).Msg("settlement conflict, retrying")
				continue
			}
			return RunResult{}, fmt.Errorf("write state: %w", err)
		}

		s.recordRun(ctx, reason, attempt, true, result.Summary, nil)
		s.Logger.Info().
			Str("reason", reason).
			Int("settled_payments", result.Summary.SettledPayments).
			Int("settled_incomes", result.Summary.SettledIncomes).
			Str("balance_delta", result.Summary.BalanceDelta.String()).
			Int64("version", saved.Version).
			Msg("settlement applied")
		return RunResult{OK: true, Changed: true, Summary: result.Summary, State: saved}, nil
	}

	now := s.LocalNow()
	summary := Summary{
		BalanceDelta: schedule.Zero,
		RunAt:        now,
		Today:        schedule.DateOf(now).ISO(),
		IncludeToday: s.run(reason).IncludeToday(),
	}
	s.recordRun(ctx, reason, attempts, false, summary, ErrStateConflict)
	s.Logger.Warn().Str("reason", reason).Int("attempts", attempts).Msg("settlement gave up after repeated conflicts")

	latest, err := s.Store.ReadState(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("read state: %w", err)
	}
	return RunResult{OK: false, Summary: summary, State: latest}, nil
}

func (s *Service) recordRun(ctx context.Context, reason string, attempts int, ok bool, summary Summary, runErr error) {
	run := SettlementRun{
		ID:        uuid.NewString(),
		Reason:    reason,
		OK:        ok,
		Attempts:  attempts,
		Timezone:  s.Timezone(),
		Summary:   summary,
		CreatedAt: s.LocalNow(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.Store.SaveSettlementRun(ctx, run); err != nil {
		s.Logger.Error().Err(err).Str("reason", reason).Msg("failed to record settlement run")
	}
}

// LastRun returns the latest settlement run, or nil.
func (s *Service) LastRun(ctx context.Context) (*SettlementRun, error) {
	return s.Store.LastSettlementRun(ctx)
}

// =============================================================================
// STATE
// =============================================================================

// CurrentState runs an automatic pass, then returns the stored snapshot.
func (s *Service) CurrentState(ctx context.Context) (State, error) {
	if _, err := s.RunSettlement(ctx, "state_get"); err != nil {
		return State{}, err
	}
	return s.Store.ReadState(ctx)
}

// SaveState replaces the snapshot with next, provided the stored version
// still equals expectedVersion. Totals are rebuilt and manual balance
// events are recorded with the write.
func (s *Service) SaveState(ctx context.Context, next State, expectedVersion int64) (State, error) {
	if expectedVersion < 1 {
		return State{}, ErrInvalidVersion
	}

	current, err := s.Store.ReadState(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	next = next.Clone()
	next.Balance = next.Balance.Round2()
	next.RecomputeTotals()
	events := ManualBalanceEvents(current, next, expectedVersion, s.Today())

	saved, err := s.Store.WriteState(ctx, next, expectedVersion, events)
	if err != nil {
		var conflict *StateConflictError
		if errors.As(err, &conflict) {
			s.Logger.Info().Int64("expected", expectedVersion).Int64("current", conflict.CurrentVersion).Msg("state write rejected")
			return State{}, err
		}
		return State{}, fmt.Errorf("write state: %w", err)
	}

	s.Logger.Info().Int64("version", saved.Version).Int("ledger_events", len(events)).Msg("state saved")
	return saved, nil
}

// Reset replaces the snapshot with an empty one, keeping the version moving forward.
func (s *Service) Reset(ctx context.Context) (State, error) {
	saved, err := s.Store.WriteState(ctx, NewState(), 0, nil)
	if err != nil {
		return State{}, fmt.Errorf("reset state: %w", err)
	}
	s.Logger.Warn().Int64("version", saved.Version).Msg("state reset")
	return saved, nil
}

// =============================================================================
// READ MODELS
// =============================================================================

// Transactions returns one history's entries for a month.
func (s *Service) Transactions(ctx context.Context, t EntryType, m schedule.Month) (MonthTransactions, error) {
	return s.Store.TransactionsForMonth(ctx, t, m)
}

// Agenda returns the month's schedule as of today.
func (s *Service) Agenda(ctx context.Context, m schedule.Month) (Agenda, error) {
	state, err := s.Store.ReadState(ctx)
	if err != nil {
		return Agenda{}, fmt.Errorf("read state: %w", err)
	}
	return BuildAgenda(state, m, s.Today(), s.Scanner), nil
}

// Ledger returns recent ledger events, newest first.
func (s *Service) Ledger(ctx context.Context, limit int) ([]LedgerEvent, error) {
	return s.Store.LedgerEvents(ctx, limit)
}
