/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically runs a reconciliation pass so due occurrences get settled
  even when no client is reading the state. Every pass is an ordinary
  budget.Service.RunSettlement with reason "scheduled", so it is
  idempotent and races with client writes are handled by the service's
  retry on version conflict.

DESIGN:
  - robfig/cron drives the schedule ("@every 1h", "5 * * * *", ...)
  - Overlapping passes are skipped, never queued
  - Runs once immediately on Start
  - Every run is recorded by the service for GET /api/settlements/status,
    which also reports NextRunTime

USAGE:
  scheduler, err := NewSettlementScheduler(svc, "@every 1h", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: POST /api/settlements/run (manual pass)
  - budget/service.go: RunSettlement
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/warp/budget-engine/budget"
)

// ScheduledReason is the run reason of scheduler passes.
const ScheduledReason = "scheduled"

// DefaultSchedule runs a pass every hour.
const DefaultSchedule = "@every 1h"

// SettlementScheduler runs reconciliation passes on a cron schedule.
type SettlementScheduler struct {
	Service *budget.Service
	Logger  zerolog.Logger

	// RunTimeout bounds a single pass.
	RunTimeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewSettlementScheduler creates a scheduler. The cron spec is validated
// here so a typo fails at startup.
func NewSettlementScheduler(svc *budget.Service, spec string, logger zerolog.Logger) (*SettlementScheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	loc := svc.Location
	if loc == nil {
		loc = time.Local
	}

	rs := &SettlementScheduler{
		Service:    svc,
		Logger:     logger,
		RunTimeout: time.Minute,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}

	id, err := rs.cron.AddFunc(spec, rs.RunNow)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement schedule %q: %w", spec, err)
	}
	rs.entryID = id
	return rs, nil
}

// Start begins the scheduler and runs one pass right away.
func (rs *SettlementScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.started {
		return
	}
	rs.started = true
	rs.cron.Start()

	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		rs.RunNow()
	}()

	rs.Logger.Info().Msg("settlement scheduler started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *SettlementScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.started {
		return
	}
	rs.started = false
	<-rs.cron.Stop().Done()
	rs.wg.Wait()
	rs.Logger.Info().Msg("settlement scheduler stopped")
}

// RunNow runs one pass synchronously.
func (rs *SettlementScheduler) RunNow() {
	timeout := rs.RunTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := rs.Service.RunSettlement(ctx, ScheduledReason)
	if err != nil {
		rs.Logger.Error().Err(err).Msg("scheduled settlement failed")
		return
	}
	if !result.OK {
		rs.Logger.Warn().Msg("scheduled settlement gave up after repeated version conflicts")
		return
	}
	if result.Changed {
		rs.Logger.Info().
			Int("payments", result.Summary.SettledPayments).
			Int("incomes", result.Summary.SettledIncomes).
			Str("delta", result.Summary.BalanceDelta.String()).
			Msg("scheduled settlement applied")
	}
}

// NextRunTime returns when the next scheduled pass will occur. It reports
// false while the scheduler is stopped or has not planned its first pass yet.
func (rs *SettlementScheduler) NextRunTime() (time.Time, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.started {
		return time.Time{}, false
	}
	next := rs.cron.Entry(rs.entryID).Next
	return next, !next.IsZero()
}
