/*
scheduler.go - Scheduled balance resets

PURPOSE:
  Runs the full reset (every user, then the privileged list) on a cron
  schedule, the way the monthly balance reset job does.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field expressions)
  - A run is the bulk pass followed by the privileged pass
  - The privileged pass is skipped when the bulk pass could not enumerate
    users or when no privileged users are configured
  - Scheduled and manual runs never overlap; a tick that arrives while a
    run is in progress is skipped

CONFIGURATION (config.Reset):
  - Enabled:  RESET_BALANCE=true turns the schedule on
  - Schedule: RESET_BALANCE_TIME, e.g. "0 0 1 * *"
  - BulkAmount / PrivilegedUsers / PrivilegedAmount

USAGE:
  scheduler := NewResetScheduler(resetter, cfg.Reset, logger)
  if err := scheduler.Start(); err != nil { ... }
  defer scheduler.Stop()

SEE ALSO:
  - handlers.go: GetSchedule and the manual reset endpoints
  - credits/resetter.go: ResetAll / ResetPrivileged
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/credits"
)

// ResetScheduler runs the full reset on a cron schedule.
type ResetScheduler struct {
	resetter *credits.Resetter
	cfg      config.Reset
	logger   *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex // guards cron and entryID
	running sync.Mutex // held for the duration of a run
}

// NewResetScheduler creates a scheduler. cfg must have been validated.
func NewResetScheduler(resetter *credits.Resetter, cfg config.Reset, logger *slog.Logger) *ResetScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetScheduler{
		resetter: resetter,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
	}
}

// Enabled reports whether the schedule is switched on.
func (rs *ResetScheduler) Enabled() bool { return rs.cfg.Enabled }

// Start registers the schedule. A disabled scheduler logs and returns nil.
func (rs *ResetScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.cfg.Enabled {
		rs.logger.Info("Balance reset is disabled.")
		return nil
	}
	if rs.cron != nil {
		return nil
	}

	cl := cronLogger{rs.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	id, err := c.AddFunc(rs.cfg.Schedule, rs.tick)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", rs.cfg.Schedule, err)
	}
	c.Start()

	rs.cron = c
	rs.entryID = id
	rs.logger.Info("scheduler started", "schedule", rs.cfg.Schedule, "next_run", c.Entry(id).Next)
	return nil
}

// Stop halts the schedule and waits for a running reset to finish.
func (rs *ResetScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	rs.cron = nil
	rs.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	rs.logger.Info("scheduler stopped")
}

// NextRun returns the next scheduled time, or zero when not started.
func (rs *ResetScheduler) NextRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entryID).Next
}

func (rs *ResetScheduler) tick() {
	if !rs.running.TryLock() {
		rs.logger.Warn("previous reset still running, skipping scheduled run")
		return
	}
	defer rs.running.Unlock()

	bulk, privileged, err := rs.runLocked(context.Background())
	if err != nil {
		rs.logger.Error("scheduled reset failed", "error", err)
		return
	}
	attrs := []any{"bulk_status", bulk.Status()}
	if privileged != nil {
		attrs = append(attrs, "privileged_status", privileged.Status())
	}
	rs.logger.Info("scheduled reset finished", attrs...)
}

// RunNow performs the full reset immediately: every user to the bulk amount,
// then the privileged users to the privileged amount. privileged is nil when
// that pass was skipped.
func (rs *ResetScheduler) RunNow(ctx context.Context) (bulk, privileged *credits.Report, err error) {
	rs.running.Lock()
	defer rs.running.Unlock()
	return rs.runLocked(ctx)
}

func (rs *ResetScheduler) runLocked(ctx context.Context) (bulk, privileged *credits.Report, err error) {
	bulk, err = rs.resetter.ResetAll(ctx, rs.cfg.BulkAmount, true)
	if err != nil {
		return bulk, nil, fmt.Errorf("bulk reset: %w", err)
	}

	if len(rs.cfg.PrivilegedUsers) == 0 {
		rs.logger.Debug("no privileged users configured")
		return bulk, nil, nil
	}
	privileged, err = rs.resetter.ResetPrivileged(ctx, rs.cfg.PrivilegedUsers, rs.cfg.PrivilegedAmount)
	if err != nil {
		return bulk, privileged, fmt.Errorf("privileged reset: %w", err)
	}
	return bulk, privileged, nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
