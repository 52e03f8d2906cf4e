/*
resetter.go - Bulk, privileged and single-user reset orchestration

PURPOSE:
  Applies Ledger.Reset to a population of users and aggregates the results
  into a Report. Used by the CLIs, the admin API and the reset scheduler.

ENTRY POINTS:
  ResetAll(target, force)            every known account ("all" cohort)
  ResetPrivileged(identifiers, amt)  configured subset ("privileged" cohort)
  ResetOne(identifier, target)       one account ("single" cohort)

FAULT ISOLATION:
  A failure resetting one user is recorded in the Report, logged, and the run
  continues with the next user. Nothing crosses a per-user boundary: panics
  inside a single reset are recovered into a failed Outcome.

CONFIRMATION:
  ResetAll with force=false asks the Confirmer. Anything but "yes" returns
  ErrUserCancelled before a single entry is written.

SCHEDULED ORDER:
  The scheduler calls ResetAll(bulk, force=true) and then, as a separate pass,
  ResetPrivileged(users, privileged). A privileged user therefore receives
  the standard reset first and is then overridden.

CONCURRENCY:
  Sequential by default. WithWorkers(n) resets up to n users at a time; the
  Report keeps the enumeration order regardless.

SEE ALSO:
  - ledger.go: The per-user Reset operation
  - report.go: Report and Outcome
  - api/scheduler.go: Schedule trigger
*/
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// RESETTER
// =============================================================================

type Resetter struct {
	ledger    *Ledger
	confirm   Confirmer
	runs      RunLog
	publisher Publisher
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Resetter.
type Option func(*Resetter)

// WithConfirmer sets who is asked before a non-forced bulk run.
func WithConfirmer(c Confirmer) Option {
	return func(r *Resetter) { r.confirm = c }
}

// WithRunLog records a summary of every finished run.
func WithRunLog(log RunLog) Option {
	return func(r *Resetter) { r.runs = log }
}

// WithPublisher publishes a ResetEvent for every finished run.
func WithPublisher(p Publisher) Option {
	return func(r *Resetter) { r.publisher = p }
}

// WithWorkers caps how many users are reset concurrently. n <= 1 is sequential.
func WithWorkers(n int) Option {
	return func(r *Resetter) { r.workers = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resetter) { r.logger = logger }
}

func NewResetter(ledger *Ledger, opts ...Option) *Resetter {
	r := &Resetter{
		ledger:  ledger,
		workers: 1,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resetter")
	return r
}

// Ledger returns the ledger the resetter writes to.
func (r *Resetter) Ledger() *Ledger { return r.ledger }

// =============================================================================
// ENTRY POINTS
// =============================================================================

// ResetAll resets every known account to target.
func (r *Resetter) ResetAll(ctx context.Context, target decimal.Decimal, force bool) (*Report, error) {
	if !force {
		ok, err := r.confirmed(ctx, "Are you sure you want to reset the balance for all users? (yes/no):")
		if err != nil {
			return nil, fmt.Errorf("read confirmation: %w", err)
		}
		if !ok {
			r.logger.Info("bulk reset cancelled")
			return nil, ErrUserCancelled
		}
	}

	report := r.newReport(CohortAll, target)

	ids, err := r.ledger.Store().ListUserIDs(ctx)
	if err != nil {
		report.Err = storageErr("list users", "", err)
		r.finish(ctx, report)
		return report, report.Err
	}

	subjects := make([]subject, len(ids))
	for i, id := range ids {
		subjects[i] = subject{identifier: string(id), userID: id}
	}

	r.logger.Info("bulk reset started", "run", report.RunID, "users", len(ids), "target", target.String())
	r.run(ctx, report, subjects)
	r.finish(ctx, report)
	return report, nil
}

// ResetPrivileged resets the configured identifiers to target.
// Blank identifiers are skipped and duplicates collapsed.
func (r *Resetter) ResetPrivileged(ctx context.Context, identifiers []string, target decimal.Decimal) (*Report, error) {
	report := r.newReport(CohortPrivileged, target)

	seen := make(map[string]bool)
	var subjects []subject
	for _, raw := range identifiers {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		subjects = append(subjects, subject{identifier: id})
	}

	r.logger.Info("privileged reset started", "run", report.RunID, "users", len(subjects), "target", target.String())
	r.run(ctx, report, subjects)
	r.finish(ctx, report)
	return report, nil
}

// ResetOne resets a single user. Unlike the cohort runs, a failure is also
// returned as the error so single-user callers can treat it as fatal.
func (r *Resetter) ResetOne(ctx context.Context, identifier string, target decimal.Decimal) (*Report, error) {
	report := r.newReport(CohortSingle, target)
	r.run(ctx, report, []subject{{identifier: strings.TrimSpace(identifier)}})
	r.finish(ctx, report)

	if out := report.Results[0]; out.Status == OutcomeFailed {
		return report, out.Err
	}
	return report, nil
}

// =============================================================================
// RUN LOOP
// =============================================================================

// subject is one user to reset. userID is empty until the identifier is resolved.
type subject struct {
	identifier string
	userID     UserID
}

func (r *Resetter) run(ctx context.Context, report *Report, subjects []subject) {
	report.Results = make([]Outcome, len(subjects))

	if r.workers <= 1 {
		for i, s := range subjects {
			report.Results[i] = r.resetSubject(ctx, s, report.Target)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, s := range subjects {
		i, s := i, s
		g.Go(func() error {
			report.Results[i] = r.resetSubject(ctx, s, report.Target)
			return nil
		})
	}
	_ = g.Wait() // per-user errors live in the outcomes
}

func (r *Resetter) resetSubject(ctx context.Context, s subject, target decimal.Decimal) (out Outcome) {
	out = Outcome{Identifier: s.identifier, UserID: s.userID}

	defer func() {
		if p := recover(); p != nil {
			out.Status = OutcomeFailed
			out.Err = fmt.Errorf("reset panicked: %v", p)
			r.logger.Error("balance reset panicked", "user", s.identifier, "panic", p)
		}
	}()

	if out.UserID == "" {
		acct, err := r.ledger.Resolve(ctx, s.identifier)
		if err != nil {
			return r.failed(out, err)
		}
		out.UserID = acct.ID
	}

	r.logger.Debug("processing user", "user", s.identifier)
	res, err := r.ledger.Reset(ctx, out.UserID, target)
	if err != nil {
		out.ZeroingEntry = res.ZeroingEntry
		return r.failed(out, err)
	}

	out.Status = OutcomeSucceeded
	out.Previous = res.Previous
	out.ZeroingEntry = res.ZeroingEntry
	out.SettingEntry = res.SettingEntry
	r.logger.Info("balance reset", "user", s.identifier, "previous", res.Previous.String(), "target", target.String())
	return out
}

func (r *Resetter) failed(out Outcome, err error) Outcome {
	out.Status = OutcomeFailed
	out.Err = err
	r.logger.Error("balance reset failed", "user", out.Identifier, "error", err)
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Resetter) confirmed(ctx context.Context, prompt string) (bool, error) {
	if r.confirm == nil {
		return false, nil
	}
	return r.confirm.Confirm(ctx, prompt)
}

func (r *Resetter) newReport(cohort Cohort, target decimal.Decimal) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Cohort:    cohort,
		Target:    target,
		StartedAt: r.now().UTC(),
	}
}

// finish stamps the report and hands it to the run log and publisher.
// Neither may fail the run.
func (r *Resetter) finish(ctx context.Context, report *Report) {
	report.FinishedAt = r.now().UTC()

	r.logger.Info("reset run finished",
		"run", report.RunID,
		"cohort", report.Cohort,
		"status", report.Status(),
		"succeeded", report.Succeeded(),
		"failed", report.Failed(),
	)

	if r.runs != nil {
		if err := r.runs.SaveRun(ctx, report.Record()); err != nil {
			r.logger.Warn("failed to save run record", "run", report.RunID, "error", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, report.Event()); err != nil {
			r.logger.Warn("failed to publish reset event", "run", report.RunID, "error", err)
		}
	}
}
