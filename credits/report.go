package credits

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT - Per-user results of an orchestrated run
// =============================================================================

// Cohort names which population a run covered.
type Cohort string

const (
	CohortAll        Cohort = "all"
	CohortPrivileged Cohort = "privileged"
	CohortSingle     Cohort = "single"
)

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the result of resetting one user.
type Outcome struct {
	Identifier   string // as supplied: user ID or email
	UserID       UserID // empty when the identifier did not resolve
	Status       OutcomeStatus
	Previous     decimal.Decimal
	ZeroingEntry EntryID
	SettingEntry EntryID
	Err          error
}

// Report aggregates a run. It carries enough detail for a caller to pick an
// exit code; the orchestrators never exit the process themselves.
type Report struct {
	RunID      string
	Cohort     Cohort
	Target     decimal.Decimal
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Outcome

	// Err is set when the run could not proceed at all (e.g. user enumeration failed).
	Err error
}

func (r *Report) Succeeded() int { return r.count(OutcomeSucceeded) }
func (r *Report) Failed() int    { return r.count(OutcomeFailed) }

func (r *Report) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Results {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes in run order.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Results {
		if o.Status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the result for a user ID or identifier.
func (r *Report) Outcome(identifier string) (Outcome, bool) {
	for _, o := range r.Results {
		if o.Identifier == identifier || string(o.UserID) == identifier {
			return o, true
		}
	}
	return Outcome{}, false
}

// OK is true when the run proceeded and no user failed.
func (r *Report) OK() bool {
	return r.Err == nil && r.Failed() == 0
}

// ExitCode maps the report to process exit semantics.
func (r *Report) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}

func (r *Report) Status() RunStatus {
	switch {
	case r.Err != nil:
		return RunFailed
	case r.Failed() == 0:
		return RunCompleted
	case r.Succeeded() == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// Record converts the report into its persisted summary.
func (r *Report) Record() RunRecord {
	rec := RunRecord{
		ID:          r.RunID,
		Cohort:      r.Cohort,
		Target:      r.Target,
		Status:      r.Status(),
		Succeeded:   r.Succeeded(),
		Failed:      r.Failed(),
		StartedAt:   r.StartedAt,
		CompletedAt: r.FinishedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
