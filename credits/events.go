package credits

import (
	"context"
	"time"
)

// ResetEvent is published once per finished run.
type ResetEvent struct {
	RunID      string    `json:"run_id"`
	Cohort     Cohort    `json:"cohort"`
	Target     string    `json:"target"`
	Status     RunStatus `json:"status"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FailedIDs  []string  `json:"failed_ids,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers reset events to downstream consumers (quota caches, billing).
type Publisher interface {
	Publish(ctx context.Context, event ResetEvent) error
}

// Event converts the report into its published form.
func (r *Report) Event() ResetEvent {
	ev := ResetEvent{
		RunID:      r.RunID,
		Cohort:     r.Cohort,
		Target:     r.Target.String(),
		Status:     r.Status(),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, o := range r.Failures() {
		ev.FailedIDs = append(ev.FailedIDs, o.Identifier)
	}
	return ev
}
