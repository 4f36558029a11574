package domain

import (
	"time"
)

// CollectionState enumerates the lifecycle of one collection job.
type CollectionState string

const (
	CollectionPending         CollectionState = "pending"
	CollectionInFlight        CollectionState = "in_flight"
	CollectionSucceeded       CollectionState = "succeeded"
	CollectionFailedRetryable CollectionState = "failed_retryable"
	CollectionFailedTerminal  CollectionState = "failed_terminal"
	CollectionSkipped         CollectionState = "skipped"
)

// IsTerminal returns true once the job will not run again within this run.
func (s CollectionState) IsTerminal() bool {
	switch s {
	case CollectionSucceeded, CollectionFailedTerminal, CollectionSkipped:
		return true
	}
	return false
}

// JobResult records the outcome of one (tenant, platform, period) collection.
type JobResult struct {
	Tenant   string          `json:"tenant"`
	Platform string          `json:"platform"`
	PeriodID string          `json:"period_id"`
	State    CollectionState `json:"state"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

// RunReport summarizes one refresh run across all tenants.
type RunReport struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Tenants    int         `json:"tenants"`
	Jobs       []JobResult `json:"jobs"`
}

// Counts tallies job outcomes by state.
func (r RunReport) Counts() map[CollectionState]int {
	out := make(map[CollectionState]int)
	for _, j := range r.Jobs {
		out[j.State]++
	}
	return out
}

// Failed returns the jobs that ended in a failure state.
func (r RunReport) Failed() []JobResult {
	var out []JobResult
	for _, j := range r.Jobs {
		if j.State == CollectionFailedTerminal || j.State == CollectionFailedRetryable {
			out = append(out, j)
		}
	}
	return out
}
