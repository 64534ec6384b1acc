package models

import "time"

// Run outcome statuses.
const (
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunAborted   = "aborted"
)

// AreaFailure records one area-scoped failure inside an otherwise-continuing run.
type AreaFailure struct {
	Area        AreaKey `json:"area"`
	ListingType string  `json:"listing_type"`
	Reason      string  `json:"reason"`
}

// RunSummary is the per-run result handed back to the caller. A run always
// concludes with a summary; callers distinguish conflict-only partial failures
// from a systemic abort by Status.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	Status           string        `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	AreasProcessed   int           `json:"areas_processed"`
	SnapshotsWritten int           `json:"snapshots_written"`
	Failures         []AreaFailure `json:"failures,omitempty"`
}

// Duration is the wall-clock run time.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
