package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// BatchOutcome is the terminal result of one deletion batch.
// Deleted is set only when Status is done; Error only when failed or expired.
type BatchOutcome struct {
	Index   int       `json:"index"`
	Records int       `json:"records"`
	SID     string    `json:"sid,omitempty"`
	Status  JobStatus `json:"status"`
	Deleted *int64    `json:"deleted,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RunSummary aggregates one discovery job and all of its deletion batches.
// Outcomes is indexed by batch index.
type RunSummary struct {
	DiscoverySID     string         `json:"discovery_sid,omitempty"`
	DiscoveryStatus  JobStatus      `json:"discovery_status"`
	DiscoveryError   string         `json:"discovery_error,omitempty"`
	Candidates       int            `json:"candidates"`
	BatchesAttempted int            `json:"batches_attempted"`
	Deleted          int64          `json:"deleted"`
	Failed           int            `json:"failed"`
	Expired          int            `json:"expired"`
	Outcomes         []BatchOutcome `json:"outcomes"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
}

// DiscoveryFailed reports whether the run ended before the deletion phase.
func (s RunSummary) DiscoveryFailed() bool {
	return s.DiscoveryStatus != JobStatusDone
}

// RunWindow is the persisted summary of one time window of a Run.
type RunWindow struct {
	ID       uuid.UUID  `db:"id"        json:"id"`
	RunID    uuid.UUID  `db:"run_id"    json:"run_id"`
	Earliest time.Time  `db:"earliest"  json:"earliest"`
	Latest   time.Time  `db:"latest"    json:"latest"`
	Summary  RunSummary `db:"summary"   json:"summary"`
}

// Run tracks a deduplication pass over an index and time range. The API returns
// the run on POST /api/v1/runs; clients poll GET /api/v1/runs/{run_id}.
type Run struct {
	ID               uuid.UUID   `db:"id"                 json:"id"`
	Index            string      `db:"index_name"         json:"index"`
	Start            time.Time   `db:"range_start"        json:"start"`
	End              time.Time   `db:"range_end"          json:"end"`
	WindowSize       Duration    `db:"window_seconds"     json:"window_size"`
	Status           string      `db:"status"             json:"status"`
	Candidates       int         `db:"candidates"         json:"candidates"`
	Batches          int         `db:"batches"            json:"batches"`
	Deleted          int64       `db:"deleted"            json:"deleted"`
	FailedBatches    int         `db:"failed_batches"     json:"failed_batches"`
	ExpiredBatches   int         `db:"expired_batches"    json:"expired_batches"`
	FailedDiscovery  int         `db:"failed_discoveries" json:"failed_discoveries"`
	ErrorMessage     *string     `db:"error_message"      json:"error_message,omitempty"`
	StartedAt        *time.Time  `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time  `db:"completed_at"       json:"completed_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"         json:"updated_at"`
	Windows          []RunWindow `db:"-"                  json:"windows,omitempty"`
}

// RunTotals is the sum of window summaries for a Run.
type RunTotals struct {
	Candidates      int
	Batches         int
	Deleted         int64
	FailedBatches   int
	ExpiredBatches  int
	FailedDiscovery int
}

// Add folds a window summary into the totals.
func (t *RunTotals) Add(s RunSummary) {
	t.Candidates += s.Candidates
	t.Batches += s.BatchesAttempted
	t.Deleted += s.Deleted
	t.FailedBatches += s.Failed
	t.ExpiredBatches += s.Expired
	if s.DiscoveryFailed() {
		t.FailedDiscovery++
	}
}
