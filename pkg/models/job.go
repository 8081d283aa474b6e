// Package models contains shared data models used across the dupreaper codebase.
package models

// JobStatus is the lifecycle state of a remote search job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	// JobStatusExpired is never reported by the platform. It is assigned when
	// the TTL elapses before the platform reaches a terminal state.
	JobStatusExpired JobStatus = "expired"
)

// IsTerminal reports whether no further transition can occur from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusExpired:
		return true
	default:
		return false
	}
}

func (s JobStatus) String() string { return string(s) }

// JobState is a single status observation of a remote search job.
type JobState struct {
	Status   JobStatus
	Progress float64 // 0..1 as reported by the platform
	Message  string  // platform-provided detail, set on failure
}

// Candidate is one duplicate event found by a discovery job.
// EventID is the content hash of the event; DedupKey locates the exact copy.
type Candidate struct {
	EventID  string `json:"event_id"`
	DedupKey string `json:"dedup_key"`
}
