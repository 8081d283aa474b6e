// Package dedup runs duplicate discovery and batched deletion jobs against a
// remote search platform.
package dedup

import (
	"context"
	"time"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// JobClient submits search jobs and reports their status.
// Implementations must be safe for concurrent use.
type JobClient interface {
	// Submit starts a search job and returns its handle (sid).
	Submit(ctx context.Context, query string, ttl time.Duration) (string, error)
	// Status reports the current platform-side state of a job.
	Status(ctx context.Context, sid string) (models.JobState, error)
	// ResultCount returns the number of events a finished deletion job removed.
	ResultCount(ctx context.Context, sid string) (int64, error)
}

// ResultExtractor turns a finished discovery job into duplicate candidates.
type ResultExtractor interface {
	Extract(ctx context.Context, sid string) ([]models.Candidate, error)
}
