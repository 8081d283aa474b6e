package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

const (
	DefaultTTL              = 180 * time.Second
	DefaultPollInterval     = 5 * time.Second
	DefaultBatchSize        = 5000
	DefaultMaxWorkers       = 1
	DefaultMaxCheckFailures = 3
)

// Config is the per-run policy shared by the discovery and deletion phases.
type Config struct {
	DiscoveryQuery   string
	Scope            spl.Scope
	TTL              time.Duration
	PollInterval     time.Duration
	BatchSize        int
	MaxWorkers       int
	MaxCheckFailures int
}

// Validate checks that the policy can drive a run.
func (c Config) Validate() error {
	switch {
	case c.DiscoveryQuery == "":
		return fmt.Errorf("%w: discovery query is required", ErrInvalidConfig)
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrInvalidBatchSize)
	case c.MaxWorkers < 1:
		return fmt.Errorf("%w: max workers must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// RunContext carries the configuration of one run and collects its outcomes.
// Recording is safe for concurrent use by pool workers.
type RunContext struct {
	Config Config

	// OnOutcome, when set, is called once per recorded batch outcome.
	// It may be called concurrently from several workers.
	OnOutcome func(models.BatchOutcome)

	mu       sync.Mutex
	summary  models.RunSummary
	recorded []bool
}

func NewRunContext(cfg Config) *RunContext {
	return &RunContext{
		Config:  cfg,
		summary: models.RunSummary{Outcomes: []models.BatchOutcome{}},
	}
}

func (rc *RunContext) begin() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.StartedAt = time.Now().UTC()
}

func (rc *RunContext) setDiscovery(sid string, status models.JobStatus, detail string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.DiscoverySID = sid
	rc.summary.DiscoveryStatus = status
	rc.summary.DiscoveryError = detail
}

func (rc *RunContext) setCandidates(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Candidates = n
}

// expect allocates one outcome slot per batch.
func (rc *RunContext) expect(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.BatchesAttempted = n
	rc.summary.Outcomes = make([]models.BatchOutcome, n)
	rc.recorded = make([]bool, n)
}

// record stores an outcome in its batch slot. A second outcome for the same
// batch is dropped and reported as false.
func (rc *RunContext) record(out models.BatchOutcome) bool {
	rc.mu.Lock()
	if out.Index < 0 || out.Index >= len(rc.recorded) || rc.recorded[out.Index] {
		rc.mu.Unlock()
		return false
	}
	rc.recorded[out.Index] = true
	rc.summary.Outcomes[out.Index] = out
	switch out.Status {
	case models.JobStatusDone:
		if out.Deleted != nil {
			rc.summary.Deleted += *out.Deleted
		}
	case models.JobStatusFailed:
		rc.summary.Failed++
	case models.JobStatusExpired:
		rc.summary.Expired++
	}
	hook := rc.OnOutcome
	rc.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return true
}

// Outcomes returns a copy of the outcomes recorded so far, indexed by batch.
func (rc *RunContext) Outcomes() []models.BatchOutcome {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]models.BatchOutcome, len(rc.summary.Outcomes))
	copy(out, rc.summary.Outcomes)
	return out
}

// finish stamps the completion time and returns an immutable copy of the summary.
func (rc *RunContext) finish() models.RunSummary {
	rc.mu.Lock()
	rc.summary.CompletedAt = time.Now().UTC()
	rc.mu.Unlock()
	return rc.Summary()
}

// Summary returns a copy of the current summary.
func (rc *RunContext) Summary() models.RunSummary {
	rc.mu.Lock()
	s := rc.summary
	rc.mu.Unlock()
	s.Outcomes = rc.Outcomes()
	return s
}
