package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// PollResult is the terminal outcome of polling one job.
type PollResult struct {
	Status  models.JobStatus
	Message string
	Err     error
}

// Detail returns the human-readable reason for a non-Done result.
func (r PollResult) Detail() string {
	switch {
	case r.Err != nil && r.Message != "":
		return fmt.Sprintf("%s: %v", r.Message, r.Err)
	case r.Err != nil:
		return r.Err.Error()
	default:
		return r.Message
	}
}

// Poller checks job status at a fixed interval until the job is terminal or
// its TTL elapses. It never cancels jobs on the platform.
type Poller struct {
	client           JobClient
	maxCheckFailures int
	logger           *slog.Logger
	now              func() time.Time
}

// NewPoller creates a Poller. maxCheckFailures consecutive failed status
// checks turn the result into Failed.
func NewPoller(client JobClient, maxCheckFailures int, logger *slog.Logger) *Poller {
	if maxCheckFailures < 1 {
		maxCheckFailures = DefaultMaxCheckFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:           client,
		maxCheckFailures: maxCheckFailures,
		logger:           logger,
		now:              time.Now,
	}
}

// Poll returns Done or Failed as reported by the platform, Failed when status
// checks keep failing, or Expired when ttl elapses first. The result status is
// always terminal.
func (p *Poller) Poll(ctx context.Context, sid string, ttl, interval time.Duration) PollResult {
	start := p.now()
	failures := 0

	for {
		state, err := p.client.Status(ctx, sid)
		if err != nil {
			failures++
			p.logger.Warn("job status check failed", "sid", sid, "attempt", failures, "error", err)
			if failures >= p.maxCheckFailures {
				return PollResult{
					Status: models.JobStatusFailed,
					Err:    fmt.Errorf("%w: %d consecutive: %w", ErrCheckFailures, failures, err),
				}
			}
		} else {
			failures = 0
			if state.Status.IsTerminal() {
				return PollResult{Status: state.Status, Message: state.Message}
			}
			p.logger.Debug("job in progress", "sid", sid, "status", state.Status,
				"progress", fmt.Sprintf("%.2f%%", state.Progress*100))
		}

		if elapsed := p.now().Sub(start); elapsed >= ttl {
			return PollResult{
				Status:  models.JobStatusExpired,
				Message: fmt.Sprintf("not terminal after %s (ttl %s)", elapsed.Round(time.Millisecond), ttl),
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PollResult{Status: models.JobStatusExpired, Message: "polling stopped", Err: ctx.Err()}
		case <-timer.C:
		}
	}
}
