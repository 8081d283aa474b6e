package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// Pool runs deletion batches with bounded concurrency.
type Pool struct {
	client JobClient
	logger *slog.Logger
}

func NewPool(client JobClient, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{client: client, logger: logger}
}

// Run submits every batch, at most rc.Config.MaxWorkers in flight, and returns
// exactly one outcome per batch, indexed by position in batches.
//
// Cancelling ctx stops admission: batches not yet submitted are recorded as
// Failed with ErrNotSubmitted. Jobs already submitted are still polled until
// they finish or their TTL elapses.
func (p *Pool) Run(ctx context.Context, rc *RunContext, batches []Batch) []models.BatchOutcome {
	rc.expect(len(batches))
	if len(batches) == 0 {
		return rc.Outcomes()
	}

	cfg := rc.Config
	poller := NewPoller(p.client, cfg.MaxCheckFailures, p.logger)
	jobCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(max(cfg.MaxWorkers, 1))

	p.logger.Info("deleting duplicates", "batches", len(batches), "workers", max(cfg.MaxWorkers, 1))

	for i, b := range batches {
		b.Index = i
		if err := ctx.Err(); err != nil {
			p.record(rc, notSubmitted(b, err))
			continue
		}
		g.Go(func() error {
			p.runBatch(ctx, jobCtx, rc, poller, b)
			return nil
		})
	}
	_ = g.Wait()

	return rc.Outcomes()
}

// runBatch drives one batch to a terminal outcome. admitCtx gates submission;
// jobCtx is used for every call once the job exists.
func (p *Pool) runBatch(admitCtx, jobCtx context.Context, rc *RunContext, poller *Poller, b Batch) {
	out := models.BatchOutcome{Index: b.Index, Records: len(b.Records)}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in deletion worker", "batch", b.Index, "sid", out.SID, "error", r)
			out.Status = models.JobStatusFailed
			out.Deleted = nil
			out.Error = fmt.Sprintf("panic: %v", r)
			p.record(rc, out)
		}
	}()

	if err := admitCtx.Err(); err != nil {
		p.record(rc, notSubmitted(b, err))
		return
	}

	cfg := rc.Config
	sid, err := p.client.Submit(jobCtx, b.Query, cfg.TTL)
	if err != nil {
		p.logger.Error("deletion submit failed", "batch", b.Index, "records", len(b.Records), "error", err)
		out.Status = models.JobStatusFailed
		out.Error = fmt.Sprintf("submit: %v", err)
		p.record(rc, out)
		return
	}
	out.SID = sid
	p.logger.Info("deletion job submitted", "batch", b.Index, "sid", sid, "records", len(b.Records))

	res := poller.Poll(jobCtx, sid, cfg.TTL, cfg.PollInterval)
	out.Status = res.Status

	switch res.Status {
	case models.JobStatusDone:
		deleted, err := p.resultCount(jobCtx, sid, cfg.MaxCheckFailures, cfg.PollInterval)
		if err != nil {
			out.Status = models.JobStatusFailed
			out.Error = fmt.Sprintf("deleted count unavailable: %v", err)
			break
		}
		out.Deleted = &deleted
	case models.JobStatusFailed:
		out.Error = res.Detail()
		if out.Error == "" {
			out.Error = "platform reported failure"
		}
	default:
		out.Error = res.Detail()
	}

	if out.Status == models.JobStatusDone {
		p.logger.Info("deletion batch done", "batch", b.Index, "sid", sid, "deleted", *out.Deleted, "records", len(b.Records))
	} else {
		p.logger.Warn("deletion batch not done", "batch", b.Index, "sid", sid, "status", out.Status, "error", out.Error)
	}
	p.record(rc, out)
}

// resultCount fetches the deleted count, retrying transient failures with
// exponential backoff starting at interval. At most attempts calls are made.
func (p *Pool) resultCount(ctx context.Context, sid string, attempts int, interval time.Duration) (int64, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = max(interval, time.Millisecond)
	expBackoff.RandomizationFactor = 0
	expBackoff.Multiplier = 2
	expBackoff.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(max(attempts, 1)-1)), ctx)

	var n int64
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		n, err = p.client.ResultCount(ctx, sid)
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("fetching deleted count failed, will retry", "sid", sid, "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return 0, err
	}
	return n, nil
}

// record stores out in rc, logging outcomes rc refuses as duplicates.
func (p *Pool) record(rc *RunContext, out models.BatchOutcome) {
	if !rc.record(out) {
		p.logger.Error("dropping unexpected batch outcome", "batch", out.Index, "status", out.Status, "sid", out.SID)
	}
}

func notSubmitted(b Batch, cause error) models.BatchOutcome {
	return models.BatchOutcome{
		Index:   b.Index,
		Records: len(b.Records),
		Status:  models.JobStatusFailed,
		Error:   fmt.Errorf("%w: %w", ErrNotSubmitted, cause).Error(),
	}
}
