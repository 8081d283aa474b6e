package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

// Orchestrator runs one discovery job and then deletes what it found.
type Orchestrator struct {
	client    JobClient
	extractor ResultExtractor
	builder   spl.QueryBuilder
	pool      *Pool
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. The builder renders deletion
// queries and must use the same event hash as the discovery query.
func NewOrchestrator(client JobClient, extractor ResultExtractor, builder spl.QueryBuilder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:    client,
		extractor: extractor,
		builder:   builder,
		pool:      NewPool(client, logger),
		logger:    logger,
	}
}

// RunOnce discovers duplicates, plans batches and deletes them. It always
// returns a well-formed summary; when discovery does not finish as Done no
// deletion is attempted.
func (o *Orchestrator) RunOnce(ctx context.Context, rc *RunContext) models.RunSummary {
	rc.begin()
	cfg := rc.Config
	log := o.logger.With("index", cfg.Scope.Index, "earliest", cfg.Scope.Earliest.Unix(), "latest", cfg.Scope.Latest.Unix())

	if err := cfg.Validate(); err != nil {
		rc.setDiscovery("", models.JobStatusFailed, fmt.Errorf("%w: %w", ErrNotSubmitted, err).Error())
		return rc.finish()
	}
	if err := ctx.Err(); err != nil {
		rc.setDiscovery("", models.JobStatusFailed, fmt.Errorf("%w: %w", ErrNotSubmitted, err).Error())
		return rc.finish()
	}

	// Discover
	sid, err := o.client.Submit(ctx, cfg.DiscoveryQuery, cfg.TTL)
	if err != nil {
		log.Error("discovery submit failed", "error", err)
		rc.setDiscovery("", models.JobStatusFailed, fmt.Sprintf("submit: %v", err))
		return rc.finish()
	}
	log.Info("discovery job submitted", "sid", sid)

	res := NewPoller(o.client, cfg.MaxCheckFailures, o.logger).
		Poll(context.WithoutCancel(ctx), sid, cfg.TTL, cfg.PollInterval)
	if res.Status != models.JobStatusDone {
		detail := res.Detail()
		if detail == "" {
			detail = "platform reported failure"
		}
		log.Warn("discovery did not finish", "sid", sid, "status", res.Status, "error", detail)
		rc.setDiscovery(sid, res.Status, detail)
		return rc.finish()
	}

	// Extract
	records, err := o.extractor.Extract(ctx, sid)
	if err != nil {
		log.Error("extracting discovery results failed", "sid", sid, "error", err)
		rc.setDiscovery(sid, models.JobStatusFailed, fmt.Sprintf("extract results: %v", err))
		return rc.finish()
	}
	rc.setDiscovery(sid, models.JobStatusDone, "")
	rc.setCandidates(len(records))
	if len(records) == 0 {
		log.Info("no duplicate events found", "sid", sid)
		return rc.finish()
	}
	log.Info("duplicate events found", "sid", sid, "candidates", len(records))

	// Plan
	batches, err := NewPlanner(o.builder, cfg.Scope).Plan(records, cfg.BatchSize)
	if err != nil {
		// Unreachable after Validate; kept so a planner change cannot lose the run.
		rc.setDiscovery(sid, models.JobStatusFailed, fmt.Sprintf("plan: %v", err))
		return rc.finish()
	}

	// Delete
	o.pool.Run(ctx, rc, batches)

	summary := rc.finish()
	log.Info("run finished", "candidates", summary.Candidates, "batches", summary.BatchesAttempted,
		"deleted", summary.Deleted, "failed", summary.Failed, "expired", summary.Expired)
	return summary
}
