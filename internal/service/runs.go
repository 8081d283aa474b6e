// Package service runs deduplication passes over an index and time range,
// one discovery window at a time, and records their progress.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dupreaper/internal/artifact"
	"github.com/kiranshivaraju/dupreaper/internal/cache"
	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/internal/store"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

const (
	// MaxWindows bounds the number of discovery searches a single run may issue.
	MaxWindows = 10_000

	DefaultLockTTL   = 6 * time.Hour
	statusCacheTTL   = 24 * time.Hour
	progressCacheTTL = 24 * time.Hour
)

var (
	ErrInvalidRequest = errors.New("invalid run request")
	ErrIndexBusy      = errors.New("a run is already active for this index")
	ErrNoStore        = errors.New("run store not configured")
)

var indexNameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// RunRequest describes a deduplication pass.
type RunRequest struct {
	Index      string
	Start      time.Time
	End        time.Time
	WindowSize time.Duration // zero selects the configured default
}

// Progress is the cached view of a run in flight.
type Progress struct {
	WindowsDone  int              `json:"windows_done"`
	WindowsTotal int              `json:"windows_total"`
	BatchesDone  int              `json:"batches_done"`
	Totals       models.RunTotals `json:"totals"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Option configures a RunService.
type Option func(*RunService)

// WithStore persists runs and their window summaries.
func WithStore(s store.Store) Option {
	return func(svc *RunService) { svc.store = s }
}

// WithCache enables the per-index lock and cached status and progress.
func WithCache(c cache.Cache) Option {
	return func(svc *RunService) { svc.cache = c }
}

// WithExporter writes every window's discovery results to disk.
func WithExporter(e *artifact.Exporter) Option {
	return func(svc *RunService) { svc.exporter = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(svc *RunService) { svc.logger = l }
}

// WithLockTTL overrides how long an index lock survives without release.
func WithLockTTL(d time.Duration) Option {
	return func(svc *RunService) { svc.lockTTL = d }
}

// RunService executes runs window by window. Store, cache and exporter are
// optional; without a store only Execute is usable.
type RunService struct {
	client    dedup.JobClient
	extractor dedup.ResultExtractor
	builder   spl.QueryBuilder
	policy    config.DedupConfig

	store    store.Store
	cache    cache.Cache
	exporter *artifact.Exporter
	logger   *slog.Logger
	lockTTL  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunService creates a RunService. policy supplies the job TTL, poll
// interval, batch size, worker count and SPL settings for every window.
func NewRunService(client dedup.JobClient, extractor dedup.ResultExtractor, policy config.DedupConfig, opts ...Option) *RunService {
	builder := spl.NewQueryBuilder()
	if policy.EventIDExpr != "" {
		builder.EventIDExpr = policy.EventIDExpr
	}
	if policy.KeyField != "" {
		builder.KeyField = policy.KeyField
	}

	if policy.TTL <= 0 {
		policy.TTL = dedup.DefaultTTL
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = dedup.DefaultPollInterval
	}
	if policy.BatchSize < 1 {
		policy.BatchSize = dedup.DefaultBatchSize
	}
	if policy.MaxWorkers < 1 {
		policy.MaxWorkers = dedup.DefaultMaxWorkers
	}
	if policy.MaxCheckFailures < 1 {
		policy.MaxCheckFailures = dedup.DefaultMaxCheckFailures
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &RunService{
		client:    client,
		extractor: extractor,
		builder:   builder,
		policy:    policy,
		logger:    slog.Default(),
		lockTTL:   DefaultLockTTL,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewRun validates req and returns a pending Run for it.
func (s *RunService) NewRun(req RunRequest) (*models.Run, error) {
	if !indexNameRE.MatchString(req.Index) {
		return nil, fmt.Errorf("%w: index %q is not a valid index name", ErrInvalidRequest, req.Index)
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}

	size := req.WindowSize
	if size == 0 {
		size = s.policy.Window
	}
	if size <= 0 {
		size = dedup.DefaultWindowSize
	}
	if size < time.Second {
		return nil, fmt.Errorf("%w: window must be at least 1s", ErrInvalidRequest)
	}
	if n := (req.End.Sub(req.Start) + size - 1) / size; n > MaxWindows {
		return nil, fmt.Errorf("%w: range spans %d windows, limit is %d", ErrInvalidRequest, n, MaxWindows)
	}

	now := time.Now().UTC()
	return &models.Run{
		ID:         uuid.New(),
		Index:      req.Index,
		Start:      req.Start.UTC(),
		End:        req.End.UTC(),
		WindowSize: models.Duration(size),
		Status:     models.RunStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Start validates and persists a run, then executes it in the background.
// It returns as soon as the run is recorded as pending.
func (s *RunService) Start(ctx context.Context, req RunRequest) (*models.Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	run, err := s.NewRun(req)
	if err != nil {
		return nil, err
	}

	lockKey := cache.IndexLockKey(run.Index)
	owner := run.ID.String()
	if s.cache != nil {
		ok, err := s.cache.AcquireLock(ctx, lockKey, owner, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrIndexBusy, run.Index)
		}
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		s.releaseLock(lockKey, owner)
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.cacheStatus(ctx, run.ID, run.Status)

	snapshot := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseLock(lockKey, owner)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in run", "run_id", run.ID, "error", r)
				s.fail(run, fmt.Sprintf("internal error: %v", r))
			}
		}()

		if _, err := s.Execute(s.baseCtx, run); err != nil {
			s.logger.Warn("run ended early", "run_id", run.ID, "error", err)
		}
	}()

	s.logger.Info("run accepted", "run_id", run.ID, "index", run.Index,
		"start", run.Start, "end", run.End, "window", time.Duration(run.WindowSize))
	return &snapshot, nil
}

// Execute processes every window of run in order and returns it completed or
// failed with totals filled in. Cancelling ctx stops before the next window;
// the window in progress stops admitting deletion batches.
func (s *RunService) Execute(ctx context.Context, run *models.Run) (*models.Run, error) {
	log := s.logger.With("run_id", run.ID, "index", run.Index)
	persistCtx := context.WithoutCancel(ctx)

	windows := dedup.Windows(run.Start, run.End, time.Duration(run.WindowSize))
	started := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &started
	if s.store != nil {
		if err := s.store.UpdateRunStatus(persistCtx, run.ID, models.RunStatusRunning); err != nil {
			log.Error("marking run running failed", "error", err)
		}
	}
	s.cacheStatus(persistCtx, run.ID, run.Status)
	log.Info("run started", "windows", len(windows))

	progress := &progressTracker{total: len(windows)}
	var totals models.RunTotals
	var runErr error

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("cancelled after %d of %d windows: %w", i, len(windows), err)
			break
		}

		summary := s.runWindow(ctx, run, w, progress)
		totals.Add(summary)

		window := models.RunWindow{
			ID:       uuid.New(),
			RunID:    run.ID,
			Earliest: w.Earliest,
			Latest:   w.Latest,
			Summary:  summary,
		}
		run.Windows = append(run.Windows, window)
		if s.store != nil {
			if err := s.store.AddRunWindow(persistCtx, &window); err != nil {
				log.Error("persisting window summary failed", "earliest", w.Earliest, "error", err)
			}
		}

		s.cacheProgress(persistCtx, run.ID, progress.windowDone(totals))
	}

	applyTotals(run, totals)
	completed := time.Now().UTC()
	run.CompletedAt = &completed

	opts := []store.RunUpdateOption{store.WithTotals(totals)}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.RunStatusFailed
		run.ErrorMessage = &msg
		opts = append(opts, store.WithErrorMessage(msg))
	} else {
		run.Status = models.RunStatusCompleted
	}

	if s.store != nil {
		if err := s.store.UpdateRunStatus(persistCtx, run.ID, run.Status, opts...); err != nil {
			log.Error("recording run result failed", "error", err)
		}
	}
	s.cacheStatus(persistCtx, run.ID, run.Status)

	log.Info("run finished", "status", run.Status, "windows", len(run.Windows),
		"candidates", totals.Candidates, "deleted", totals.Deleted,
		"failed_batches", totals.FailedBatches, "expired_batches", totals.ExpiredBatches,
		"failed_discoveries", totals.FailedDiscovery)
	return run, runErr
}

func (s *RunService) runWindow(ctx context.Context, run *models.Run, w dedup.Window, progress *progressTracker) models.RunSummary {
	scope := spl.Scope{Index: run.Index, Earliest: w.Earliest, Latest: w.Latest}

	rc := dedup.NewRunContext(dedup.Config{
		DiscoveryQuery:   s.builder.BuildDiscoveryQuery(scope),
		Scope:            scope,
		TTL:              s.policy.TTL,
		PollInterval:     s.policy.PollInterval,
		BatchSize:        s.policy.BatchSize,
		MaxWorkers:       s.policy.MaxWorkers,
		MaxCheckFailures: s.policy.MaxCheckFailures,
	})
	rc.OnOutcome = func(models.BatchOutcome) {
		s.cacheProgress(context.WithoutCancel(ctx), run.ID, progress.batchDone())
	}

	extractor := s.extractor
	var exported *artifact.Extractor
	if s.exporter != nil {
		exported = s.exporter.Wrap(s.extractor, scope)
		extractor = exported
	}

	summary := dedup.NewOrchestrator(s.client, extractor, s.builder, s.logger).RunOnce(ctx, rc)
	if exported != nil {
		exported.Finish()
	}
	return summary
}

// Get returns a stored run with its window summaries.
func (s *RunService) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.GetRun(ctx, id)
}

// List returns stored runs, newest first.
func (s *RunService) List(ctx context.Context, filter store.RunFilter) ([]*models.Run, int, error) {
	if s.store == nil {
		return nil, 0, ErrNoStore
	}
	return s.store.ListRuns(ctx, filter)
}

// Progress returns the cached progress of a run, if any.
func (s *RunService) Progress(ctx context.Context, id uuid.UUID) (*Progress, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	raw, found, err := s.cache.Get(ctx, cache.RunProgressKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("decode run progress: %w", err)
	}
	return &p, true, nil
}

// Shutdown cancels active runs and waits for them to record their result.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RunService) fail(run *models.Run, msg string) {
	if s.store == nil {
		return
	}
	ctx := context.Background()
	current, err := s.store.GetRun(ctx, run.ID)
	if err != nil {
		s.logger.Error("loading run after failure", "run_id", run.ID, "error", err)
		return
	}
	if current.Status == models.RunStatusCompleted || current.Status == models.RunStatusFailed {
		return
	}
	if err := s.store.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, store.WithErrorMessage(msg)); err != nil {
		s.logger.Error("marking run failed", "run_id", run.ID, "error", err)
	}
	s.cacheStatus(ctx, run.ID, models.RunStatusFailed)
}

func (s *RunService) releaseLock(key, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ReleaseLock(context.Background(), key, owner); err != nil {
		s.logger.Error("releasing index lock failed", "key", key, "error", err)
	}
}

func (s *RunService) cacheStatus(ctx context.Context, id uuid.UUID, status string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRunStatus(ctx, id, status, statusCacheTTL); err != nil {
		s.logger.Warn("caching run status failed", "run_id", id, "error", err)
	}
}

func (s *RunService) cacheProgress(ctx context.Context, id uuid.UUID, p Progress) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.RunProgressKey(id), raw, progressCacheTTL); err != nil {
		s.logger.Warn("caching run progress failed", "run_id", id, "error", err)
	}
}

func applyTotals(run *models.Run, t models.RunTotals) {
	run.Candidates = t.Candidates
	run.Batches = t.Batches
	run.Deleted = t.Deleted
	run.FailedBatches = t.FailedBatches
	run.ExpiredBatches = t.ExpiredBatches
	run.FailedDiscovery = t.FailedDiscovery
}

// progressTracker is updated from pool workers and the window loop.
type progressTracker struct {
	mu      sync.Mutex
	total   int
	windows int
	batches int
	totals  models.RunTotals
}

func (p *progressTracker) batchDone() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	return p.snapshot()
}

func (p *progressTracker) windowDone(totals models.RunTotals) Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows++
	p.totals = totals
	return p.snapshot()
}

func (p *progressTracker) snapshot() Progress {
	return Progress{
		WindowsDone:  p.windows,
		WindowsTotal: p.total,
		BatchesDone:  p.batches,
		Totals:       p.totals,
		UpdatedAt:    time.Now().UTC(),
	}
}
