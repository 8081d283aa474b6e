package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Runs ---

const runColumns = `id, index_name, range_start, range_end, window_seconds, status,
	candidates, batches, deleted, failed_batches, expired_batches, failed_discoveries,
	error_message, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var r models.Run
	var windowSecs int64
	err := row.Scan(&r.ID, &r.Index, &r.Start, &r.End, &windowSecs, &r.Status,
		&r.Candidates, &r.Batches, &r.Deleted, &r.FailedBatches, &r.ExpiredBatches, &r.FailedDiscovery,
		&r.ErrorMessage, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.WindowSize = models.Duration(time.Duration(windowSecs) * time.Second)
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, index_name, range_start, range_end, window_seconds, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Index, run.Start, run.End, int64(time.Duration(run.WindowSize)/time.Second),
		run.Status, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun returns the run with its window summaries in time order.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, earliest, latest, summary FROM run_windows WHERE run_id = $1 ORDER BY earliest`, id)
	if err != nil {
		return nil, fmt.Errorf("list run windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w models.RunWindow
		var raw []byte
		if err := rows.Scan(&w.ID, &w.RunID, &w.Earliest, &w.Latest, &raw); err != nil {
			return nil, fmt.Errorf("scan run window: %w", err)
		}
		if err := json.Unmarshal(raw, &w.Summary); err != nil {
			return nil, fmt.Errorf("decode run window summary: %w", err)
		}
		run.Windows = append(run.Windows, w)
	}
	return run, rows.Err()
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filter.Index != "" {
		where += fmt.Sprintf(" AND index_name = $%d", argIdx)
		args = append(args, filter.Index)
		argIdx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM runs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := max(filter.Page, 1)

	query := fmt.Sprintf(`SELECT `+runColumns+` FROM runs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

var validTransitions = map[string][]string{
	models.RunStatusPending: {models.RunStatusRunning, models.RunStatusFailed},
	models.RunStatusRunning: {models.RunStatusCompleted, models.RunStatusFailed},
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error {
	params := &RunUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}

	if !slices.Contains(validTransitions[currentStatus], status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE runs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.RunStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.RunStatusCompleted || status == models.RunStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if t := params.Totals; t != nil {
		query += fmt.Sprintf(", candidates = $%d, batches = $%d, deleted = $%d, failed_batches = $%d, expired_batches = $%d, failed_discoveries = $%d",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4, argIdx+5)
		args = append(args, t.Candidates, t.Batches, t.Deleted, t.FailedBatches, t.ExpiredBatches, t.FailedDiscovery)
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// AddRunWindow persists the summary of one processed window.
func (s *PostgresStore) AddRunWindow(ctx context.Context, w *models.RunWindow) error {
	summary, err := json.Marshal(w.Summary)
	if err != nil {
		return fmt.Errorf("encode run window summary: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_windows (id, run_id, earliest, latest, summary) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.RunID, w.Earliest, w.Latest, summary)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return fmt.Errorf("add run window: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
