package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/store"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dupreaper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Applying again is a no-op.
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             connStr,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRun(index string) *models.Run {
	now := time.Now().UTC().Truncate(time.Microsecond)
	start := time.Date(2024, 2, 17, 0, 0, 0, 0, time.UTC)
	return &models.Run{
		ID:         uuid.New(),
		Index:      index,
		Start:      start,
		End:        start.Add(time.Hour),
		WindowSize: models.Duration(10 * time.Minute),
		Status:     models.RunStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "dr_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "dr_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		err := s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			Name:      "key-" + uuid.NewString()[:4],
			KeyHash:   "hash-" + uuid.NewString()[:4],
			KeyPrefix: "dr_" + uuid.NewString()[:4],
			Scopes:    []string{"read"},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "dr_revk",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.RevokeAPIKey(ctx, key.ID)
	require.NoError(t, err)

	// Should not appear in list or prefix lookup
	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "dr_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Revoking twice reports not found.
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.RevokeAPIKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "usage-key",
		KeyHash:   "hash",
		KeyPrefix: "dr_used",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.UpdateAPIKeyLastUsed(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "dr_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, Name: "dup1", KeyHash: "h1", KeyPrefix: "dr_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, Name: "dup2", KeyHash: "h2", KeyPrefix: "dr_dup2",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	err := s.CreateAPIKey(ctx, key2)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Run Tests ---

func TestRun_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun("main")
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Index)
	assert.Equal(t, models.RunStatusPending, got.Status)
	assert.Equal(t, models.Duration(10*time.Minute), got.WindowSize)
	assert.True(t, run.Start.Equal(got.Start))
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.Windows)
}

func TestRun_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_StatusLifecycleWithTotals(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun("main")
	require.NoError(t, s.CreateRun(ctx, run))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	totals := models.RunTotals{Candidates: 120, Batches: 3, Deleted: 118, FailedBatches: 1, ExpiredBatches: 0, FailedDiscovery: 2}
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted, store.WithTotals(totals)))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 120, got.Candidates)
	assert.Equal(t, 3, got.Batches)
	assert.Equal(t, int64(118), got.Deleted)
	assert.Equal(t, 1, got.FailedBatches)
	assert.Equal(t, 2, got.FailedDiscovery)
}

func TestRun_UpdateStatusToFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun("main")
	require.NoError(t, s.CreateRun(ctx, run))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))

	err := s.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, store.WithErrorMessage("splunk unreachable"))
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "splunk unreachable", *got.ErrorMessage)
}

func TestRun_UpdateStatusInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun("main")
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted) // pending -> completed is invalid
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestRun_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateRunStatus(context.Background(), uuid.New(), models.RunStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_Windows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun("main")
	require.NoError(t, s.CreateRun(ctx, run))

	deleted := int64(5)
	// Insert the later window first; GetRun returns them in time order.
	for _, offset := range []time.Duration{10 * time.Minute, 0} {
		earliest := run.Start.Add(offset)
		require.NoError(t, s.AddRunWindow(ctx, &models.RunWindow{
			ID:       uuid.New(),
			RunID:    run.ID,
			Earliest: earliest,
			Latest:   earliest.Add(10 * time.Minute),
			Summary: models.RunSummary{
				DiscoverySID:     "sid-" + offset.String(),
				DiscoveryStatus:  models.JobStatusDone,
				Candidates:       5,
				BatchesAttempted: 1,
				Deleted:          5,
				Outcomes: []models.BatchOutcome{
					{Index: 0, Records: 5, SID: "del-1", Status: models.JobStatusDone, Deleted: &deleted},
				},
			},
		}))
	}

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Windows, 2)
	assert.True(t, got.Windows[0].Earliest.Before(got.Windows[1].Earliest))
	assert.Equal(t, models.JobStatusDone, got.Windows[0].Summary.DiscoveryStatus)
	require.Len(t, got.Windows[0].Summary.Outcomes, 1)
	require.NotNil(t, got.Windows[0].Summary.Outcomes[0].Deleted)
	assert.Equal(t, int64(5), *got.Windows[0].Summary.Outcomes[0].Deleted)
}

func TestRun_AddWindowUnknownRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	now := time.Now().UTC()
	err := s.AddRunWindow(context.Background(), &models.RunWindow{
		ID: uuid.New(), RunID: uuid.New(), Earliest: now, Latest: now.Add(time.Minute),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateRun(ctx, newRun("main")))
	}
	other := newRun("security")
	require.NoError(t, s.CreateRun(ctx, other))
	require.NoError(t, s.UpdateRunStatus(ctx, other.ID, models.RunStatusRunning))

	runs, total, err := s.ListRuns(ctx, store.RunFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, runs, 2)

	runs, total, err = s.ListRuns(ctx, store.RunFilter{Index: "main", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 1)

	runs, total, err = s.ListRuns(ctx, store.RunFilter{Status: models.RunStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, other.ID, runs[0].ID)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
