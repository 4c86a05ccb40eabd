package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
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
		postgres.WithDatabase("castwrite_test"),
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

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// seedUser creates a user and returns its id.
func seedUser(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:        uuid.New(),
		Email:     uuid.NewString()[:8] + "@example.com",
		Name:      "Test User",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u.ID
}

// seedSubscription creates an active subscription with the given budget.
func seedSubscription(t *testing.T, s store.Store, userID uuid.UUID, plan models.PlanTier, remaining int) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:             uuid.New(),
		UserID:         userID,
		Plan:           plan,
		RemainingPosts: remaining,
		Status:         models.SubscriptionActive,
		CycleEndsAt:    now.Add(30 * 24 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateSubscription(context.Background(), sub))
	return sub.ID
}

// seedJob creates a queued job for the user.
func seedJob(t *testing.T, s store.Store, userID uuid.UUID) *models.TranscriptionJob {
	t.Helper()
	now := time.Now().UTC()
	job := &models.TranscriptionJob{
		ID:          uuid.New(),
		UserID:      userID,
		ArtifactKey: "artifacts/" + uuid.NewString(),
		SourceKind:  models.SourceUpload,
		MimeType:    "audio/mpeg",
		Language:    "en",
		Status:      models.JobStatusQueued,
		EnqueuedAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Subscription Tests ---

func TestGetActiveSubscription(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	seedSubscription(t, s, userID, models.PlanBasic, 10)

	sub, err := s.GetActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanBasic, sub.Plan)
	assert.Equal(t, 10, sub.RemainingPosts)
}

func TestGetActiveSubscription_NoneActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)

	_, err := s.GetActiveSubscription(ctx, userID)
	assert.ErrorIs(t, err, store.ErrNoActiveSubscription)
}

func TestGetActiveSubscription_ExpiredCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)

	now := time.Now().UTC()
	require.NoError(t, s.CreateSubscription(ctx, &models.Subscription{
		ID:             uuid.New(),
		UserID:         userID,
		Plan:           models.PlanFree,
		RemainingPosts: 3,
		Status:         models.SubscriptionActive,
		CycleEndsAt:    now.Add(-time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	_, err := s.GetActiveSubscription(ctx, userID)
	assert.ErrorIs(t, err, store.ErrNoActiveSubscription)
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	got, err := s.GetJob(ctx, job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, models.SourceUpload, got.SourceKind)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestJob_GetScopedToOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	owner := seedUser(t, s)
	stranger := seedUser(t, s)
	job := seedJob(t, s, owner)

	_, err := s.GetJob(ctx, job.ID, stranger)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_StatusTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	// Happy path walks the whole pipeline.
	for _, status := range []string{
		models.JobStatusClaimed,
		models.JobStatusConverting,
		models.JobStatusTranscribing,
		models.JobStatusGenerating,
		models.JobStatusPersisting,
		models.JobStatusCompleted,
	} {
		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, status))
	}

	got, err := s.GetJob(ctx, job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	// Terminal states accept no further transitions.
	err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestJob_InvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	// queued -> generating skips the claim, conversion, and transcription steps.
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusGenerating)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestJob_RequeueFromInFlight(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusClaimed, store.WithAttemptIncrement()))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusConverting))

	// The recovery sweep pushes stranded jobs back to queued.
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusQueued))

	got, err := s.GetJob(ctx, job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestJob_FailureCauseRecorded(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusClaimed))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithFailureCause(models.FailureTranscription)))

	got, err := s.GetJob(ctx, job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.FailureCause)
	assert.Equal(t, models.FailureTranscription, *got.FailureCause)
	assert.NotNil(t, got.CompletedAt)
}

// --- PersistPost Tests ---

func TestPersistPost_DecrementsQuota(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	seedSubscription(t, s, userID, models.PlanFree, 3)
	job := seedJob(t, s, userID)

	post := &models.Post{
		ID:        uuid.New(),
		UserID:    userID,
		JobID:     job.ID,
		Title:     "How I Built It",
		BodyHTML:  "<p>Notes from the episode.</p>",
		Tags:      []string{"engineering", "podcast"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PersistPost(ctx, post))

	sub, err := s.GetActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.RemainingPosts)

	got, err := s.GetPostByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, post.Title, got.Title)
	assert.Equal(t, post.Tags, got.Tags)
}

func TestPersistPost_QuotaExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	seedSubscription(t, s, userID, models.PlanFree, 0)
	job := seedJob(t, s, userID)

	err := s.PersistPost(ctx, &models.Post{
		ID:        uuid.New(),
		UserID:    userID,
		JobID:     job.ID,
		Title:     "Should Not Exist",
		BodyHTML:  "<p>x</p>",
		CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrQuotaExhausted)

	// Nothing committed: quota untouched, no post row.
	sub, err := s.GetActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RemainingPosts)

	_, err = s.GetPostByJobID(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersistPost_ZeroFloorUnderConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	seedSubscription(t, s, userID, models.PlanFree, 1)

	// Two finished jobs race for the last budget slot. Exactly one wins.
	jobs := []*models.TranscriptionJob{seedJob(t, s, userID), seedJob(t, s, userID)}

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, jobID uuid.UUID) {
			defer wg.Done()
			errs[i] = s.PersistPost(ctx, &models.Post{
				ID:        uuid.New(),
				UserID:    userID,
				JobID:     jobID,
				Title:     "Race",
				BodyHTML:  "<p>x</p>",
				CreatedAt: time.Now().UTC(),
			})
		}(i, job.ID)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, store.ErrQuotaExhausted)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	sub, err := s.GetActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RemainingPosts)
}

func TestPersistPost_OnePostPerJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	seedSubscription(t, s, userID, models.PlanBasic, 10)
	job := seedJob(t, s, userID)

	first := &models.Post{
		ID: uuid.New(), UserID: userID, JobID: job.ID,
		Title: "First", BodyHTML: "<p>x</p>", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PersistPost(ctx, first))

	second := &models.Post{
		ID: uuid.New(), UserID: userID, JobID: job.ID,
		Title: "Second", BodyHTML: "<p>y</p>", CreatedAt: time.Now().UTC(),
	}
	err := s.PersistPost(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// The duplicate rolled back its decrement too.
	sub, err := s.GetActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 9, sub.RemainingPosts)
}

// --- Reconciliation Tests ---

func TestReconciliation_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	rec := &models.Reconciliation{
		ID:        uuid.New(),
		UserID:    userID,
		JobID:     job.ID,
		Title:     "Stranded Draft",
		BodyHTML:  "<p>body</p>",
		Tags:      []string{"tag"},
		Reason:    "persist failed after retry",
		Status:    models.ReconciliationPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateReconciliation(ctx, rec))

	pending, err := s.ListPendingReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
	assert.Equal(t, "Stranded Draft", pending[0].Title)

	require.NoError(t, s.ResolveReconciliation(ctx, rec.ID))

	pending, err = s.ListPendingReconciliations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Resolving twice is an error, not a silent no-op.
	assert.ErrorIs(t, s.ResolveReconciliation(ctx, rec.ID), store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateGetRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	now := time.Now().UTC()

	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      "ci-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "cw_abcde",
		Scopes:    []string{"write", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "cw_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"write", "admin"}, keys[0].Scopes)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, userID))

	keys, err = s.GetAPIKeyByPrefix(ctx, "cw_abcde")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// --- Platform Token Tests ---

func TestPlatformToken_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	now := time.Now().UTC()

	tok := &models.PlatformToken{
		ID:           uuid.New(),
		UserID:       userID,
		Platform:     "medium",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.UpsertPlatformToken(ctx, tok))

	tok.AccessToken = "at-2"
	require.NoError(t, s.UpsertPlatformToken(ctx, tok))

	got, err := s.GetPlatformToken(ctx, userID, "medium")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)

	_, err = s.GetPlatformToken(ctx, userID, "wordpress")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
