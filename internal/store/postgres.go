package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
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

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- Subscriptions ---

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, remaining_posts, status, cycle_ends_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, sub.Plan, sub.RemainingPosts, sub.Status, sub.CycleEndsAt,
		sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, plan, remaining_posts, status, cycle_ends_at, created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = $1 AND status = 'active' AND cycle_ends_at > NOW()
		 ORDER BY cycle_ends_at DESC LIMIT 1`, userID,
	).Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.RemainingPosts, &sub.Status,
		&sub.CycleEndsAt, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.TranscriptionJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, artifact_key, source_kind, mime_type, language, status, attempts, enqueued_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.UserID, job.ArtifactKey, job.SourceKind, job.MimeType, job.Language,
		job.Status, job.Attempts, job.EnqueuedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.TranscriptionJob, error) {
	var j models.TranscriptionJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, artifact_key, source_kind, mime_type, language, status, failure_cause, attempts, enqueued_at, started_at, completed_at, created_at, updated_at
		 FROM jobs WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&j.ID, &j.UserID, &j.ArtifactKey, &j.SourceKind, &j.MimeType, &j.Language,
		&j.Status, &j.FailureCause, &j.Attempts, &j.EnqueuedAt, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// validTransitions encodes the pipeline state machine. Failed is
// reachable from every non-terminal state; queued is re-reachable from
// in-flight states so the recovery sweep can requeue after a crash.
var validTransitions = map[string][]string{
	models.JobStatusQueued:       {models.JobStatusClaimed, models.JobStatusFailed},
	models.JobStatusClaimed:      {models.JobStatusConverting, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusConverting:   {models.JobStatusTranscribing, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusTranscribing: {models.JobStatusGenerating, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusGenerating:   {models.JobStatusPersisting, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusPersisting:   {models.JobStatusCompleted, models.JobStatusQueued, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusClaimed {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.FailureCause != nil {
		query += fmt.Sprintf(", failure_cause = $%d", argIdx)
		args = append(args, *params.FailureCause)
		argIdx++
	}
	if params.IncrementAttempt {
		query += ", attempts = attempts + 1"
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// --- Posts ---

// PersistPost creates the post and decrements the owner's remaining
// quota in one transaction. The UPDATE's remaining_posts > 0 guard plus
// row locking keeps concurrent jobs for the same user from driving the
// budget below zero: whichever transaction loses the race sees zero
// rows affected and rolls back.
func (s *PostgresStore) PersistPost(ctx context.Context, post *models.Post) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin persist post: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE subscriptions SET remaining_posts = remaining_posts - 1, updated_at = NOW()
		 WHERE user_id = $1 AND status = 'active' AND cycle_ends_at > NOW() AND remaining_posts > 0`,
		post.UserID)
	if err != nil {
		return fmt.Errorf("decrement quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotaExhausted
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO posts (id, user_id, job_id, title, body_html, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.UserID, post.JobID, post.Title, post.BodyHTML, post.Tags, post.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert post: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit persist post: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPostByJobID(ctx context.Context, jobID uuid.UUID) (*models.Post, error) {
	var p models.Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, job_id, title, body_html, tags, created_at
		 FROM posts WHERE job_id = $1`, jobID,
	).Scan(&p.ID, &p.UserID, &p.JobID, &p.Title, &p.BodyHTML, &p.Tags, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post by job: %w", err)
	}
	return &p, nil
}

// --- Reconciliations ---

func (s *PostgresStore) CreateReconciliation(ctx context.Context, rec *models.Reconciliation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconciliations (id, user_id, job_id, title, body_html, tags, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.JobID, rec.Title, rec.BodyHTML, rec.Tags,
		rec.Reason, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reconciliation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingReconciliations(ctx context.Context) ([]*models.Reconciliation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, job_id, title, body_html, tags, reason, status, resolved_at, created_at
		 FROM reconciliations WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending reconciliations: %w", err)
	}
	defer rows.Close()

	var recs []*models.Reconciliation
	for rows.Next() {
		var r models.Reconciliation
		if err := rows.Scan(&r.ID, &r.UserID, &r.JobID, &r.Title, &r.BodyHTML, &r.Tags,
			&r.Reason, &r.Status, &r.ResolvedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) ResolveReconciliation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconciliations SET status = 'resolved', resolved_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("resolve reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
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
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Platform Tokens ---

func (s *PostgresStore) GetPlatformToken(ctx context.Context, userID uuid.UUID, platform string) (*models.PlatformToken, error) {
	var t models.PlatformToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, platform, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM platform_tokens WHERE user_id = $1 AND platform = $2`, userID, platform,
	).Scan(&t.ID, &t.UserID, &t.Platform, &t.AccessToken, &t.RefreshToken,
		&t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get platform token: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) UpsertPlatformToken(ctx context.Context, token *models.PlatformToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO platform_tokens (id, user_id, platform, access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, platform) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = NOW()`,
		token.ID, token.UserID, token.Platform, token.AccessToken, token.RefreshToken,
		token.ExpiresAt, token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert platform token: %w", err)
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
