package store

import (
	"context"
	"errors"

	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("resource not found")
	ErrDuplicateKey         = errors.New("duplicate key violation")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrQuotaExhausted       = errors.New("post quota exhausted")
	// ErrInvalidTransition is a state-machine refusal, distinct from
	// transient store failures. Workers ack duplicate deliveries on this
	// sentinel and leave the queue entry alone on anything else.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	// GetActiveSubscription returns the user's active, unexpired
	// subscription or ErrNoActiveSubscription. Pure read; the quota gate
	// calls it on every admission.
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)

	CreateJob(ctx context.Context, job *models.TranscriptionJob) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.TranscriptionJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	// PersistPost inserts the post and decrements the owner's remaining
	// quota as one transaction. The decrement carries a zero-floor guard;
	// when it does not apply, nothing is committed and ErrQuotaExhausted
	// is returned.
	PersistPost(ctx context.Context, post *models.Post) error
	GetPostByJobID(ctx context.Context, jobID uuid.UUID) (*models.Post, error)

	CreateReconciliation(ctx context.Context, rec *models.Reconciliation) error
	ListPendingReconciliations(ctx context.Context) ([]*models.Reconciliation, error)
	ResolveReconciliation(ctx context.Context, id uuid.UUID) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	GetPlatformToken(ctx context.Context, userID uuid.UUID, platform string) (*models.PlatformToken, error)
	UpsertPlatformToken(ctx context.Context, token *models.PlatformToken) error
}

// JobUpdateParams is the resolved form of a set of JobUpdateOptions.
// Exported so Store implementations outside this package can honor the
// same options.
type JobUpdateParams struct {
	FailureCause     *string
	IncrementAttempt bool
}

type JobUpdateOption func(*JobUpdateParams)

// ApplyJobUpdateOptions folds opts into a JobUpdateParams.
func ApplyJobUpdateOptions(opts []JobUpdateOption) JobUpdateParams {
	var params JobUpdateParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

func WithFailureCause(cause string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.FailureCause = &cause
	}
}

// WithAttemptIncrement bumps the job's attempt counter atomically with
// the status change.
func WithAttemptIncrement() JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.IncrementAttempt = true
	}
}
