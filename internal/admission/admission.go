// Package admission implements the synchronous pre-check that runs on
// the request path before a job is ever queued: quota gate, media
// normalization and probing, duration policy, then the durable handoff
// to the artifact store and the queue. Any failure here is returned to
// the caller and leaves no orphaned artifacts behind.
package admission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/castwrite/castwrite/internal/blob"
	"github.com/castwrite/castwrite/internal/cache"
	"github.com/castwrite/castwrite/internal/media"
	"github.com/castwrite/castwrite/internal/plan"
	"github.com/castwrite/castwrite/internal/queue"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
)

// jobStatusTTL bounds how long cached job status survives in Redis; the
// jobs table remains the durable record.
const jobStatusTTL = 24 * time.Hour

// UploadRequest is a binary media submission.
type UploadRequest struct {
	UserID   uuid.UUID
	Filename string
	MimeType string
	Language string
	Data     io.Reader
}

// URLRequest is a remote media submission.
type URLRequest struct {
	UserID   uuid.UUID
	URL      string
	Language string
}

// Service wires the admission steps together. Denials surface as the
// sentinels owned by the collaborating packages:
// store.ErrNoActiveSubscription, store.ErrQuotaExhausted,
// plan.ErrDurationExceeded, media.ErrInvalidSource.
type Service struct {
	store      store.Store
	policy     *plan.Policy
	normalizer *media.Normalizer
	blobs      blob.Store
	queue      queue.Queue
	cache      cache.Cache
	workDir    string
	timeout    time.Duration
}

func NewService(st store.Store, policy *plan.Policy, normalizer *media.Normalizer,
	blobs blob.Store, q queue.Queue, ca cache.Cache, workDir string, timeout time.Duration) *Service {
	return &Service{
		store:      st,
		policy:     policy,
		normalizer: normalizer,
		blobs:      blobs,
		queue:      q,
		cache:      ca,
		workDir:    workDir,
		timeout:    timeout,
	}
}

// SubmitUpload admits a binary upload. The declared MIME type must be on
// the allow-list; undeclared or disallowed types are an invalid source.
func (s *Service) SubmitUpload(ctx context.Context, req UploadRequest) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	kind, ok := media.KindForMIME(req.MimeType)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: mime type %q", media.ErrInvalidSource, req.MimeType)
	}

	sub, err := s.checkQuota(ctx, req.UserID)
	if err != nil {
		return uuid.Nil, err
	}

	// Spool the upload to scratch so ffprobe can read it.
	scratch := filepath.Join(s.workDir, "up-"+uuid.NewString()+media.ExtensionForMIME(req.MimeType))
	if err := spool(scratch, req.Data); err != nil {
		return uuid.Nil, fmt.Errorf("spool upload: %w", err)
	}
	defer os.Remove(scratch)

	return s.admit(ctx, sub, admitParams{
		userID:   req.UserID,
		scratch:  scratch,
		name:     req.Filename,
		kind:     kind,
		mimeType: req.MimeType,
		language: req.Language,
	})
}

// SubmitURL admits a remote source. The URL is validated against the
// allow-pattern before any download tool runs.
func (s *Service) SubmitURL(ctx context.Context, req URLRequest) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := media.ValidateURL(req.URL); err != nil {
		return uuid.Nil, err
	}

	sub, err := s.checkQuota(ctx, req.UserID)
	if err != nil {
		return uuid.Nil, err
	}

	scratch, err := s.normalizer.Download(ctx, req.URL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("download source: %w", err)
	}
	defer os.Remove(scratch)

	return s.admit(ctx, sub, admitParams{
		userID:   req.UserID,
		scratch:  scratch,
		name:     filepath.Base(scratch),
		kind:     models.SourceURL,
		mimeType: "audio/mp4",
		language: req.Language,
	})
}

// checkQuota is the quota gate: active subscription with budget left, or
// a denial sentinel. Read-only, safe to call repeatedly.
func (s *Service) checkQuota(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.RemainingPosts <= 0 {
		return nil, store.ErrQuotaExhausted
	}
	return sub, nil
}

type admitParams struct {
	userID   uuid.UUID
	scratch  string
	name     string
	kind     models.SourceKind
	mimeType string
	language string
}

// admit probes the scratch file, enforces the plan's duration policy,
// stores the artifact durably, records the job, and enqueues it. If
// anything fails after the artifact is stored, the artifact is deleted
// before the error is returned.
func (s *Service) admit(ctx context.Context, sub *models.Subscription, p admitParams) (uuid.UUID, error) {
	duration, err := s.normalizer.Probe(ctx, p.scratch)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.policy.Enforce(sub.Plan, duration); err != nil {
		return uuid.Nil, err
	}

	f, err := os.Open(p.scratch)
	if err != nil {
		return uuid.Nil, fmt.Errorf("open scratch: %w", err)
	}
	defer f.Close()

	key, err := s.blobs.Put(ctx, p.userID, p.name, f)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store artifact: %w", err)
	}

	now := time.Now().UTC()
	job := &models.TranscriptionJob{
		ID:          uuid.New(),
		UserID:      p.userID,
		ArtifactKey: key,
		SourceKind:  p.kind,
		MimeType:    p.mimeType,
		Language:    p.language,
		Status:      models.JobStatusQueued,
		EnqueuedAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.discard(key)
		return uuid.Nil, fmt.Errorf("record job: %w", err)
	}

	err = s.queue.Enqueue(ctx, queue.Payload{
		JobID:       job.ID,
		UserID:      job.UserID,
		ArtifactKey: key,
		SourceKind:  job.SourceKind,
		MimeType:    job.MimeType,
		Language:    job.Language,
		EnqueuedAt:  now,
	})
	if err != nil {
		s.discard(key)
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusQueued, jobStatusTTL)

	slog.Info("job admitted",
		"job_id", job.ID,
		"user_id", job.UserID,
		"source_kind", job.SourceKind,
		"duration", duration.Round(time.Second).String(),
	)
	return job.ID, nil
}

// discard removes an artifact created for a rejected admission. Cleanup
// must not depend on the request context, which may already be done.
func (s *Service) discard(key string) {
	if err := s.blobs.Delete(context.Background(), key); err != nil {
		slog.Error("delete rejected artifact", "key", key, "error", err)
	}
}

func spool(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
