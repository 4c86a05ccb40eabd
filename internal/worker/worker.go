// Package worker runs the asynchronous half of the pipeline: a bounded
// pool of goroutines claims jobs from the durable queue and drives each
// one through converting, transcribing, generating, and persisting, with
// unconditional artifact cleanup and exactly one notification per
// terminal outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castwrite/castwrite/internal/blob"
	"github.com/castwrite/castwrite/internal/cache"
	"github.com/castwrite/castwrite/internal/config"
	"github.com/castwrite/castwrite/internal/generate"
	"github.com/castwrite/castwrite/internal/media"
	"github.com/castwrite/castwrite/internal/notify"
	"github.com/castwrite/castwrite/internal/queue"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/internal/transcribe"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
)

const (
	claimTimeout      = 5 * time.Second
	heartbeatInterval = 30 * time.Second
	jobStatusTTL      = 24 * time.Hour
)

// Pool is the bounded worker pool plus the recovery sweeper.
type Pool struct {
	queue       queue.Queue
	store       store.Store
	blobs       blob.Store
	cache       cache.Cache
	normalizer  *media.Normalizer
	transcriber transcribe.Transcriber
	generator   generate.Generator
	notifier    notify.Notifier
	cfg         config.PipelineConfig
	workDir     string
}

func NewPool(q queue.Queue, st store.Store, blobs blob.Store, ca cache.Cache,
	normalizer *media.Normalizer, tr transcribe.Transcriber, gen generate.Generator,
	notifier notify.Notifier, cfg config.PipelineConfig, workDir string) *Pool {
	return &Pool{
		queue:       q,
		store:       st,
		blobs:       blobs,
		cache:       ca,
		normalizer:  normalizer,
		transcriber: tr,
		generator:   gen,
		notifier:    notifier,
		cfg:         cfg,
		workDir:     workDir,
	}
}

// Run starts the workers and the recovery sweeper and blocks until ctx
// is cancelled and every in-flight job has reached a terminal state.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runSweeper(ctx)
	}()

	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	logger := slog.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := p.queue.Claim(ctx, claimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim job", "error", err)
			continue
		}
		if payload == nil {
			continue
		}

		p.process(ctx, logger, payload)
	}
}

// runSweeper periodically requeues jobs whose worker stopped
// heartbeating, resetting their durable status so a fresh claim is a
// legal transition again.
func (p *Pool) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-p.cfg.StaleAfter)
		moved, err := p.queue.RequeueStale(ctx, cutoff)
		if err != nil {
			slog.Error("requeue stale jobs", "error", err)
			continue
		}
		for _, jobID := range moved {
			if err := p.store.UpdateJobStatus(ctx, jobID, models.JobStatusQueued); err != nil {
				slog.Error("reset requeued job status", "job_id", jobID, "error", err)
			}
			_ = p.cache.SetJobStatus(ctx, jobID, models.JobStatusQueued, jobStatusTTL)
		}
		if len(moved) > 0 {
			slog.Warn("requeued stale jobs", "count", len(moved))
		}
	}
}

// process drives one claimed job to a terminal state. Panics are caught
// here so a poisoned job can never take the pool down.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, payload *queue.Payload) {
	logger = logger.With("job_id", payload.JobID, "user_id", payload.UserID)

	// Terminal cleanup and notification must outlive per-job deadlines.
	base := context.WithoutCancel(ctx)

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	stopHeartbeat := p.startHeartbeat(base, payload.JobID)
	defer stopHeartbeat()

	// Every artifact the job creates or consumes lands in exec.artifacts
	// or exec.scratch; cleanup deletes all of them no matter how the job
	// ends. The source artifact is registered only once the job is
	// claimed, so an unclaimed delivery keeps its blob.
	exec := &execution{}
	defer p.cleanup(base, logger, exec)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job", "panic", r)
			p.fail(base, logger, payload, models.FailureInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := p.transition(base, payload.JobID, models.JobStatusClaimed, store.WithAttemptIncrement()); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Duplicate delivery of a job another run already drove to a
			// terminal state; its queue entry is stale, drop it.
			logger.Warn("claim transition refused", "error", err)
			_ = p.queue.Ack(base, payload.JobID)
			return
		}
		// Transient store failure. Leave the queue entry and the
		// artifact untouched so the sweeper re-delivers the job.
		logger.Error("claim job", "error", err)
		return
	}
	exec.artifacts = append(exec.artifacts, payload.ArtifactKey)

	draft, err := p.execute(jobCtx, logger, payload, exec)
	if err != nil {
		cause := failureCause(jobCtx, err)
		p.fail(base, logger, payload, cause, err.Error())
		return
	}

	p.complete(base, logger, payload, draft)
}

// execution accumulates the resources one job run owns.
type execution struct {
	artifacts []string // blob store keys
	scratch   []string // local files
}

// execute runs the non-terminal pipeline states and returns the
// generated draft. All returned errors are terminal for the job.
func (p *Pool) execute(ctx context.Context, logger *slog.Logger, payload *queue.Payload, exec *execution) (models.Draft, error) {
	// Converting: fetch the source artifact and produce the canonical
	// waveform plus its bounded-duration chunks.
	if err := p.transition(ctx, payload.JobID, models.JobStatusConverting); err != nil {
		return models.Draft{}, stepError(models.FailureInternal, err)
	}

	src, err := p.fetchArtifact(ctx, payload)
	if err != nil {
		return models.Draft{}, stepError(models.FailureConversion, err)
	}
	exec.scratch = append(exec.scratch, src)

	wav, err := p.normalizer.Normalize(ctx, src)
	if err != nil {
		return models.Draft{}, stepError(models.FailureConversion, err)
	}
	exec.scratch = append(exec.scratch, wav)

	chunks, err := p.normalizer.Split(ctx, wav, p.cfg.ChunkDuration)
	if err != nil {
		return models.Draft{}, stepError(models.FailureConversion, err)
	}
	exec.scratch = append(exec.scratch, chunks...)

	// Transcribing: chunk transcripts join in index order; one failed
	// chunk fails the job and no partial transcript survives.
	if err := p.transition(ctx, payload.JobID, models.JobStatusTranscribing); err != nil {
		return models.Draft{}, stepError(models.FailureInternal, err)
	}

	transcript, err := transcribe.TranscribeChunks(ctx, p.transcriber, chunks, payload.Language)
	if err != nil {
		return models.Draft{}, stepError(models.FailureTranscription, err)
	}
	logger.Info("transcription done", "chunks", len(chunks), "transcript_len", len(transcript))

	// Generating: bounded retries on the generator's failure sentinel.
	if err := p.transition(ctx, payload.JobID, models.JobStatusGenerating); err != nil {
		return models.Draft{}, stepError(models.FailureInternal, err)
	}

	draft, err := p.generateWithRetry(ctx, logger, transcript)
	if err != nil {
		if errors.Is(err, generate.ErrGenerationFailed) {
			return models.Draft{}, stepError(models.FailureGenerationExhausted, err)
		}
		return models.Draft{}, stepError(models.FailureInternal, err)
	}
	return draft, nil
}

// generateWithRetry calls the generator up to 1 + GenerationRetries
// times. Each retry is a fresh call with the same transcript. Only the
// generator's failure sentinel is retried; anything else is not a model
// outcome and returns immediately.
func (p *Pool) generateWithRetry(ctx context.Context, logger *slog.Logger, transcript string) (models.Draft, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.GenerationRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.Draft{}, err
		}

		draft, err := p.generator.Generate(ctx, transcript)
		if err == nil {
			return draft, nil
		}
		if !errors.Is(err, generate.ErrGenerationFailed) {
			return models.Draft{}, err
		}
		lastErr = err
		logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)
	}
	return models.Draft{}, fmt.Errorf("after %d attempts: %w", p.cfg.GenerationRetries+1, lastErr)
}

// complete persists the post (retrying the atomic operation once, then
// escalating to a durable reconciliation record), acks the queue entry,
// and sends the success notification.
func (p *Pool) complete(ctx context.Context, logger *slog.Logger, payload *queue.Payload, draft models.Draft) {
	if err := p.transition(ctx, payload.JobID, models.JobStatusPersisting); err != nil {
		p.fail(ctx, logger, payload, models.FailureInternal, err.Error())
		return
	}

	post := &models.Post{
		ID:        uuid.New(),
		UserID:    payload.UserID,
		JobID:     payload.JobID,
		Title:     draft.Title,
		BodyHTML:  draft.BodyHTML,
		Tags:      draft.Tags,
		CreatedAt: time.Now().UTC(),
	}

	err := p.store.PersistPost(ctx, post)
	if err != nil {
		logger.Warn("persist post failed, retrying once", "error", err)
		err = p.store.PersistPost(ctx, post)
	}
	if err != nil {
		rec := &models.Reconciliation{
			ID:        uuid.New(),
			UserID:    payload.UserID,
			JobID:     payload.JobID,
			Title:     draft.Title,
			BodyHTML:  draft.BodyHTML,
			Tags:      draft.Tags,
			Reason:    err.Error(),
			Status:    models.ReconciliationPending,
			CreatedAt: time.Now().UTC(),
		}
		if recErr := p.store.CreateReconciliation(ctx, rec); recErr != nil {
			logger.Error("record reconciliation", "error", recErr)
		}
		p.fail(ctx, logger, payload, models.FailurePersistence, err.Error())
		return
	}

	if err := p.transition(ctx, payload.JobID, models.JobStatusCompleted); err != nil {
		logger.Error("mark job completed", "error", err)
	}
	_ = p.cache.SetJobStatus(ctx, payload.JobID, models.JobStatusCompleted, jobStatusTTL)

	if err := p.queue.Ack(ctx, payload.JobID); err != nil {
		logger.Error("ack job", "error", err)
	}

	p.notifyOutcome(ctx, logger, payload.UserID, draft.Title, true)
	logger.Info("job completed", "post_id", post.ID)
}

// fail records the terminal failure, acks the queue entry, and sends the
// failure notification.
func (p *Pool) fail(ctx context.Context, logger *slog.Logger, payload *queue.Payload, cause, detail string) {
	if err := p.store.UpdateJobStatus(ctx, payload.JobID, models.JobStatusFailed,
		store.WithFailureCause(cause)); err != nil {
		logger.Error("mark job failed", "cause", cause, "error", err)
	}
	_ = p.cache.SetJobStatus(ctx, payload.JobID, models.JobStatusFailed, jobStatusTTL)

	if err := p.queue.Ack(ctx, payload.JobID); err != nil {
		logger.Error("ack failed job", "error", err)
	}

	p.notifyOutcome(ctx, logger, payload.UserID, "", false)
	logger.Warn("job failed", "cause", cause, "detail", detail)
}

// notifyOutcome sends exactly one notification for a terminal outcome.
// Notification errors are logged and dropped.
func (p *Pool) notifyOutcome(ctx context.Context, logger *slog.Logger, userID uuid.UUID, title string, success bool) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		logger.Error("lookup user for notification", "error", err)
		return
	}

	if success {
		err = p.notifier.Success(ctx, user.Email, user.Name, title)
	} else {
		err = p.notifier.Failure(ctx, user.Email, user.Name)
	}
	if err != nil {
		logger.Error("send notification", "error", err)
	}
}

// cleanup deletes every artifact and scratch file the job touched.
// Best-effort: individual failures are logged and never re-thrown.
func (p *Pool) cleanup(ctx context.Context, logger *slog.Logger, exec *execution) {
	for _, key := range exec.artifacts {
		if err := p.blobs.Delete(ctx, key); err != nil {
			logger.Error("cleanup artifact", "key", key, "error", err)
		}
	}
	for _, path := range exec.scratch {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("cleanup scratch file", "path", path, "error", err)
		}
	}
}

// fetchArtifact copies the job's source artifact to a local scratch file
// the media tools can read.
func (p *Pool) fetchArtifact(ctx context.Context, payload *queue.Payload) (string, error) {
	rc, err := p.blobs.Open(ctx, payload.ArtifactKey)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer rc.Close()

	dest := filepath.Join(p.workDir, "job-"+payload.JobID.String()+media.ExtensionForMIME(payload.MimeType))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create scratch: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	return dest, nil
}

func (p *Pool) transition(ctx context.Context, jobID uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if err := p.store.UpdateJobStatus(ctx, jobID, status, opts...); err != nil {
		return err
	}
	_ = p.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)
	return nil
}

// startHeartbeat keeps the queue's staleness clock fresh while the job
// runs. The returned func stops the ticker.
func (p *Pool) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.Heartbeat(hbCtx, jobID); err != nil {
					slog.Error("heartbeat", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return cancel
}

// pipelineError ties a step failure to the cause recorded on the job.
type pipelineError struct {
	cause string
	err   error
}

func (e *pipelineError) Error() string { return e.cause + ": " + e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }

func stepError(cause string, err error) error {
	return &pipelineError{cause: cause, err: err}
}

// failureCause maps a terminal error to the recorded cause. Deadline
// expiry wins over whichever step happened to observe it.
func failureCause(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTimeout
	}
	var pe *pipelineError
	if errors.As(err, &pe) {
		return pe.cause
	}
	return models.FailureInternal
}
