// Package queue implements the durable work queue the pipeline hands
// admitted jobs to. It follows the reliable-list pattern: a claim moves
// the job id from the pending list onto a processing list in one atomic
// step, so at most one worker ever owns a job, and a crashed worker's
// job stays visible on the processing list until the recovery sweep
// returns it to pending.
package queue

import (
	"context"
	"time"

	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
)

// Payload is the durable job envelope. Everything a worker needs to
// resume or safely abandon a job after a restart lives here or in the
// jobs table, never in process memory.
type Payload struct {
	JobID       uuid.UUID         `json:"job_id"`
	UserID      uuid.UUID         `json:"user_id"`
	ArtifactKey string            `json:"artifact_key"`
	SourceKind  models.SourceKind `json:"source_kind"`
	MimeType    string            `json:"mime_type"`
	Language    string            `json:"language"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

// Queue is the durable job queue interface.
type Queue interface {
	// Enqueue makes the job durable and visible to workers.
	Enqueue(ctx context.Context, p Payload) error
	// Claim blocks up to timeout for a job and transfers exclusive
	// ownership to the caller. Returns (nil, nil) when the timeout
	// elapses with nothing pending.
	Claim(ctx context.Context, timeout time.Duration) (*Payload, error)
	// Heartbeat marks a claimed job as still being worked on.
	Heartbeat(ctx context.Context, jobID uuid.UUID) error
	// Ack removes a terminally finished job from the queue.
	Ack(ctx context.Context, jobID uuid.UUID) error
	// RequeueStale returns claimed jobs whose heartbeat predates cutoff
	// to the pending list and reports which job ids were moved.
	RequeueStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	Ping(ctx context.Context) error
}
