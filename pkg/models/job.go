package models

import (
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states. Completed and failed are terminal; cleanup has
// run by the time a job lands in either.
const (
	JobStatusQueued       = "queued"
	JobStatusClaimed      = "claimed"
	JobStatusConverting   = "converting"
	JobStatusTranscribing = "transcribing"
	JobStatusGenerating   = "generating"
	JobStatusPersisting   = "persisting"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"
)

// Failure causes recorded on terminally failed jobs.
const (
	FailureConversion          = "conversion_error"
	FailureTranscription       = "transcription_error"
	FailureGenerationExhausted = "generation_exhausted"
	FailurePersistence         = "persistence_failure"
	FailureTimeout             = "timeout"
	FailureInternal            = "internal_error"
)

// SourceKind identifies where a job's media came from.
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceVideo  SourceKind = "video"
	SourceURL    SourceKind = "url"
)

// TranscriptionJob is one unit of pipeline work. The API returns the job
// id on submit; the client polls GET /api/v1/jobs/{id} until the status
// is completed or failed. At most one worker ever owns a claimed job.
type TranscriptionJob struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	UserID       uuid.UUID  `db:"user_id"       json:"user_id"`
	ArtifactKey  string     `db:"artifact_key"  json:"artifact_key"`
	SourceKind   SourceKind `db:"source_kind"   json:"source_kind"`
	MimeType     string     `db:"mime_type"     json:"mime_type"`
	Language     string     `db:"language"      json:"language"`
	Status       string     `db:"status"        json:"status"`
	FailureCause *string    `db:"failure_cause" json:"failure_cause,omitempty"`
	Attempts     int        `db:"attempts"      json:"attempts"`
	EnqueuedAt   time.Time  `db:"enqueued_at"   json:"enqueued_at"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
