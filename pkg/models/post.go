package models

import (
	"time"

	"github.com/google/uuid"
)

// Draft is the Blog Generator's output shape: a structured document
// produced from a transcript, not yet persisted.
type Draft struct {
	Title    string   `json:"title"`
	BodyHTML string   `json:"body_html"`
	Tags     []string `json:"tags"`
}

// Post is a generated blog article. Exactly one row exists per
// successfully completed job, created in the same transaction that
// decrements the owner's remaining-post budget.
type Post struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Title     string    `db:"title"      json:"title"`
	BodyHTML  string    `db:"body_html"  json:"body_html"`
	Tags      []string  `db:"tags"       json:"tags"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
