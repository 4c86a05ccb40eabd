package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReconciliationPending  = "pending"
	ReconciliationResolved = "resolved"
)

// Reconciliation records a job whose atomic persist failed twice. These
// rows must survive restarts; a follow-up process (or an operator)
// resolves them, so they are never held in process memory.
type Reconciliation struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	UserID     uuid.UUID  `db:"user_id"     json:"user_id"`
	JobID      uuid.UUID  `db:"job_id"      json:"job_id"`
	Title      string     `db:"title"       json:"title"`
	BodyHTML   string     `db:"body_html"   json:"body_html"`
	Tags       []string   `db:"tags"        json:"tags"`
	Reason     string     `db:"reason"      json:"reason"`
	Status     string     `db:"status"      json:"status"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}
