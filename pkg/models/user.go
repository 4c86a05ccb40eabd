// Package models contains shared data models used across the Castwrite codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the owner of subscriptions, jobs, and generated posts.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
