package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformToken holds an OAuth access/refresh token pair for one
// publishing platform. The same check-expiry/refresh/authorize lifecycle
// applies to every platform, so platform is data, not a type.
type PlatformToken struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	UserID       uuid.UUID `db:"user_id"       json:"user_id"`
	Platform     string    `db:"platform"      json:"platform"`
	AccessToken  string    `db:"access_token"  json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at"    json:"expires_at"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
