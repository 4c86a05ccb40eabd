// Package oauth provides the single generic token-lifecycle capability
// the publishing integrations share: check expiry, refresh when stale,
// or report that the user must authorize. Platforms differ only in the
// Renewer wired in; the lifecycle logic exists once.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/google/uuid"
)

// ErrNeedsAuthorization means no usable token exists and no refresh can
// produce one; the user has to go through the authorize flow.
var ErrNeedsAuthorization = errors.New("platform authorization required")

// TokenState is the tagged result of inspecting a stored token.
type TokenState int

const (
	TokenMissing TokenState = iota
	TokenExpired
	TokenValid
)

// expirySkew treats tokens about to expire as already expired so a
// publish call never races the deadline.
const expirySkew = time.Minute

// Renewer exchanges a refresh token for a fresh token pair. One
// implementation per platform; the lifecycle does not care which.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (access string, refresh string, expiresAt time.Time, err error)
}

// Manager resolves valid platform tokens, refreshing stale ones through
// the platform's Renewer.
type Manager struct {
	store    store.Store
	renewers map[string]Renewer
}

func NewManager(st store.Store, renewers map[string]Renewer) *Manager {
	return &Manager{store: st, renewers: renewers}
}

// Inspect classifies the stored token without side effects.
func Inspect(token *models.PlatformToken, now time.Time) TokenState {
	switch {
	case token == nil:
		return TokenMissing
	case token.ExpiresAt.Before(now.Add(expirySkew)):
		return TokenExpired
	default:
		return TokenValid
	}
}

// FetchValidToken returns a usable access token for the platform,
// refreshing an expired one in place. Returns ErrNeedsAuthorization when
// the token is missing, the platform has no renewer, or the refresh is
// rejected.
func (m *Manager) FetchValidToken(ctx context.Context, userID uuid.UUID, platform string) (string, error) {
	token, err := m.store.GetPlatformToken(ctx, userID, platform)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load platform token: %w", err)
	}

	switch Inspect(token, time.Now().UTC()) {
	case TokenValid:
		return token.AccessToken, nil
	case TokenMissing:
		return "", fmt.Errorf("%w: no %s token for user", ErrNeedsAuthorization, platform)
	}

	renewer, ok := m.renewers[platform]
	if !ok {
		return "", fmt.Errorf("%w: no renewer for %s", ErrNeedsAuthorization, platform)
	}

	access, refresh, expiresAt, err := renewer.Renew(ctx, token.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: refresh rejected: %v", ErrNeedsAuthorization, err)
	}

	token.AccessToken = access
	token.RefreshToken = refresh
	token.ExpiresAt = expiresAt
	token.UpdatedAt = time.Now().UTC()
	if err := m.store.UpsertPlatformToken(ctx, token); err != nil {
		return "", fmt.Errorf("save refreshed token: %w", err)
	}
	return access, nil
}
