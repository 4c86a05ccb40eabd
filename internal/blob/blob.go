// Package blob provides durable, key-addressed storage for media
// artifacts. Keys are namespaced by owning user so two tenants can never
// collide, and deletion is idempotent so compensating cleanup after a
// partial failure is always safe to run.
package blob

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")

// Store is the artifact storage interface. The pipeline depends only on
// these semantics, not on a specific provider.
type Store interface {
	// Put stores the reader's contents under the owner's namespace and
	// returns the generated key.
	Put(ctx context.Context, ownerID uuid.UUID, name string, r io.Reader) (string, error)
	// Open returns a reader for the artifact, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under the owner's namespace.
	List(ctx context.Context, ownerID uuid.UUID) ([]string, error)
}
