// Package generate defines the blog-generation boundary: transcript in,
// structured draft out. The generator's failure sentinel is part of the
// contract; the worker retries on it with a fixed bound.
package generate

import (
	"context"
	"errors"

	"github.com/castwrite/castwrite/pkg/models"
)

// ErrGenerationFailed is the generator's failure sentinel. Invalid or
// empty model output maps to it as well, so callers have a single
// retryable signal.
var ErrGenerationFailed = errors.New("blog generation failed")

// Generator converts a transcript into a structured draft.
type Generator interface {
	Generate(ctx context.Context, transcript string) (models.Draft, error)
	Name() string
}
