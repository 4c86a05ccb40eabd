package generate

import (
	"context"

	"github.com/castwrite/castwrite/pkg/models"
)

// Mock satisfies Generator for testing and local development.
type Mock struct {
	Name_        string
	GenerateFunc func(ctx context.Context, transcript string) (models.Draft, error)
}

func (m *Mock) Name() string { return m.Name_ }

func (m *Mock) Generate(ctx context.Context, transcript string) (models.Draft, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, transcript)
	}
	return models.Draft{}, nil
}

// NewMock returns a Mock producing a fixed draft.
func NewMock() *Mock {
	return &Mock{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ string) (models.Draft, error) {
			return models.Draft{
				Title:    "Mock Article",
				BodyHTML: "<p>Mock article body.</p>",
				Tags:     []string{"mock"},
			}, nil
		},
	}
}

// NewFailingMock returns a Mock that always returns the failure sentinel.
func NewFailingMock() *Mock {
	return &Mock{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ string) (models.Draft, error) {
			return models.Draft{}, ErrGenerationFailed
		},
	}
}

var _ Generator = (*Mock)(nil)
