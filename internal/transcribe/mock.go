package transcribe

import "context"

// Mock satisfies Transcriber for testing and local development.
type Mock struct {
	Name_          string
	TranscribeFunc func(ctx context.Context, audioPath string, language string) (string, error)
}

func (m *Mock) Name() string { return m.Name_ }

func (m *Mock) Transcribe(ctx context.Context, audioPath string, language string) (string, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audioPath, language)
	}
	return "", nil
}

// NewMock returns a Mock with a fixed default transcript.
func NewMock() *Mock {
	return &Mock{
		Name_: "mock",
		TranscribeFunc: func(_ context.Context, _ string, _ string) (string, error) {
			return "mock transcript", nil
		},
	}
}

// NewFailingMock returns a Mock that always returns the given error.
func NewFailingMock(err error) *Mock {
	return &Mock{
		Name_: "mock-failing",
		TranscribeFunc: func(_ context.Context, _ string, _ string) (string, error) {
			return "", err
		},
	}
}

var _ Transcriber = (*Mock)(nil)
