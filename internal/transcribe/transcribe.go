// Package transcribe defines the speech-to-text boundary. The pipeline
// depends only on the Transcriber interface; concrete providers are
// selected by the factory at startup.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrProviderUnavailable = errors.New("transcription provider unavailable")
)

// Transcriber converts one audio file into text. language is a BCP-47
// hint and may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, language string) (string, error)
	Name() string
}

// TranscribeChunks runs the transcriber over the chunk files in index
// order and joins the results in that same order. One failed chunk fails
// the whole transcript; partial output is never returned.
func TranscribeChunks(ctx context.Context, tr Transcriber, chunkPaths []string, language string) (string, error) {
	parts := make([]string, 0, len(chunkPaths))
	for i, path := range chunkPaths {
		text, err := tr.Transcribe(ctx, path, language)
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", i, err)
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return strings.Join(parts, " "), nil
}
