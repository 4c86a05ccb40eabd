// Package media normalizes user-supplied audio and video into the
// canonical waveform the transcription service accepts: 16kHz mono WAV.
// All heavy lifting goes through the external ffmpeg/ffprobe/yt-dlp
// binaries; paths are configurable.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/castwrite/castwrite/internal/config"
	"github.com/google/uuid"
)

var (
	ErrInvalidSource    = errors.New("source URL not on the allow-list")
	ErrProbeFailed      = errors.New("duration probe failed")
	ErrConversionFailed = errors.New("media conversion failed")
)

// allowPatterns is the explicit allow-list of remote source URLs. A URL
// that matches none of these is rejected before any download tool runs.
var allowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://(www\.)?youtube\.com/watch\?v=[\w-]{6,}`),
	regexp.MustCompile(`^https://(www\.)?youtube\.com/shorts/[\w-]{6,}`),
	regexp.MustCompile(`^https://youtu\.be/[\w-]{6,}`),
}

// Normalizer converts raw media into canonical audio and answers
// duration questions. Scratch files live under cfg.WorkDir; produced
// files are the caller's to delete.
type Normalizer struct {
	cfg config.MediaConfig
}

func NewNormalizer(cfg config.MediaConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// ValidateURL rejects any URL that does not match the allow-list.
func ValidateURL(rawURL string) error {
	for _, p := range allowPatterns {
		if p.MatchString(rawURL) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidSource, rawURL)
}

// Download fetches a validated remote source's audio track into the work
// directory via yt-dlp and returns the local path.
func (n *Normalizer) Download(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}

	dest := filepath.Join(n.cfg.WorkDir, "dl-"+uuid.NewString()+".m4a")
	cmd := exec.CommandContext(ctx, n.cfg.YtDlpPath,
		"--no-playlist",
		"-f", "bestaudio",
		"--extract-audio",
		"--audio-format", "m4a",
		"-o", dest,
		rawURL,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("yt-dlp: %v: %s", err, truncate(out, 200))
	}
	return dest, nil
}

// Normalize converts the input into 16kHz mono WAV. For video input this
// drops the video track; for audio it is a resample passthrough. The
// returned path is the caller's to delete.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	dest := filepath.Join(n.cfg.WorkDir, "norm-"+uuid.NewString()+".wav")
	cmd := exec.CommandContext(ctx, n.cfg.FFmpegPath,
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		dest,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("%w: ffmpeg: %v: %s", ErrConversionFailed, err, truncate(out, 200))
	}
	return dest, nil
}

// Split cuts the waveform into bounded-duration chunk files, returned in
// chunk index order. Chunk order is significant downstream: transcripts
// are joined in this order, never by completion order.
func (n *Normalizer) Split(ctx context.Context, wavPath string, chunk time.Duration) ([]string, error) {
	prefix := filepath.Join(n.cfg.WorkDir, "chunk-"+uuid.NewString())
	pattern := prefix + "-%04d.wav"

	cmd := exec.CommandContext(ctx, n.cfg.FFmpegPath,
		"-loglevel", "error",
		"-y",
		"-i", wavPath,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%.0f", chunk.Seconds()),
		"-c", "copy",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg segment: %v: %s", ErrConversionFailed, err, truncate(out, 200))
	}

	matches, err := filepath.Glob(prefix + "-*.wav")
	if err != nil {
		return nil, fmt.Errorf("glob chunks: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: segmenting produced no chunks", ErrConversionFailed)
	}
	// The %04d suffix makes lexical order equal chunk index order.
	sort.Strings(matches)
	return matches, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
