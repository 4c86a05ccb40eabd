package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// probeOutput mirrors the subset of ffprobe's JSON output we read.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Probe reads the media container's duration via ffprobe. Fails with
// ErrProbeFailed when the file has no audio stream or its metadata is
// unreadable.
func (n *Normalizer) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, n.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v", ErrProbeFailed, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return 0, fmt.Errorf("%w: decode ffprobe output: %v", ErrProbeFailed, err)
	}

	hasAudio := false
	for _, s := range probed.Streams {
		if s.CodecType == "audio" {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return 0, fmt.Errorf("%w: no audio stream", ErrProbeFailed)
	}

	secs, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%w: unreadable duration %q", ErrProbeFailed, probed.Format.Duration)
	}

	return time.Duration(secs * float64(time.Second)), nil
}
