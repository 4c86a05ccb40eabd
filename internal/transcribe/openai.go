package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/castwrite/castwrite/internal/config"
)

// OpenAI implements Transcriber against an OpenAI-compatible
// /audio/transcriptions endpoint.
type OpenAI struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *OpenAI) Name() string { return "openai" }

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (o *OpenAI) Transcribe(ctx context.Context, audioPath string, language string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.WriteField("model", o.cfg.Model); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		if isConnError(err) {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrTranscriptionFailed, resp.StatusCode)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranscriptionFailed, err)
	}
	return parsed.Text, nil
}

func isConnError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ Transcriber = (*OpenAI)(nil)
