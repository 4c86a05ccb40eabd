package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/castwrite/castwrite/internal/config"
	"github.com/castwrite/castwrite/pkg/models"
)

const systemPrompt = `You turn a raw audio transcript into a blog article.
Respond with a single JSON object: {"title": string, "body_html": string, "tags": [string]}.
body_html is the full article as clean HTML (h2/p/ul only). Do not wrap the JSON in markdown fences.`

// OpenAI implements Generator against an OpenAI-compatible chat
// completions endpoint.
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

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, transcript string) (models.Draft, error) {
	payload, err := json.Marshal(chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return models.Draft{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return models.Draft{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return models.Draft{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Draft{}, fmt.Errorf("%w: status %d", ErrGenerationFailed, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.Draft{}, fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}
	if len(parsed.Choices) == 0 {
		return models.Draft{}, fmt.Errorf("%w: empty choices", ErrGenerationFailed)
	}

	return parseDraft(parsed.Choices[0].Message.Content)
}

// parseDraft decodes the model's JSON answer. Anything that does not
// yield a titled draft maps to the failure sentinel so the worker's
// bounded retry kicks in.
func parseDraft(content string) (models.Draft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var draft models.Draft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return models.Draft{}, fmt.Errorf("%w: invalid draft JSON: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.BodyHTML) == "" {
		return models.Draft{}, fmt.Errorf("%w: draft missing title or body", ErrGenerationFailed)
	}
	return draft, nil
}

var _ Generator = (*OpenAI)(nil)
