package transcribe

import (
	"fmt"

	"github.com/castwrite/castwrite/internal/config"
)

// NewTranscriber constructs the configured provider. Called once at
// server startup.
func NewTranscriber(cfg config.ProviderConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown transcriber provider %q: must be one of openai, mock", cfg.Provider)
	}
}
