package generate

import (
	"fmt"

	"github.com/castwrite/castwrite/internal/config"
)

// NewGenerator constructs the configured provider. Called once at
// server startup.
func NewGenerator(cfg config.ProviderConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q: must be one of openai, mock", cfg.Provider)
	}
}
