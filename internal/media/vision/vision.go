// Package vision adapts multimodal chat models to media.Describer.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/chatline/internal/media"
)

// Config selects and configures a vision provider.
type Config struct {
	// Provider is one of "anthropic", "openai", "gemini" or "none".
	Provider  string        `yaml:"provider"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`

	// MaxDimension bounds the longest image side; larger images are
	// downscaled before upload.
	MaxDimension int `yaml:"max_dimension"`
}

const defaultMaxTokens = 512

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// New builds the describer named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (media.Describer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "", "none":
		return Noop{}, nil
	case "anthropic":
		return NewAnthropic(cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger)
	case "gemini":
		return NewGemini(context.Background(), cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
	}
}

// Noop never describes anything; images degrade to the failure sentinel.
type Noop struct{}

func (Noop) Describe(context.Context, []byte, string, string) (string, error) {
	return "", nil
}
