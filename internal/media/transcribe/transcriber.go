// Package transcribe adapts speech-to-text services to media.Transcriber.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/haasonsaas/chatline/internal/media"
)

// Config selects and configures a transcription provider.
type Config struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	// Language is a BCP 47 hint; empty lets the provider detect it.
	Language string `yaml:"language"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NormalizeLanguage reduces a BCP 47 tag to the ISO 639-1 base Whisper
// expects. An empty tag stays empty.
func NormalizeLanguage(tag string) (string, error) {
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", tag, err)
	}
	base, _ := parsed.Base()
	return base.String(), nil
}

// Transcriber decorates a provider with logging.
type Transcriber struct {
	provider media.Transcriber
	name     string
	logger   *slog.Logger
}

var _ media.Transcriber = (*Transcriber)(nil)

// Transcribe delegates to the provider.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	text, err := t.provider.Transcribe(ctx, audio, mimeType)
	if err != nil {
		t.logger.WarnContext(ctx, "transcription failed", "provider", t.name, "error", err)
		return "", err
	}
	t.logger.DebugContext(ctx, "transcription complete", "provider", t.name, "text_length", len(text))
	return text, nil
}

// Name returns the provider name.
func (t *Transcriber) Name() string {
	return t.name
}

// New creates a Transcriber for the configured provider.
func New(cfg Config) (*Transcriber, error) {
	cfg.applyDefaults()

	lang, err := NormalizeLanguage(cfg.Language)
	if err != nil {
		return nil, err
	}

	var provider media.Transcriber
	switch cfg.Provider {
	case "openai":
		provider, err = NewOpenAITranscriber(OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: lang,
			Logger:   cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transcriber: %w", cfg.Provider, err)
	}
	return NewWithProvider(cfg.Provider, provider, cfg.Logger), nil
}

// NewWithProvider wraps a custom provider.
func NewWithProvider(name string, provider media.Transcriber, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		provider: provider,
		name:     name,
		logger:   logger.With("component", "transcriber"),
	}
}
