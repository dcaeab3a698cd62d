// Package llm adapts streaming chat model APIs to a single chunk stream.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/chatline/internal/backoff"
	"github.com/haasonsaas/chatline/pkg/models"
)

// Provider streams one model step.
type Provider interface {
	Name() string

	// Stream starts a completion. The returned channel is closed after a
	// chunk with Done set; a failed stream ends with a chunk carrying Err.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Tool is the model-facing description of a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one model step.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []Tool
	MaxTokens int
}

// Chunk is one element of a model stream. Exactly one of Text, Reasoning,
// ToolCall or Done is meaningful unless Err is set.
type Chunk struct {
	Text      string
	Reasoning string

	// ToolCall is a complete call in state input-available.
	ToolCall *models.ToolCallPart

	Done         bool
	FinishReason string
	InputTokens  int
	OutputTokens int

	Err error
}

// Config selects and tunes a chat model provider.
type Config struct {
	Provider   string         `yaml:"provider"`
	APIKey     string         `yaml:"api_key"`
	BaseURL    string         `yaml:"base_url"`
	Model      string         `yaml:"model"`
	MaxTokens  int            `yaml:"max_tokens"`
	Timeout    time.Duration  `yaml:"timeout"`
	MaxRetries int            `yaml:"max_retries"`
	Backoff    backoff.Policy `yaml:"backoff"`
}

const (
	defaultMaxTokens  = 4096
	defaultMaxRetries = 3
	defaultTimeout    = 2 * time.Minute
)

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.DefaultPolicy()
	}
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic", "":
		return NewAnthropic(cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger)
	case "gemini", "google":
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
