package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/chatline/internal/media"
)

// Anthropic describes images with a Claude model.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

var _ media.Describer = (*Anthropic)(nil)

// NewAnthropic creates a Claude describer.
func NewAnthropic(cfg Config, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic vision: API key is required")
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(1),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "anthropic-vision"),
	}, nil
}

// Describe sends the image as a base64 content block.
func (a *Anthropic) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic vision: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	a.logger.DebugContext(ctx, "image described", "model", a.model, "output_tokens", msg.Usage.OutputTokens)
	return strings.TrimSpace(text.String()), nil
}
