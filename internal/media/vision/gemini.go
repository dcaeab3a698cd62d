package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/chatline/internal/media"
)

// Gemini describes images with a Gemini model.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

var _ media.Describer = (*Gemini)(nil)

// NewGemini creates a Gemini describer.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini vision: API key is required")
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini vision: failed to create client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "gemini-vision"),
	}, nil
}

// Describe sends the image as inline data.
func (g *Gemini) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}},
		},
	}}
	// #nosec G115 -- bounded by min
	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(min(g.maxTokens, math.MaxInt32))}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini vision: %w", err)
	}
	g.logger.DebugContext(ctx, "image described", "model", g.model)
	return strings.TrimSpace(resp.Text()), nil
}
