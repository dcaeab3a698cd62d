package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/chatline/internal/media"
)

// maxAudioBytes is the Whisper upload limit.
const maxAudioBytes = 25 << 20

// OpenAIConfig configures the Whisper transcriber.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// OpenAITranscriber transcribes audio with OpenAI's Whisper API.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

var _ media.Transcriber = (*OpenAITranscriber)(nil)

// NewOpenAITranscriber creates a Whisper transcriber.
func NewOpenAITranscriber(cfg OpenAIConfig) (*OpenAITranscriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   cfg.Logger.With("component", "openai-transcriber"),
	}, nil
}

// Transcribe sends the recording to Whisper and returns the trimmed text.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("audio data is empty")
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("audio data too large (%d bytes)", len(audio))
	}

	t.logger.DebugContext(ctx, "transcribing audio",
		"size_bytes", len(audio),
		"mime_type", mimeType,
		"model", t.model)

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filenameForMimeType(mimeType),
		Reader:   bytes.NewReader(audio),
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// filenameForMimeType picks an upload filename; Whisper infers the container
// from the extension.
func filenameForMimeType(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = strings.TrimSpace(mt[:idx])
	}
	switch mt {
	case "audio/flac":
		return "audio.flac"
	case "audio/m4a", "audio/mp4", "audio/x-m4a":
		return "audio.m4a"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mpga":
		return "audio.mpga"
	case "audio/ogg", "audio/opus":
		return "audio.ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.mp3"
	}
}
