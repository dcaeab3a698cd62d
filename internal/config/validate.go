package config

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/chatline/internal/jobs"
	"github.com/haasonsaas/chatline/internal/media/transcribe"
	"github.com/haasonsaas/chatline/internal/objectstore"
)

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	return validate(cfg)
}

func validate(cfg *Config) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		add("version: %v", err)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if cfg.Server.Uploads.MaxBytes < 0 {
		add("server.uploads.max_bytes must not be negative")
	}
	if cfg.Server.Uploads.RatePerMinute < 0 || cfg.Server.Uploads.Burst < 0 {
		add("server.uploads rate limits must not be negative")
	}

	switch strings.ToLower(cfg.Storage.Backend) {
	case objectstore.BackendMemory, objectstore.BackendLocal, objectstore.BackendBlob:
	case objectstore.BackendS3:
		if cfg.Storage.S3.Bucket == "" {
			add("storage.s3.bucket is required for the s3 backend")
		}
	default:
		add("storage.backend %q is not one of memory, local, s3, blob", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == objectstore.BackendBlob && cfg.Storage.BlobURL == "" {
		add("storage.blob_url is required for the blob backend")
	}

	switch cfg.Conversations.Backend {
	case "memory", "sqlite":
	default:
		add("conversations.backend %q is not one of memory, sqlite", cfg.Conversations.Backend)
	}

	switch strings.ToLower(cfg.LLM.Provider) {
	case "anthropic", "openai", "gemini", "google":
	default:
		add("llm.provider %q is not one of anthropic, openai, gemini", cfg.LLM.Provider)
	}
	if cfg.Turn.MaxSteps < 0 || cfg.Turn.MaxSteps > 10 {
		add("turn.max_steps must be between 1 and 10")
	}
	if cfg.Turn.KeepLast < 0 {
		add("turn.keep_last must not be negative")
	}

	switch strings.ToLower(cfg.Media.Vision.Provider) {
	case "", "none", "anthropic", "openai", "gemini", "google":
	default:
		add("media.vision.provider %q is not one of none, anthropic, openai, gemini", cfg.Media.Vision.Provider)
	}
	switch strings.ToLower(cfg.Media.Transcription.Provider) {
	case "", "none", "openai":
	default:
		add("media.transcription.provider %q is not one of none, openai", cfg.Media.Transcription.Provider)
	}
	if _, err := transcribe.NormalizeLanguage(cfg.Media.Transcription.Language); err != nil {
		add("media.transcription.language: %v", err)
	}
	if cfg.Media.MaxConcurrency < 0 {
		add("media.max_concurrency must not be negative")
	}

	if err := jobs.ValidateSchedule(cfg.Jobs.ApprovalPrune); err != nil {
		add("jobs.approval_prune: %v", err)
	}
	if err := jobs.ValidateSchedule(cfg.Jobs.MemoSweep); err != nil {
		add("jobs.memo_sweep: %v", err)
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q is not one of json, text", cfg.Logging.Format)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if r := cfg.Tracing.SamplingRate; r < 0 || r > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
