// Package config loads the chatline configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/chatline/internal/conversations"
	"github.com/haasonsaas/chatline/internal/jobs"
	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/media"
	"github.com/haasonsaas/chatline/internal/media/transcribe"
	"github.com/haasonsaas/chatline/internal/media/vision"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/internal/turn"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "chatline.yaml"

// Config is the main configuration structure for chatline.
type Config struct {
	Version       int                       `yaml:"version"`
	Server        ServerConfig              `yaml:"server"`
	Storage       objectstore.Config        `yaml:"storage"`
	Conversations conversations.Config      `yaml:"conversations"`
	LLM           llm.Config                `yaml:"llm"`
	Turn          turn.Config               `yaml:"turn"`
	Media         MediaConfig               `yaml:"media"`
	Tools         ToolsConfig               `yaml:"tools"`
	Jobs          jobs.Config               `yaml:"jobs"`
	Logging       observability.LogConfig   `yaml:"logging"`
	Tracing       observability.TraceConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Uploads         UploadsConfig `yaml:"uploads"`

	// AllowedOrigins lists WebSocket origins; empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UploadsConfig bounds file uploads.
type UploadsConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`

	// RatePerMinute and Burst limit uploads per conversation.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// MediaConfig configures normalization and its model adapters.
type MediaConfig struct {
	media.Config  `yaml:",inline"`
	Vision        vision.Config     `yaml:"vision"`
	Transcription transcribe.Config `yaml:"transcription"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	ApprovalTTL    time.Duration `yaml:"approval_ttl"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists: every default
// applied and API keys taken from the environment.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	return cfg
}

// applyEnv fills API keys the file left empty from the provider's
// conventional environment variable.
func applyEnv(cfg *Config, getenv func(string) string) {
	fill := func(key *string, provider string) {
		if *key != "" {
			return
		}
		switch strings.ToLower(provider) {
		case "", "anthropic":
			*key = getenv("ANTHROPIC_API_KEY")
		case "openai":
			*key = getenv("OPENAI_API_KEY")
		case "gemini", "google":
			*key = getenv("GEMINI_API_KEY")
		}
	}
	fill(&cfg.LLM.APIKey, cfg.LLM.Provider)
	if cfg.Media.Vision.Provider != "" && cfg.Media.Vision.Provider != "none" {
		fill(&cfg.Media.Vision.APIKey, cfg.Media.Vision.Provider)
	}
	if cfg.Media.Transcription.Provider != "none" {
		provider := cfg.Media.Transcription.Provider
		if provider == "" {
			provider = "openai"
		}
		fill(&cfg.Media.Transcription.APIKey, provider)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.Uploads.MaxBytes == 0 {
		cfg.Server.Uploads.MaxBytes = objectstore.DefaultMaxUploadBytes
	}
	if cfg.Server.Uploads.RatePerMinute == 0 {
		cfg.Server.Uploads.RatePerMinute = 30
	}
	if cfg.Server.Uploads.Burst == 0 {
		cfg.Server.Uploads.Burst = 10
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = objectstore.BackendLocal
	}
	if cfg.Storage.Backend == objectstore.BackendLocal && cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "data/uploads"
	}
	if cfg.Conversations.Backend == "" {
		cfg.Conversations.Backend = "sqlite"
	}
	if cfg.Conversations.Backend == "sqlite" && cfg.Conversations.Path == "" {
		cfg.Conversations.Path = "data/chatline.db"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.Turn.MaxSteps == 0 {
		cfg.Turn.MaxSteps = turn.DefaultMaxSteps
	}
	if cfg.Turn.KeepLast == 0 {
		cfg.Turn.KeepLast = turn.DefaultKeepLast
	}
	if cfg.Media.MemoTTL == 0 {
		cfg.Media.MemoTTL = time.Hour
	}
	if cfg.Media.MemoEntries == 0 {
		cfg.Media.MemoEntries = 1024
	}
	if cfg.Media.Vision.MaxDimension == 0 {
		cfg.Media.Vision.MaxDimension = media.DefaultMaxDimension
	}
	if cfg.Media.MaxImageDimension == 0 {
		cfg.Media.MaxImageDimension = cfg.Media.Vision.MaxDimension
	}
	if cfg.Tools.ApprovalTTL == 0 {
		cfg.Tools.ApprovalTTL = jobs.DefaultApprovalTTL
	}
	cfg.Jobs.ApplyDefaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "chatline"
	}
}
