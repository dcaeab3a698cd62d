// Package main provides the chatline CLI.
//
// # Basic Usage
//
// Start the server:
//
//	chatline serve --config chatline.yaml
//
// Talk to a running server from the terminal:
//
//	chatline chat --server http://localhost:8080
//
// Check a configuration file:
//
//	chatline config validate --config chatline.yaml
//
// # Environment Variables
//
//   - CHATLINE_CONFIG: Path to configuration file (default: chatline.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key (chat, vision and transcription)
//   - GEMINI_API_KEY: Gemini API key
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatline/internal/config"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatline",
		Short: "chatline - multimodal chat backend with tool approvals",
		Long: `chatline serves a streaming chat API. Uploaded images and voice
messages are turned into text before reaching the model, and tool calls
can be held for user approval.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatline %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}

// resolveConfigPath prefers an explicit path, then CHATLINE_CONFIG, then the
// default file name.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("CHATLINE_CONFIG")); env != "" {
		return env
	}
	return config.DefaultPath
}

// loadConfig reads path. A missing default file is not an error: the built-in
// defaults are used instead.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultPath && errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		cfg = config.Default()
		return cfg, config.Validate(cfg)
	}
	return nil, err
}
