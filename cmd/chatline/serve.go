package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatline/internal/config"
	"github.com/haasonsaas/chatline/internal/conversations"
	"github.com/haasonsaas/chatline/internal/jobs"
	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/media"
	"github.com/haasonsaas/chatline/internal/media/transcribe"
	"github.com/haasonsaas/chatline/internal/media/vision"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/internal/server"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/internal/tools/builtin"
	"github.com/haasonsaas/chatline/internal/turn"
)

// buildServeCmd creates the "serve" command that runs the HTTP API.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chatline server",
		Long: `Start the chatline HTTP server.

The server will:
1. Load configuration from the specified file (or chatline.yaml)
2. Open the object store and the conversation store
3. Build the chat, vision and transcription model clients
4. Start the maintenance scheduler
5. Serve the API, /metrics and /healthz

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  chatline serve

  # Start with a custom config and debug logging
  chatline serve --config /etc/chatline/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// runServe wires every component from cfg and serves until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting chatline",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.Provider,
		"storage_backend", cfg.Storage.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg.Tracing.ServiceVersion = version
	tracer, shutdownTracer := observability.NewTracer(cfg.Tracing)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	objects, err := objectstore.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer objects.Close()

	history, err := conversations.Open(ctx, cfg.Conversations)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer history.Close()

	provider, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	normalizer, err := buildNormalizer(cfg, logger)
	if err != nil {
		return err
	}
	normalizer.SetMetrics(metrics)

	toolRegistry := tools.NewRegistry()
	if err := builtin.Register(toolRegistry, time.Now); err != nil {
		return fmt.Errorf("register built-in tools: %w", err)
	}
	approvals := tools.NewMemoryApprovalStore()
	executor := tools.NewExecutor(toolRegistry, approvals, tools.ExecutorConfig{
		DefaultTimeout: cfg.Tools.DefaultTimeout,
	}, logger)
	executor.SetObservability(metrics, tracer)

	orch, err := turn.New(cfg.Turn, turn.Deps{
		Provider:   provider,
		Executor:   executor,
		History:    history,
		Objects:    objects,
		Normalizer: normalizer,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	scheduler := jobs.NewScheduler(jobs.WithLogger(logger))
	if err := jobs.RegisterMaintenance(scheduler, cfg.Jobs, approvals, cfg.Tools.ApprovalTTL, normalizer); err != nil {
		return fmt.Errorf("register maintenance jobs: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("scheduler stop timed out", "error", err)
		}
	}()

	srv, err := server.New(cfg.Server, server.Deps{
		Orchestrator: orch,
		Objects:      objects,
		History:      history,
		Media:        normalizer,
		Gatherer:     registry,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	logger.Info("chatline started", "http_addr", cfg.Server.Addr())
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildNormalizer creates the media normalizer with the configured vision and
// transcription clients. A provider of "none" leaves that media kind to its
// failure sentinel.
func buildNormalizer(cfg *config.Config, logger *slog.Logger) (*media.Normalizer, error) {
	describer, err := vision.New(cfg.Media.Vision, logger)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	var transcriber media.Transcriber
	tcfg := cfg.Media.Transcription
	switch {
	case strings.EqualFold(tcfg.Provider, "none"):
	case tcfg.Provider == "" && tcfg.APIKey == "":
		logger.Warn("no transcription API key configured; voice messages will not be transcribed")
	default:
		tcfg.Logger = logger
		t, err := transcribe.New(tcfg)
		if err != nil {
			return nil, fmt.Errorf("create transcriber: %w", err)
		}
		transcriber = t
	}
	return media.NewNormalizer(describer, transcriber, cfg.Media.Config, logger), nil
}
