// Package server exposes uploads, file serving and conversation turns over
// HTTP, Server-Sent Events and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/chatline/internal/config"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/internal/turn"
	"github.com/haasonsaas/chatline/pkg/models"
)

// History lists the stored messages of a conversation.
type History interface {
	List(ctx context.Context, conversationID string) ([]models.Message, error)
}

// MediaMemo forgets derived media text for deleted objects.
type MediaMemo interface {
	Forget(keys ...string)
}

// Deps are the collaborators behind the HTTP surface. Orchestrator, Objects
// and History are required.
type Deps struct {
	Orchestrator *turn.Orchestrator
	Objects      objectstore.Store
	History      History

	// Media is told about deleted objects; nil skips it.
	Media MediaMemo

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP front end.
type Server struct {
	config   config.ServerConfig
	orch     *turn.Orchestrator
	objects  objectstore.Store
	uploader *objectstore.Uploader
	history  History
	media    MediaMemo
	limiter  *uploadLimiter
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	metrics  *observability.Metrics
	handler  http.Handler
}

// New builds a server.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("server: orchestrator is required")
	case deps.Objects == nil:
		return nil, errors.New("server: object store is required")
	case deps.History == nil:
		return nil, errors.New("server: history is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:   cfg,
		orch:     deps.Orchestrator,
		objects:  deps.Objects,
		uploader: objectstore.NewUploader(deps.Objects, cfg.Uploads.MaxBytes),
		history:  deps.History,
		media:    deps.Media,
		limiter:  newUploadLimiter(cfg.Uploads.RatePerMinute, cfg.Uploads.Burst),
		gatherer: gatherer,
		logger:   logger.With("component", "server"),
		metrics:  deps.Metrics,
	}
	s.handler = s.instrument(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/tools", s.handleTools)

	mux.HandleFunc("POST /api/conversations/{id}/files", s.handleUpload)
	mux.HandleFunc("POST /api/conversations/{id}/files/delete", s.handleDeleteFiles)
	mux.HandleFunc("GET /api/files/{key...}", s.handleFile)

	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleHistory)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /api/conversations/{id}/approvals", s.handleApproval)
	mux.HandleFunc("POST /api/conversations/{id}/tool-outputs", s.handleToolOutput)
	mux.HandleFunc("GET /api/conversations/{id}/stream", s.handleStream)

	return mux
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_turns": s.orch.Locker().Active(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.orch.Tools(r.Context())})
}
