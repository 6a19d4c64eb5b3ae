// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/clipshelf/internal/api"
	"github.com/starford/clipshelf/internal/capture"
	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/mcpserver"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/sse"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// NewLogger builds the structured JSON logger used by every entry point.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Run starts the HTTP server and, when configured, the inbox watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := NewLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("payload_dir", cfg.Archive.PayloadDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("inbox", cfg.Capture.Inbox),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := OpenServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// SSE broker.
	broker := sse.NewBroker(500 * time.Millisecond)
	defer broker.Close()
	svc.Clips.SetEventFunc(broker.PublishClipEvent)

	apiRouter := api.NewRouter(svc.Clips, svc.Uploads, api.RouterConfig{
		AuthEnabled:    cfg.Auth.AuthEnabled(),
		Token:          cfg.Auth.Token,
		MaxUploadBytes: cfg.Archive.MaxPayloadBytes,
		Events:         broker,
	})

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: newRootRouter(apiRouter, svc.Ready),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Capture.Enabled() {
		ingest := inboxIngest(svc.Clips, cfg.Capture)
		inboxOpts := capture.InboxOptions{
			Settle:            cfg.Capture.Settle,
			RemoveAfterIngest: cfg.Capture.RemoveAfterIngest,
		}
		g.Go(func() error {
			if inboxOpts.RemoveAfterIngest {
				if _, err := capture.ScanInbox(gCtx, cfg.Capture.Inbox, ingest, inboxOpts, logger); err != nil {
					logger.Warn("initial inbox scan failed", slog.String("error", err.Error()))
				}
			}
			if err := capture.Watch(gCtx, cfg.Capture.Inbox, ingest, inboxOpts, logger); err != nil {
				return fmt.Errorf("inbox watcher: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := NewLogger(app.logOutput, app.config.App.LogLevel)
	slog.SetDefault(logger)

	svc, err := OpenServices(app.config, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc.Clips, svc.Uploads).ServeStdio()
}

func newRootRouter(apiRouter http.Handler, ready func(context.Context) error) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// inboxIngest stores every file taken from the inbox with the configured
// tags and description.
func inboxIngest(clips *clipservice.Service, cfg CaptureConfig) capture.IngestFunc {
	tags := clipservice.NormalizeTags(cfg.Tags)
	return func(ctx context.Context, items []models.RawClip) error {
		_, err := clips.Ingest(ctx, items, tags, cfg.Description)
		return err
	}
}
