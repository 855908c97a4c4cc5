// PitchLab - Sales Roleplay Practice Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/pitchlab/pitchlab/internal/api"
	"github.com/pitchlab/pitchlab/internal/config"
	"github.com/pitchlab/pitchlab/internal/identity"
	"github.com/pitchlab/pitchlab/internal/middleware"
	"github.com/pitchlab/pitchlab/internal/practice"
	"github.com/pitchlab/pitchlab/internal/scenario"
	"github.com/pitchlab/pitchlab/internal/store"
	"github.com/pitchlab/pitchlab/internal/transcript"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	responder, err := scenario.NewScriptResponder(cfg.ScriptPath)
	if err != nil {
		slog.Error("Failed to load scenario script", "error", err)
		os.Exit(1)
	}
	scriptSource := cfg.ScriptPath
	if scriptSource == "" {
		scriptSource = "embedded"
	}
	slog.Info("Scenario script loaded", "source", scriptSource, "persona", responder.Persona())

	transcriptLogger, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcriptLogger.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	mgr := practice.NewManager(repo, responder, cfg.SessionDuration, transcriptLogger)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit.PerMinute, time.Minute)
		slog.Info("Rate limiter enabled", "per_minute", cfg.RateLimit.PerMinute)
	}

	// Initialize handlers.
	chatHandler := api.NewChatHandler(mgr, limiter)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// The health route doubles as the cookie bootstrap for API clients,
	// so it sits inside the identity middleware but outside CSRF.
	healthHandler.RegisterHealth(r)

	// Chat routes require the CSRF double-submit on top of identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireCSRF())
		chatHandler.RegisterRoutes(r)
	})

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	practice.StartSweeper(ctx, repo, cfg.SweepInterval)
	slog.Info("Session sweeper started", "interval", cfg.SweepInterval)

	if cfg.ScriptPath != "" {
		if err := scenario.StartWatcher(ctx, cfg.ScriptPath, responder); err != nil {
			slog.Warn("Script watcher unavailable, live reload disabled", "error", err)
		} else {
			slog.Info("Script watcher started", "path", cfg.ScriptPath)
		}
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
