// Zajuna Tutor Virtual - guardian autosave store
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
	"github.com/zajuna/tutor-virtual/internal/config"
	"github.com/zajuna/tutor-virtual/internal/guardianapi"
	"github.com/zajuna/tutor-virtual/internal/observability"
	"github.com/zajuna/tutor-virtual/internal/store"
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
	if err := cfg.ValidateGuardianServer(); err != nil {
		slog.Error("Invalid guardian configuration", "error", err)
		os.Exit(1)
	}
	g := cfg.Guardian

	slog.Info("Starting guardian store", "port", g.Port, "db_path", g.DBPath)

	repo, err := store.NewSQLite(g.DBPath)
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

	creds, err := guardianapi.NewCredentials(g.Username, g.Password, g.PasswordHash)
	if err != nil {
		slog.Error("Failed to load guardian credentials", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := guardianapi.NewRateLimiter(g.LoginLimit, g.LoginWindow)
	go limiter.Run(ctx)

	handler := guardianapi.NewHandler(guardianapi.Config{
		Store:       repo,
		Tokens:      guardianapi.NewTokens(g.JWTSecret, g.JWTIssuer, g.JWTAudience, g.TokenTTL),
		Credentials: creds,
		Limiter:     limiter,
		Logger:      logger,
	})

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/livez"))

	handler.RegisterRoutes(r)
	if cfg.Metrics {
		r.Handle("/metrics", observability.Handler())
	}

	srv := &http.Server{
		Addr:         ":" + g.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Guardian listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Guardian stopped successfully")
}
