// Zajuna Tutor Virtual - custom-action server
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
	"github.com/zajuna/tutor-virtual/internal/actions"
	"github.com/zajuna/tutor-virtual/internal/api"
	"github.com/zajuna/tutor-virtual/internal/closing"
	"github.com/zajuna/tutor-virtual/internal/config"
	"github.com/zajuna/tutor-virtual/internal/guardian"
	"github.com/zajuna/tutor-virtual/internal/middleware"
	"github.com/zajuna/tutor-virtual/internal/observability"
	"github.com/zajuna/tutor-virtual/internal/store"
	"github.com/zajuna/tutor-virtual/internal/summarizer"
	"github.com/zajuna/tutor-virtual/internal/survey"
	"github.com/zajuna/tutor-virtual/internal/turns"
)

// guardianPinger adapts the guardian client's boolean ping to api.Pinger.
type guardianPinger struct {
	client *guardian.Client
}

func (p guardianPinger) Ping(ctx context.Context) error {
	if !p.client.Ping(ctx) {
		return errors.New("guardian store unreachable")
	}
	return nil
}

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

	slog.Info("Starting action server", "port", cfg.Port, "session_store", cfg.SessionStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()
	slog.Info("Session store connected", "backend", cfg.SessionStore)

	// Zero retries in the environment means none; the client treats zero as "default".
	maxRetries := cfg.Guardian.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	guardianClient, err := guardian.New(guardian.Config{
		BaseURL:    cfg.Guardian.URL,
		Username:   cfg.Guardian.Username,
		Password:   cfg.Guardian.Password,
		Timeout:    cfg.Guardian.Timeout,
		MaxRetries: maxRetries,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("Failed to initialize guardian client", "error", err)
		os.Exit(1)
	}
	if guardianClient.Ping(ctx) {
		slog.Info("Guardian store reachable", "url", cfg.Guardian.URL)
	} else {
		slog.Warn("Guardian store unreachable, autosaves will be skipped until it recovers", "url", cfg.Guardian.URL)
	}

	var recap summarizer.Summarizer = summarizer.Disabled{}
	if cfg.SummarizerEnabled() {
		httpSummarizer, err := summarizer.NewHTTP(summarizer.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
			Logger:  logger,
		})
		if err != nil {
			slog.Error("Failed to initialize summarizer", "error", err)
			os.Exit(1)
		}
		recap = httpSummarizer
		slog.Info("Session recap enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("Session recap disabled (LLM_BASE_URL not set)")
	}

	surveyLog, err := survey.NewLog(cfg.SurveyLogPath)
	if err != nil {
		slog.Error("Failed to open survey log", "path", cfg.SurveyLogPath, "error", err)
		os.Exit(1)
	}

	exec := actions.NewExecutor(actions.Deps{
		Counter:  turns.NewCounter(cfg.LongSession),
		Survey:   survey.NewTracker(surveyLog, logger),
		Closer:   closing.New(guardianClient, recap, logger),
		Guardian: guardianClient,
		Sessions: sessions,
		Logger:   logger,
	})
	actionHandler := actions.NewHandler(exec, sessions)
	healthHandler := api.NewHealthHandler(map[string]api.Pinger{
		"sessions": sessions,
		"guardian": guardianPinger{client: guardianClient},
	}, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/livez"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	healthHandler.RegisterHealth(r)
	actionHandler.RegisterRoutes(r)
	if cfg.Metrics {
		r.Handle("/metrics", observability.Handler())
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Redis expires keys on its own; only SQLite needs the sweeper.
	if cfg.SessionStore == "sqlite" {
		store.StartTTLWorker(ctx, sessions, cfg.SessionTTL, store.DefaultSweepInterval)
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "actions", len(exec.Names()))
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

	slog.Info("Server stopped successfully")
}

func openSessions(ctx context.Context, cfg *config.Config) (store.SessionRepository, error) {
	if cfg.SessionStore == "redis" {
		repo, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}
