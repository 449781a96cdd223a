// BiocBot - course tutoring chat backend with struggle detection
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
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/api"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/chat"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/classifier"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/config"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/identity"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/intervention"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/llm"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/middleware"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/realtime"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/tracker"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/tutor"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"struggle_threshold", cfg.StruggleThreshold)

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

	// Completion collaborators. The tutor and the classifier run on
	// separate models; the classifier is the cheaper one.
	tutorCompleter := llm.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.TutorModel, cfg.TutorMaxTokens)
	classifierCompleter := llm.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.ClassifierModel, 256)

	// Initialize services.
	hub := realtime.NewHub()
	gateway := classifier.NewGateway(classifierCompleter, cfg.ClassifierTimeout, cfg.HistoryWindow)
	agent := tracker.NewAgent(gateway, repo, hub, cfg.StruggleThreshold, cfg.TrackerTimeout)
	policy := intervention.NewPolicy(repo, cfg.StruggleThreshold)
	tutorSvc := tutor.NewService(tutorCompleter, cfg.HistoryWindow)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	chatHandler := chat.NewHandler(repo, policy, tutorSvc, agent,
		cfg.ChatRateLimit, cfg.ChatRateWindow, cfg.MaxRequestBodySize, cfg.HistoryWindow)
	defer chatHandler.Close()
	wsHandler := realtime.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint for instructor dashboards.
	r.Get("/ws/dashboard", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Let in-flight background analyses land their counter updates before
	// the database closes.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.TrackerDrainTimeout)
	defer drainCancel()
	if err := agent.Drain(drainCtx); err != nil {
		slog.Warn("Tracker drain timed out, some analyses were dropped", "error", err)
	}

	hub.CloseAll()

	slog.Info("Server stopped successfully")
}
