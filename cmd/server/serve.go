package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/heritage-guide/internal/api"
	"github.com/ashureev/heritage-guide/internal/chat"
	"github.com/ashureev/heritage-guide/internal/clova"
	"github.com/ashureev/heritage-guide/internal/config"
	"github.com/ashureev/heritage-guide/internal/health"
	"github.com/ashureev/heritage-guide/internal/middleware"
	"github.com/ashureev/heritage-guide/internal/prompt"
	"github.com/ashureev/heritage-guide/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.Database.Driver)

	repo, err := store.Open(parent, cfg.Database.Driver, cfg.Database.DSN(), cfg.Database.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	slog.Info("Database connected")

	if cfg.SeedPath != "" {
		if err := seedFrom(parent, repo, cfg.SeedPath); err != nil {
			return err
		}
	}

	prompts, err := prompt.Load(cfg.PromptsPath)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	if cfg.Clova.APIKey == "" {
		slog.Warn("CLOVA_API_KEY is not set, model requests will be rejected upstream")
	}

	model := clova.NewClient(clova.Config{
		CompletionHost: cfg.Clova.CompletionHost,
		SlidingHost:    cfg.Clova.SlidingHost,
		APIKey:         cfg.Clova.APIKey,
		GatewayKey:     cfg.Clova.GatewayKey,
		Model:          cfg.Clova.Model,
		Timeout:        cfg.Clova.Timeout,
	}, logger)

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	svc := chat.NewService(repo, model, prompts, chatOptions(cfg), conversationLogger, logger)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()
	sockets := api.NewSocketRegistry()

	chatHandler := api.NewChatHandler(svc, limiter, sockets)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// Model calls can take up to the client timeout, so the write timeout
	// leaves room for one full completion.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Clova.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Chat.IdleTimeout > 0 {
		chat.StartIdleReaper(ctx, svc, cfg.Chat.IdleTimeout, cfg.Chat.IdleSweepInterval, sockets.CloseSession)
	}

	var grpcHealth *health.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("failed to listen for grpc health: %w", err)
		}
		grpcHealth = health.NewServer(repo, cfg.GRPCHealthInterval, logger)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Background tasks cancelled before completion", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func chatOptions(cfg *config.Config) chat.Options {
	return chat.Options{
		MaxWindowSize:       cfg.Chat.MaxWindowSize,
		WindowMaxTokens:     cfg.Chat.WindowMaxTokens,
		InitialQuizCount:    cfg.Chat.QuizCount,
		QuizMaxAttempts:     cfg.Chat.QuizMaxAttempts,
		QuizRetryDelay:      cfg.Chat.QuizRetryDelay,
		SummaryTimeout:      cfg.Chat.SummaryTimeout,
		RecommendAfterReply: cfg.Chat.RecommendAfterChat,
	}
}
