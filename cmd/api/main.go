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

	"github.com/joho/godotenv"

	"github.com/urnaweb/server/internal/auth"
	"github.com/urnaweb/server/internal/config"
	"github.com/urnaweb/server/internal/db"
	httphandler "github.com/urnaweb/server/internal/http"
	"github.com/urnaweb/server/internal/http/handlers"
	"github.com/urnaweb/server/internal/middleware"
	"github.com/urnaweb/server/internal/repo"
	"github.com/urnaweb/server/internal/session"
	"github.com/urnaweb/server/internal/voting"
)

func main() {
	// Load .env from CWD; real environment variables win
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	gw := db.NewGateway(database)

	// Repositories
	voterRepo := repo.NewVoterRepo(gw)
	sessionRepo := repo.NewSessionRepo(gw)
	ballotRepo := repo.NewBallotRepo(gw)

	// Services
	sessions := session.NewManager(sessionRepo, cfg.SessionTTL)
	authService := auth.NewService(voterRepo, sessions)
	votingService := voting.NewService(gw, sessions, voterRepo, ballotRepo)
	jwtService := auth.NewJWTService(cfg.AdminJWTSecret, cfg.AdminTokenTTL)

	limiter, closeLimiter := newAuthLimiter(ctx, cfg)
	defer closeLimiter()

	router := httphandler.NewRouter(httphandler.Handlers{
		Auth:   handlers.NewAuthHandler(authService),
		Voting: handlers.NewVotingHandler(votingService),
		Admin:  handlers.NewAdminHandler(votingService),
		Health: handlers.NewHealthHandler(gw),
	}, jwtService, httphandler.Options{AuthLimiter: limiter, TrustProxy: cfg.TrustProxy})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "session_ttl", cfg.SessionTTL.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}

	slog.Info("server exited")
}

// newAuthLimiter prefers a Redis-backed limiter shared across instances and
// falls back to process memory when REDIS_URL is unset or unreachable.
func newAuthLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func()) {
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		client, err := middleware.ConnectRedis(pingCtx, cfg.RedisURL)
		if err == nil {
			slog.Info("auth rate limit backed by redis", "limit", cfg.AuthRateLimit, "window", cfg.AuthRateWindow.String())
			return middleware.NewRedisLimiter(client, cfg.AuthRateWindow, cfg.AuthRateLimit), func() { _ = client.Close() }
		}
		slog.Warn("redis unavailable, using in-memory rate limit", "error", err)
	}
	rl := middleware.NewRateLimiter(cfg.AuthRateWindow, cfg.AuthRateLimit)
	return rl, rl.Stop
}
