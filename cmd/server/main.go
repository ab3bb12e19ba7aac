package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/chat"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/config"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/handlers"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/presence"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the data store: PostgreSQL when configured, SQLite
	// otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("running database migrations...")
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer dataStore.Close()

	// Initialize Redis (optional; enables multi-instance delivery and
	// rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()

		// Presence state from a previous run must not outlive it
		if err := redisStore.ClearOnline(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to clear presence set")
		}
		logger.Info().Msg("connected to Redis")
	}

	// Presence tracker and realtime hub
	var cache presence.Cache
	if redisStore != nil {
		cache = redisStore
	}
	tracker := presence.New(dataStore, cache, logger)

	hub := ws.NewHub(redisStore, logger)
	tracker.SetAnnouncer(hub)

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go hub.Run(hubCtx)

	// Chat core
	directory := chat.NewDirectory(dataStore, hub, logger)
	pipeline := chat.NewPipeline(dataStore, tracker, hub, logger)
	reader := chat.NewReadTracker(dataStore, logger)

	gateway := ws.NewGateway(hub, tracker, directory, pipeline, reader, logger)

	// HTTP surface
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handlers.NewHandler(dataStore, redisStore, auth, directory, pipeline, tracker)

	var limiter *middleware.RateLimiter
	if redisStore != nil {
		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist: cfg.RateLimitWhitelist,
		})
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:  logger,
		Handler: h,
		Auth:    auth,
		Limiter: limiter,
		ServeWS: gateway.ServeWS,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chef-de-partie server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Stop the cross-instance event loop and mark everyone offline
	hubCancel()
	tracker.Reset()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
