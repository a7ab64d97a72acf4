package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"glmgate/internal/auth"
	"glmgate/internal/cache"
	"glmgate/internal/config"
	"glmgate/internal/handlers"
	"glmgate/internal/httpserver"
	"glmgate/internal/metrics"
	"glmgate/internal/registry"
	"glmgate/internal/upstream"
	"glmgate/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("upstream_base_url", cfg.UpstreamBaseURL),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Int("api_keys", len(cfg.APIKeys)),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Completion cache -----
	store := cache.NewStore(cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.CacheTTL,
		Prefix:  "glmgate",
	}, redisClient)
	store = cache.NewLoggingStore(store)

	// ----- Upstream client -----
	client, err := upstream.NewClient(upstream.Config{
		BaseURL:          cfg.UpstreamBaseURL,
		APIKey:           cfg.UpstreamAPIKey,
		SigningSecret:    cfg.UpstreamSigningSecret,
		ConnectTimeout:   cfg.ConnectTimeout,
		FirstByteTimeout: cfg.FirstByteTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		Retry: upstream.RetryPolicy{
			MaxAttempts: cfg.MaxRetries + 1,
			BaseDelay:   cfg.BaseBackoff,
			MaxDelay:    cfg.MaxBackoff,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// ----- Model registry -----
	catalog, err := config.LoadCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return err
	}

	reg := registry.New(catalog.Models, client, cfg.ModelRefreshInterval, logger)
	reg.Start(context.Background())
	defer reg.Close()

	// ----- Auth -----
	gate := auth.NewGate(cfg.APIKeys)

	// ----- Handlers -----
	chatHandler := handlers.NewChatHandler(reg, client, store, cfg.CacheTTL, cfg.Version)
	modelsHandler := handlers.NewModelsHandler(reg)
	filesHandler := handlers.NewFilesHandler(client, cfg.MaxUploadBytes)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, gate, chatHandler, modelsHandler, filesHandler, httpserver.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// ----- HTTP server -----
	// WriteTimeout stays 0: streaming responses are open-ended and the
	// upstream idle watchdog bounds stalls instead.
	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("version", cfg.Version),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
