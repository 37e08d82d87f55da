package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skyrail-ai/skyrail-gateway/internal/auth"
	"github.com/skyrail-ai/skyrail-gateway/internal/cache"
	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/cost"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter/injection"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter/policy"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter/secrets"
	"github.com/skyrail-ai/skyrail-gateway/internal/gateway"
	"github.com/skyrail-ai/skyrail-gateway/internal/ratelimit"
	"github.com/skyrail-ai/skyrail-gateway/internal/router"
	"github.com/skyrail-ai/skyrail-gateway/internal/tasks"
	"github.com/skyrail-ai/skyrail-gateway/internal/telemetry"
	"github.com/skyrail-ai/skyrail-gateway/internal/usage"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Bootstrap logger; replaced once the telemetry config is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()
	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (key auth and usage records will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (key cache, rpm limits and daily budgets disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Background goroutines stop when this context does.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	// Gateway tunables, hot-patchable via PUT /gateway/config.
	runtime := config.NewRuntime(cfg.Gateway)

	// Provider registry
	providerRegistry, err := router.BuildFromConfig(loader.Providers(), loader.Catalog(), logger)
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}

	breakers := router.NewBreakers()
	healthTracker := router.NewHealthTracker()
	for _, desc := range providerRegistry.Providers() {
		healthTracker.Track(desc.Name)
	}
	go healthTracker.Monitor(runCtx, breakers, runtime)

	loader.OnReload(func() {
		rebuilt, err := router.BuildFromConfig(loader.Providers(), loader.Catalog(), logger)
		if err != nil {
			logger.Error("config reload kept previous provider registry", "error", err)
			return
		}
		providerRegistry.ReplaceAll(rebuilt)
		for _, desc := range providerRegistry.Providers() {
			healthTracker.Track(desc.Name)
		}
		runtime.Replace(loader.Config().Gateway)
		logger.Info("provider registry reloaded")
	})

	// Dispatch collaborators
	limiter := ratelimit.NewFixedWindow()
	go limiter.Sweep(runCtx, time.Minute, 10*time.Minute)

	respCache := cache.NewResponseCache()
	go respCache.Sweep(runCtx, time.Minute)

	costs := cost.NewTracker()
	budget := ratelimit.NewBudgetTracker(rdb)
	metrics := telemetry.NewMetrics()
	stats := telemetry.NewStats()

	usageRecorder := usage.NewRecorder(dbPool, logger)
	go usageRecorder.Run(runCtx)

	dispatcher := gateway.NewDispatcher(gateway.Deps{
		Registry:  providerRegistry,
		Breakers:  breakers,
		Health:    healthTracker,
		Limiter:   limiter,
		Cache:     respCache,
		Costs:     costs,
		Runtime:   runtime,
		Metrics:   metrics,
		Stats:     stats,
		Budget:    budget,
		Usage:     usageRecorder,
		Sanitizer: secrets.NewScanner(),
		Logger:    logger,
	})

	taskManager := tasks.NewManager(dispatcher, cfg.Tasks, logger)
	go taskManager.Sweep(runCtx)

	// Request-side content filters
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig {
		return loader.Config().Filter.Policy
	})
	if cfg.Filter.Policy.Enabled {
		if err := policyEval.Load(); err != nil {
			logger.Error("failed to load policy bundle", "error", err, "path", cfg.Filter.Policy.BundlePath)
			os.Exit(1)
		}
		logger.Info("policy bundle loaded", "path", cfg.Filter.Policy.BundlePath)
	}
	filterChain := filter.NewChain(
		secrets.NewFilter(func() config.SecretsFilterConfig {
			return loader.Config().Filter.Secrets
		}),
		injection.NewScanner(func() config.InjectionFilterConfig {
			return loader.Config().Filter.Injection
		}),
		policyEval,
	)

	// Build handler
	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	handler := gateway.NewHandler(gateway.HandlerDeps{
		Manager:     taskManager,
		Registry:    providerRegistry,
		Health:      healthTracker,
		Runtime:     runtime,
		Stats:       stats,
		Costs:       costs,
		Cache:       respCache,
		Metrics:     metrics,
		FilterChain: filterChain,
		Cfg:         loader.Config,
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		if cfg.Auth.Mode == config.AuthModeAnonymous {
			logger.Warn("anonymous auth mode enabled, all requests share one caller")
			r.Use(auth.Anonymous())
		} else {
			r.Use(auth.Middleware(keyStore))
		}
		r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb), budget, metrics))

		r.Post("/responses", handler.CreateResponse)
		r.Get("/responses", handler.ListResponses)
		r.Get("/responses/{id}", handler.GetResponse)
		r.Get("/responses/{id}/stream", handler.StreamResponse)

		r.Get("/models", handler.ListModels)
		r.Get("/models/{id}", handler.GetModel)

		r.Get("/gateway/health", handler.GatewayHealth)
		r.Get("/gateway/metrics", handler.GetMetrics)
		r.Delete("/gateway/metrics", handler.ResetMetrics)
		r.Get("/gateway/config", handler.GetConfig)
		r.Put("/gateway/config", handler.UpdateConfig)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	stopRun()
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
