package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aftras/crm-api/internal/config"
	"github.com/aftras/crm-api/internal/handler"
	"github.com/aftras/crm-api/internal/infra/cache"
	"github.com/aftras/crm-api/internal/infra/genai"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/infra/resilience"
	"github.com/aftras/crm-api/internal/infra/supabase"
	"github.com/aftras/crm-api/internal/port"
	"github.com/aftras/crm-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("profile_watch_interval", cfg.ProfileWatchInterval),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("jwt_refresh_ttl", cfg.JWTRefreshTTL),
	)

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "crm-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	insightCache := cache.New[string](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase")

	// --- Data backend ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		cfg.ProfileWatchInterval,
		logger,
	)
	logger.Info("using Supabase as data backend",
		zap.String("supabase_url", cfg.SupabaseURL),
	)

	// --- Insight generator (best-effort) ---
	var generator port.InsightGenerator
	if g, err := genai.NewGenerator(cfg.GeminiAPIKey, cfg.GeminiModel, logger); err != nil {
		logger.Warn("insight generator disabled", zap.Error(err))
	} else {
		generator = g
		logger.Info("insight generator enabled", zap.String("model", cfg.GeminiModel))
	}

	// --- Services ---
	sessions := service.NewSessionReconciler(supabaseClient, metrics, logger)
	defer sessions.Close()

	codesSvc := service.NewAccessCodeService(supabaseClient, logger)
	authSvc := service.NewAuthService(
		supabaseClient,
		supabaseClient,
		codesSvc,
		sessions,
		cfg.JWTSecret,
		cfg.JWTAccessTTL,
		cfg.JWTRefreshTTL,
		logger,
	)
	lifecycleSvc := service.NewLifecycleService(supabaseClient, metrics, logger)
	directorySvc := service.NewDirectoryService(supabaseClient, supabaseClient, supabaseClient, logger)
	settingsSvc := service.NewSettingsService(supabaseClient, logger)
	settingsCh, unsubscribe := settingsSvc.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range settingsCh {
			logger.Info("branding updated",
				zap.String("name", s.Name),
				zap.String("currency", s.Currency),
			)
		}
	}()
	insightSvc := service.NewInsightService(supabaseClient, generator, insightCache, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(&handler.Services{
		Auth:      authSvc,
		Sessions:  sessions,
		Lifecycle: lifecycleSvc,
		Directory: directorySvc,
		Codes:     codesSvc,
		Settings:  settingsSvc,
		Insights:  insightSvc,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
