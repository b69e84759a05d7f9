package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sengdao/income-review-go/internal/config"
	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/handler"
	"github.com/sengdao/income-review-go/internal/infra/cache"
	"github.com/sengdao/income-review-go/internal/infra/client"
	"github.com/sengdao/income-review-go/internal/infra/observability"
	"github.com/sengdao/income-review-go/internal/infra/resilience"
	"github.com/sengdao/income-review-go/internal/service"
	"github.com/sengdao/income-review-go/internal/session"
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
		zap.String("income_api_url", cfg.IncomeAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "income-review")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	calcCache := cache.New[*domain.Calculation](cfg.CacheTTL)
	sessionStore := cache.NewSliding[*session.Session](cfg.SessionTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("income-api")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Income backend client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	incomeClient := client.NewIncomeAPIClient(httpClient, cfg.IncomeAPIURL, cb, bulkhead, resilienceCfg)

	// --- Service ---
	reviewSvc := service.NewReviewService(
		incomeClient,
		incomeClient,
		incomeClient,
		calcCache,
		sessionStore,
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(reviewSvc, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Run with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
