package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/api"
	"github.com/tubealert/tubealert/internal/cache"
	"github.com/tubealert/tubealert/internal/config"
	"github.com/tubealert/tubealert/internal/db"
	"github.com/tubealert/tubealert/internal/httpapi"
	"github.com/tubealert/tubealert/internal/log"
	"github.com/tubealert/tubealert/internal/monitor"
	"github.com/tubealert/tubealert/internal/notify"
	"github.com/tubealert/tubealert/internal/shortener"
	"github.com/tubealert/tubealert/internal/source"
)

func main() {
	// Load configuration first so the logger knows the environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting channel notification server",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
		zap.Duration("default_poll_interval", cfg.DefaultPollInterval),
		zap.Int("max_monitors", cfg.MaxMonitors),
	)

	httpapi.SetDevelopmentMode(cfg.IsDevelopment())

	// Connect to database
	ctx := context.Background()
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	repo := db.NewChannelRepository(database)

	// Content source: YouTube Data API when a key is configured,
	// page scraping as the fallback either way
	var primary source.Source
	if cfg.YouTubeAPIKey != "" {
		apiSource, err := source.NewAPISource(ctx, cfg.YouTubeAPIKey, cfg.APIRateLimit)
		if err != nil {
			log.Fatal("failed to create youtube api client", zap.Error(err))
		}
		primary = apiSource
	} else {
		log.Warn("YOUTUBE_API_KEY not set, using page scraping only")
	}
	contentSource := source.NewFallbackSource(primary, source.NewScrapeSource(cfg.SourceTimeout))

	shortenerChain := shortener.NewChain(cfg.ShortenerTimeout)
	sender := notify.NewSender(cfg.WebhookTimeout)
	responseCache := cache.New(cfg.CacheTTL)

	registry := monitor.NewRegistry(
		func() source.Source { return contentSource },
		shortenerChain,
		sender,
		repo,
		monitor.NewTickerScheduler(),
		cfg.MaxConsecutiveErrors,
		cfg.MaxMonitors,
	)

	// Restore monitoring for every persisted channel before serving
	if err := registry.Restore(ctx); err != nil {
		log.Error("failed to restore persisted channels", zap.Error(err))
	}

	handler := api.NewHandler(
		registry,
		contentSource,
		responseCache,
		sender,
		database,
		repo,
		cfg.DefaultPollInterval,
		cfg.MinPollInterval,
		cfg.TestWebhookURL,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())

	router.GET("/health", handler.Health)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/live-link", httpapi.RateLimit(100, time.Minute), handler.GetLiveLink)

		monitoring := apiGroup.Group("/monitoring")
		{
			monitoring.POST("/setup", httpapi.RateLimit(10, time.Minute), handler.SetupMonitoring)
			monitoring.POST("/stop", httpapi.RateLimit(10, time.Minute), handler.StopMonitoring)
			monitoring.POST("/restart", httpapi.RateLimit(10, time.Minute), handler.RestartMonitoring)
			monitoring.POST("/test-webhook", httpapi.RateLimit(10, time.Minute), handler.TestWebhook)
			monitoring.GET("/status", httpapi.RateLimit(100, time.Minute), handler.GetStatus)
			monitoring.GET("/channels", httpapi.RateLimit(100, time.Minute), handler.GetChannels)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop all monitors and persist their snapshots within the grace
	// period, then drain in-flight HTTP requests
	registry.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
