package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atbadges/internal/cache"
	"atbadges/internal/config"
	"atbadges/internal/database"
	"atbadges/internal/external"
	"atbadges/internal/monitoring"
	"atbadges/internal/repositories"
	"atbadges/internal/response"
	"atbadges/internal/router"
	"atbadges/internal/services"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration first so the logger honours LOG_LEVEL
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting atBadges",
		zap.String("environment", cfg.Server.Environment),
		zap.String("version", cfg.Server.Version),
	)

	// Database
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Minute)
	dbManager, err := database.Connect(connectCtx, &cfg.Database, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// External badge service
	var badgeProvider external.BadgeService
	if cfg.BadgeService.Enabled {
		client, err := external.NewClient(external.Options{
			BaseURL:           cfg.BadgeService.BaseURL(),
			Source:            cfg.BadgeService.Provider,
			Timeout:           cfg.BadgeService.Timeout,
			RequestsPerSecond: cfg.BadgeService.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			logger.Fatal("Failed to create badge service client", zap.Error(err))
		}
		badgeProvider = client
		logger.Info("External badge service enabled",
			zap.String("provider", cfg.BadgeService.Provider),
			zap.String("base_url", cfg.BadgeService.BaseURL()),
		)
	} else {
		logger.Info("External badge service disabled, serving local badges only")
	}

	metrics := monitoring.NewMetrics(dbManager)

	badgeRepo := repositories.NewBadgeRepository(dbManager, logger)
	badgeService := services.NewBadgeService(badgeRepo, badgeProvider, metrics, logger)

	// Rate limit counters
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Provider = cfg.Cache.Provider
	cacheConfig.RedisURL = cfg.Cache.RedisURL
	if cfg.Cache.TTL > 0 {
		cacheConfig.TTL = cfg.Cache.TTL
	}
	if cfg.Cache.MaxKeys > 0 {
		cacheConfig.MaxKeys = cfg.Cache.MaxKeys
	}
	cacheInstance, err := cache.NewCache(cacheConfig, logger)
	if err != nil {
		logger.Fatal("Failed to create cache", zap.Error(err))
	}

	responseConfig := response.DefaultConfig()
	responseConfig.PrettyJSON = cfg.IsDevelopment()
	responseConfig.MaskInternalErrors = cfg.IsProduction()
	responseBuilder := response.NewBuilder(responseConfig, logger)

	dashboard := monitoring.NewDashboard(dbManager, badgeProvider, logger, cfg.Server.Version, cfg.Server.Environment)

	handler := router.SetupRouter(router.Dependencies{
		Config:          cfg,
		BadgeService:    badgeService,
		Database:        dbManager,
		Dashboard:       dashboard,
		Metrics:         metrics,
		Cache:           cacheInstance,
		ResponseBuilder: responseBuilder,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown setup
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight reconcile writes finish before the pool goes away
	if err := badgeService.Drain(shutdownCtx); err != nil {
		logger.Warn("Background badge writes did not finish", zap.Error(err))
	}

	final := dbManager.Metrics()
	logger.Info("Final database metrics",
		zap.Int64("total_queries", final.QueryCount),
		zap.Int64("total_errors", final.ErrorCount),
		zap.Int64("slow_queries", final.SlowQueryCount),
	)

	if err := cacheInstance.Close(); err != nil {
		logger.Error("Failed to close cache", zap.Error(err))
	}
	if err := dbManager.Close(); err != nil {
		logger.Error("Failed to close database connections", zap.Error(err))
	}

	logger.Info("Application shutdown completed")
}

// initLogger builds a JSON logger for production-style formats and a
// console logger otherwise.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
