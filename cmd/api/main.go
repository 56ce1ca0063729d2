package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/api"
	"github.com/thfmn/ttm-rag/internal/app"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/pkg/config"
	appLogger "github.com/thfmn/ttm-rag/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting TTM RAG API server")

	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rag, err := app.Build(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer rag.Close()

	router, limiter := api.NewRouter(rag.Pipeline, api.Options{
		Server:       cfg.Server,
		RateLimit:    cfg.RateLimit,
		QueryTimeout: time.Duration(cfg.Generation.TimeoutSec+cfg.Embedding.TimeoutSec) * time.Second,
		Development:  os.Getenv("APP_ENV") == "development",
		AccessLog:    true,
		Logger:       appLogger.GetLogger(),
	})
	if limiter != nil {
		defer limiter.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := router.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := router.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
