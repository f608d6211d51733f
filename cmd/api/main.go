package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/api"
	"github.com/leozw/uptime-sync/internal/api/handlers"
	"github.com/leozw/uptime-sync/internal/app"
	"github.com/leozw/uptime-sync/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, err := app.NewLogger(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	services, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services.RunBackground(ctx)
	if cfg.Scheduler.AutoStart {
		services.Scheduler.Start(ctx, nil)
	}

	h := handlers.NewHandler(handlers.Deps{
		Repo:      services.Repo,
		Scheduler: services.Scheduler,
		Stats:     services.Stats,
		Collector: services.Collector,
		Cache:     services.Cache,
		CacheTTL:  cfg.Cache.TTL,
		Fetcher:   services.Remote,
		Events:    services.Engine,
		Logger:    logger.Named("api"),
	})

	// API Server
	server := api.NewServer(cfg, h, services.Registry, logger.Named("http"))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	services.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
