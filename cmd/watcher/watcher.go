package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tagwatch/tagwatch/internal/shared/config"
	"github.com/tagwatch/tagwatch/internal/shared/logging"
	"github.com/tagwatch/tagwatch/internal/watcher"
)

func main() {
	// Load .env for local development, ignore if absent
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadWatcherConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	logger := logging.NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.Environment)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	// Create the watcher service
	svc, err := watcher.NewService(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create watcher service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Start the service
	logger.Info("Starting watcher service",
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
		"event_subject", cfg.EventSubject,
		"targets_file", cfg.TargetsFile,
	)

	if err := svc.Start(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("Watcher service stopped gracefully")
		} else {
			logger.Error("Watcher service failed", "error", err)
			os.Exit(1)
		}
	}
}
