package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaelmp/comexflow/internal/config"
	"github.com/rafaelmp/comexflow/internal/logging"
	"github.com/rafaelmp/comexflow/internal/persistence/postgres"
	"github.com/rafaelmp/comexflow/internal/repository"
	"github.com/rafaelmp/comexflow/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	if cfg.WebhookURL == "" {
		log.Fatal("WEBHOOK_URL is required for the notifier worker")
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	eventRepo := repository.NewEventRepository(pool, logger)

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, webhook payloads will not be signed")
	}

	n := worker.New(worker.Deps{
		Events:        eventRepo,
		Logger:        logger,
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
	})

	logger.Info("notifier started", "webhook_url", cfg.WebhookURL)
	n.Run(ctx, 2*time.Second)
	logger.Info("notifier stopped")
}
