// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaelmp/comexflow/internal/approval"
	"github.com/rafaelmp/comexflow/internal/catalog"
	"github.com/rafaelmp/comexflow/internal/config"
	"github.com/rafaelmp/comexflow/internal/logging"
	"github.com/rafaelmp/comexflow/internal/persistence/postgres"
	"github.com/rafaelmp/comexflow/internal/repository"
	httptransport "github.com/rafaelmp/comexflow/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	definitionRepo := repository.NewDefinitionRepository(pool, logger)
	processRepo := repository.NewProcessRepository(pool, logger)
	userRepo := repository.NewUserRepository(pool, logger)
	eventRepo := repository.NewEventRepository(pool, logger)

	cat := catalog.New(logger)
	if err := catalog.RegisterBuiltin(cat); err != nil {
		log.Fatalf("builtin workflow registration failed: %v", err)
	}

	// Re-register definitions persisted by previous runs. Builtin ids already
	// in the catalog are skipped by the conflict check.
	persisted, err := definitionRepo.ListDefinitions(ctx)
	if err != nil {
		log.Fatalf("load workflow definitions failed: %v", err)
	}
	for _, def := range persisted {
		if _, ok := cat.GetByID(def.ID); ok {
			continue
		}
		if err := cat.Register(def); err != nil {
			logger.Warn("skipping persisted workflow definition",
				"workflow_id", def.ID,
				"error", err,
			)
		}
	}

	service := approval.NewService(cat, processRepo, userRepo, logger)
	admin := approval.NewAdmin(cat, definitionRepo, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		Service:           service,
		Definitions:       admin,
		EventRepo:         eventRepo,
		Health:            postgres.NewSchemaHealthChecker(pool),
		Logger:            logger,
		AdminToken:        cfg.AdminToken,
		AuthSecret:        cfg.AuthSecret,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
