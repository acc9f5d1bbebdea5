package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	contactrepo "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	dispatchrepo "github.com/atendezap/atendezap/internal/dispatch_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/platform/config"
	"github.com/atendezap/atendezap/internal/platform/database"
	"github.com/atendezap/atendezap/internal/platform/logger"
	"github.com/atendezap/atendezap/internal/platform/messagebroker"
)

const serviceName = "avatar_worker"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Avatar backfill worker starting...")

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	providerTimeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: providerTimeout}
	providers := provider.Registry{
		core_domain.ProviderZAPI:      provider.NewZAPIProvider(appLogger, httpClient),
		core_domain.ProviderEvolution: provider.NewEvolutionProvider(appLogger, httpClient),
		core_domain.ProviderCloudAPI:  provider.NewCloudAPIProvider(appLogger, httpClient),
	}

	leadRepo := contactrepo.NewPgLeadRepository(dbPool)
	convRepo := contactrepo.NewPgConversationRepository(dbPool)
	jobRepo := contactrepo.NewPgAvatarJobRepository(dbPool)
	gatewayRepo := dispatchrepo.NewPgGatewayRepository(dbPool)

	registry := contactapp.NewRegistry(
		leadRepo, convRepo, jobRepo, providers, natsClient, appLogger,
		cfg.DefaultCountryCode, cfg.AvatarRetryMaxAttempts,
	)

	worker := contactapp.NewAvatarWorker(
		jobRepo, leadRepo, gatewayRepo, providers, registry, appLogger,
		contactapp.AvatarWorkerConfig{
			PollInterval: time.Duration(cfg.AvatarWorkerPollSeconds) * time.Second,
			Backoff:      time.Duration(cfg.AvatarRetryBackoffSeconds) * time.Second,
			BatchSize:    cfg.AvatarWorkerBatchSize,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker.Run(ctx)
	appLogger.Info("Avatar backfill worker shut down.")
}
