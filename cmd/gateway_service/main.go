package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	contactrepo "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	dispatchapp "github.com/atendezap/atendezap/internal/dispatch_service/app"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	dispatchrepo "github.com/atendezap/atendezap/internal/dispatch_service/repository/postgres"
	dispatchhttp "github.com/atendezap/atendezap/internal/dispatch_service/transport/http"
	msgapp "github.com/atendezap/atendezap/internal/message_service/app"
	msgrepo "github.com/atendezap/atendezap/internal/message_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/platform/config"
	"github.com/atendezap/atendezap/internal/platform/database"
	"github.com/atendezap/atendezap/internal/platform/logger"
	"github.com/atendezap/atendezap/internal/platform/messagebroker"
	"github.com/atendezap/atendezap/internal/platform/objectstore"
	webhookapp "github.com/atendezap/atendezap/internal/webhook_service/app"
	webhookhttp "github.com/atendezap/atendezap/internal/webhook_service/transport/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "gateway_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Gateway service starting...", "port", cfg.ServerPort)

	if err := database.RunMigrations(cfg.PostgresDSN); err != nil {
		appLogger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Database schema is current")

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
	appLogger.Info("Connected to NATS", "url", cfg.NATSUrl)

	providerTimeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: providerTimeout}
	providers := provider.Registry{
		core_domain.ProviderZAPI:      provider.NewZAPIProvider(appLogger, httpClient),
		core_domain.ProviderEvolution: provider.NewEvolutionProvider(appLogger, httpClient),
		core_domain.ProviderCloudAPI:  provider.NewCloudAPIProvider(appLogger, httpClient),
	}
	if cfg.UseMockProvider {
		// Local runs: gateways configured with provider "mock" answer without
		// reaching a real vendor.
		mock := provider.NewMockProvider(appLogger, false, core_domain.CauseGeneric, 0)
		providers[mock.GetName()] = mock
	}

	leadRepo := contactrepo.NewPgLeadRepository(dbPool)
	convRepo := contactrepo.NewPgConversationRepository(dbPool)
	jobRepo := contactrepo.NewPgAvatarJobRepository(dbPool)
	msgRepo := msgrepo.NewPgMessageRepository(dbPool)
	gatewayRepo := dispatchrepo.NewPgGatewayRepository(dbPool)

	registry := contactapp.NewRegistry(
		leadRepo, convRepo, jobRepo, providers, natsClient, appLogger,
		cfg.DefaultCountryCode, cfg.AvatarRetryMaxAttempts,
	)
	ledger := msgapp.NewLedger(msgRepo, registry, natsClient, appLogger)
	reconciler := msgapp.NewReconciler(msgRepo, registry, ledger, natsClient, appLogger)
	classifier := webhookapp.NewClassifier(ledger, reconciler, appLogger)

	var presigner dispatchapp.Presigner
	if cfg.S3AccessKey != "" {
		store, storeErr := objectstore.NewS3Store(objectstore.Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if storeErr != nil {
			appLogger.Error("Failed to initialize object store", "error", storeErr)
			os.Exit(1)
		}
		presigner = store
	} else {
		appLogger.Warn("No object store credentials configured; media_ref sends will fail")
	}
	mediaResolver := dispatchapp.NewMediaResolver(presigner, time.Duration(cfg.MediaURLTTLMins)*time.Minute)

	dispatcher := dispatchapp.NewDispatcher(
		gatewayRepo, providers, registry, ledger, mediaResolver, appLogger, providerTimeout,
	)

	validate := validator.New()
	webhookHandler := webhookhttp.NewWebhookHandler(classifier, gatewayRepo, appLogger, cfg.WebhookSignatureHardFail)
	sendHandler := dispatchhttp.NewSendHandler(dispatcher, validate, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(webhookhttp.PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbPool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": "database unreachable"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	webhookHandler.RegisterRoutes(r)
	r.Route("/api/v1", func(v1 chi.Router) {
		sendHandler.RegisterRoutes(v1)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}
	go func() {
		appLogger.Info(fmt.Sprintf("Gateway server listening on port %d", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	} else {
		appLogger.Info("HTTP server shut down gracefully.")
	}
	appLogger.Info("Gateway service shut down.")
}
