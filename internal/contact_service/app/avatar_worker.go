package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atendezap/atendezap/internal/contact_service/repository"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	"github.com/google/uuid"
)

// GatewayLookup resolves the active gateway for a tenant. Implemented by
// the dispatch service's gateway repository.
type GatewayLookup interface {
	GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*core_domain.GatewayConfig, error)
}

// AvatarWorkerConfig tunes the backfill poller.
type AvatarWorkerConfig struct {
	PollInterval time.Duration
	Backoff      time.Duration
	BatchSize    int
}

// AvatarWorker drains the durable retry queue: avatar fetches and masked
// identity resolutions that could not complete on the request path.
type AvatarWorker struct {
	jobRepo     repository.AvatarJobRepository
	leadRepo    repository.LeadRepository
	gatewayRepo GatewayLookup
	providers   provider.Registry
	registry    *Registry
	logger      *slog.Logger
	cfg         AvatarWorkerConfig
}

func NewAvatarWorker(
	jobRepo repository.AvatarJobRepository,
	leadRepo repository.LeadRepository,
	gatewayRepo GatewayLookup,
	providers provider.Registry,
	registry *Registry,
	logger *slog.Logger,
	cfg AvatarWorkerConfig,
) *AvatarWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Minute
	}
	return &AvatarWorker{
		jobRepo:     jobRepo,
		leadRepo:    leadRepo,
		gatewayRepo: gatewayRepo,
		providers:   providers,
		registry:    registry,
		logger:      logger.With("service", "avatar_worker"),
		cfg:         cfg,
	}
}

// Run polls until the context is cancelled. Blocking; run in a goroutine or
// as the worker binary's main loop.
func (w *AvatarWorker) Run(ctx context.Context) {
	w.logger.Info("Avatar backfill worker starting", "poll_interval", w.cfg.PollInterval, "batch_size", w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Avatar backfill worker stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Backfill batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch claims due jobs and attempts each once. Attempt accounting
// happens at claim time, so a crash mid-batch costs one attempt, never a
// stuck job.
func (w *AvatarWorker) ProcessBatch(ctx context.Context) error {
	jobs, err := w.jobRepo.ClaimDue(ctx, time.Now().UTC(), w.cfg.Backoff, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	w.logger.InfoContext(ctx, "Claimed backfill jobs", "count", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			w.logger.WarnContext(ctx, "Backfill attempt failed",
				"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "error", err)
			if job.Attempts >= job.MaxAttempts {
				if exhaustErr := w.jobRepo.MarkExhausted(ctx, job.ID); exhaustErr != nil {
					w.logger.ErrorContext(ctx, "Failed to mark job exhausted", "job_id", job.ID, "error", exhaustErr)
				}
				backfillJobsProcessedCounter.WithLabelValues(string(job.Kind), "exhausted").Inc()
			}
			continue
		}
		if err := w.jobRepo.MarkDone(ctx, job.ID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mark job done", "job_id", job.ID, "error", err)
			continue
		}
		backfillJobsProcessedCounter.WithLabelValues(string(job.Kind), "done").Inc()
	}
	return nil
}

func (w *AvatarWorker) processJob(ctx context.Context, job *core_domain.AvatarRetryJob) error {
	lead, err := w.leadRepo.GetByID(ctx, job.LeadID)
	if err != nil {
		return err
	}
	gw, err := w.gatewayRepo.GetActiveByTenant(ctx, job.TenantID)
	if err != nil {
		return err
	}
	adapter, ok := w.providers.Get(gw.Provider)
	if !ok {
		return errors.New("no adapter registered for gateway provider")
	}

	switch job.Kind {
	case core_domain.JobKindMaskedIdentity:
		return w.registry.tryUpgradeMaskedLead(ctx, lead, gw)
	default: // avatar
		identifier := lead.FullPhone()
		if identifier == "" {
			identifier = lead.MaskedID
		}
		url, err := adapter.FetchAvatar(ctx, gw, identifier)
		if err != nil {
			return err
		}
		lead.AvatarURL = url
		return w.leadRepo.Update(ctx, lead)
	}
}
