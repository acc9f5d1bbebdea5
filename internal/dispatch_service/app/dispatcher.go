package app

import (
	"context"
	"log/slog"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	"github.com/atendezap/atendezap/internal/dispatch_service/repository"
	msgapp "github.com/atendezap/atendezap/internal/message_service/app"
	"github.com/google/uuid"
)

// SendCommand is one agent-initiated send.
type SendCommand struct {
	ConversationID    uuid.UUID
	AgentID           uuid.NullUUID
	Content           string // may carry {{var}} placeholders
	Type              core_domain.MessageType
	MediaRef          string // internal storage reference
	MediaURL          string // already-fetchable URL; used as-is
	ReplyToExternalID string
	Variables         map[string]string
}

// SendResult is the dispatch outcome surfaced to the API.
type SendResult struct {
	Message           *core_domain.Message
	Provider          core_domain.Provider
	ProviderMessageID string
	ResolvedChatID    string
}

// Dispatcher is the provider-agnostic send surface. Provider failures are
// surfaced synchronously to the caller; no auto-retry happens here.
type Dispatcher struct {
	gatewayRepo     repository.GatewayRepository
	providers       provider.Registry
	registry        *contactapp.Registry
	ledger          *msgapp.Ledger
	media           *MediaResolver
	logger          *slog.Logger
	providerTimeout time.Duration
}

func NewDispatcher(
	gatewayRepo repository.GatewayRepository,
	providers provider.Registry,
	registry *contactapp.Registry,
	ledger *msgapp.Ledger,
	media *MediaResolver,
	logger *slog.Logger,
	providerTimeout time.Duration,
) *Dispatcher {
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &Dispatcher{
		gatewayRepo:     gatewayRepo,
		providers:       providers,
		registry:        registry,
		ledger:          ledger,
		media:           media,
		logger:          logger.With("service", "dispatcher"),
		providerTimeout: providerTimeout,
	}
}

// Send renders, resolves media, transmits through the tenant's gateway and
// records the ledger row. The rendered content, never the raw template, is
// what gets transmitted and persisted.
func (d *Dispatcher) Send(ctx context.Context, cmd SendCommand) (*SendResult, error) {
	conv, err := d.registry.GetConversation(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	lead, err := d.registry.GetLead(ctx, conv.LeadID)
	if err != nil {
		return nil, err
	}
	gw, err := d.gatewayRepo.GetActiveByTenant(ctx, conv.TenantID)
	if err != nil {
		return nil, err
	}
	adapter, ok := d.providers.Get(gw.Provider)
	if !ok {
		return nil, &core_domain.ProviderError{
			Provider: gw.Provider, Cause: core_domain.CauseSessionNotFound,
			Message: "no adapter registered for provider",
		}
	}

	content := RenderTemplate(cmd.Content, VarsForLead(lead, cmd.Variables))

	// Media resolution failures abort before any network call.
	mediaURL := cmd.MediaURL
	if cmd.MediaRef != "" {
		mediaURL, err = d.media.Resolve(cmd.MediaRef)
		if err != nil {
			return nil, err
		}
	}

	phone := lead.FullPhone()
	if phone == "" && lead.ChatID == "" {
		return nil, &core_domain.ProviderError{
			Provider: gw.Provider, Cause: core_domain.CauseIdentityResolution,
			Message: "lead has neither a resolved phone nor a cached chat id",
		}
	}

	// The cached chat id skips the contact-existence check after the first
	// successful send.
	chatID := lead.ChatID
	chatIDWasCached := chatID != ""
	if !chatIDWasCached && phone != "" {
		checkCtx, cancel := context.WithTimeout(ctx, d.providerTimeout)
		resolved, checkErr := adapter.CheckContact(checkCtx, gw, phone)
		cancel()
		if checkErr != nil {
			dispatchSendsCounter.WithLabelValues(string(gw.Provider), "contact_check_failed").Inc()
			return nil, checkErr
		}
		chatID = resolved
	}

	details := provider.SendRequestDetails{
		Phone:     phone,
		ChatID:    chatID,
		Content:   content,
		Type:      cmd.Type,
		MediaURL:  mediaURL,
		ReplyToID: cmd.ReplyToExternalID,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.providerTimeout)
	defer cancel()

	start := time.Now()
	resp, sendErr := adapter.Send(sendCtx, gw, details)
	dispatchSendDurationHist.WithLabelValues(string(gw.Provider)).Observe(time.Since(start).Seconds())

	if sendErr != nil {
		d.logger.WarnContext(ctx, "Provider send failed",
			"provider", gw.Provider, "conversation_id", conv.ID, "error", sendErr)
		dispatchSendsCounter.WithLabelValues(string(gw.Provider), "failed").Inc()
		return nil, sendErr
	}
	dispatchSendsCounter.WithLabelValues(string(gw.Provider), "success").Inc()

	if resp.ChatID != "" {
		chatID = resp.ChatID
	}
	if !chatIDWasCached && chatID != "" {
		lead.ChatID = chatID
		if err := d.registry.UpdateLead(ctx, lead); err != nil {
			d.logger.WarnContext(ctx, "Failed to cache chat id on lead", "lead_id", lead.ID, "error", err)
		}
	}

	// Provider accepted the message; a ledger failure past this point is
	// logged, not surfaced, since the user-visible send succeeded.
	msg, ledgerErr := d.ledger.RecordOutbound(ctx, msgapp.OutboundRecord{
		Conversation: conv,
		Lead:         lead,
		Content:      content,
		Type:         cmd.Type,
		MediaRef:     cmd.MediaRef,
		MediaURL:     mediaURL,
		ExternalID:   resp.ProviderMessageID,
		Origin:       core_domain.OriginAPI,
		AgentID:      cmd.AgentID,
		Status:       core_domain.StatusSent,
	})
	if ledgerErr != nil {
		d.logger.ErrorContext(ctx, "Send succeeded but ledger write failed",
			"provider", gw.Provider, "provider_message_id", resp.ProviderMessageID, "error", ledgerErr)
	}

	return &SendResult{
		Message:           msg,
		Provider:          gw.Provider,
		ProviderMessageID: resp.ProviderMessageID,
		ResolvedChatID:    chatID,
	}, nil
}
