package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/atendezap/atendezap/internal/contact_service/repository"
	"github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	"github.com/atendezap/atendezap/internal/platform/messagebroker"
	"github.com/google/uuid"
)

const (
	subjectLeadCreated = "crm.events.lead.created"

	placeholderPrefix = "Contato "
)

// InboundContact is the identity material carried by one inbound event.
type InboundContact struct {
	TenantID uuid.UUID
	Gateway  *core_domain.GatewayConfig
	Phone    string // raw phone as received; empty when masked
	MaskedID string // privacy-masked identifier; empty when phone is real
	Name     string // observed display name from the gateway, may be empty
}

// Registry finds or creates leads and their active conversation for inbound
// traffic, and keeps interaction bookkeeping.
type Registry struct {
	leadRepo       repository.LeadRepository
	convRepo       repository.ConversationRepository
	jobRepo        repository.AvatarJobRepository
	providers      provider.Registry
	natsClient     messagebroker.NATSClient
	logger         *slog.Logger
	defaultCountry string
	maxJobAttempts int
}

func NewRegistry(
	leadRepo repository.LeadRepository,
	convRepo repository.ConversationRepository,
	jobRepo repository.AvatarJobRepository,
	providers provider.Registry,
	natsClient messagebroker.NATSClient,
	logger *slog.Logger,
	defaultCountry string,
	maxJobAttempts int,
) *Registry {
	return &Registry{
		leadRepo:       leadRepo,
		convRepo:       convRepo,
		jobRepo:        jobRepo,
		providers:      providers,
		natsClient:     natsClient,
		logger:         logger.With("service", "contact_registry"),
		defaultCountry: defaultCountry,
		maxJobAttempts: maxJobAttempts,
	}
}

// FindOrCreateLead resolves the inbound contact to exactly one canonical
// lead. Returns *core_domain.ValidationError for malformed phones and
// *core_domain.UnresolvedIdentityError for unmappable masked identifiers
// with no existing lead (callers drop those events as ignored).
func (r *Registry) FindOrCreateLead(ctx context.Context, in InboundContact) (*core_domain.Lead, error) {
	if in.MaskedID != "" {
		return r.resolveMasked(ctx, in)
	}

	phone, err := NormalizePhone(in.Phone, r.defaultCountry)
	if err != nil {
		return nil, err
	}

	lead, err := r.leadRepo.GetByPhone(ctx, in.TenantID, phone.Local)
	if err == nil {
		return lead, r.touchInteraction(ctx, lead, in.Name)
	}
	if !errors.Is(err, postgres.ErrLeadNotFound) {
		return nil, err
	}

	return r.createLead(ctx, in, phone, "")
}

// resolveMasked follows the masked-identity attempt order: stored masked id
// first, then a gateway contact-resolution call, then Unresolved.
func (r *Registry) resolveMasked(ctx context.Context, in InboundContact) (*core_domain.Lead, error) {
	lead, err := r.leadRepo.GetByMaskedID(ctx, in.TenantID, in.MaskedID)
	if err == nil {
		if lead.IsMasked {
			// Opportunistic in-place upgrade; failure keeps the masked lead
			// usable and the background job keeps trying.
			if upgradeErr := r.tryUpgradeMaskedLead(ctx, lead, in.Gateway); upgradeErr != nil {
				r.logger.DebugContext(ctx, "Masked lead not yet resolvable to a real phone",
					"lead_id", lead.ID, "error", upgradeErr)
				r.ensureBackfillJob(ctx, lead, core_domain.JobKindMaskedIdentity)
			}
		}
		return lead, r.touchInteraction(ctx, lead, in.Name)
	}
	if !errors.Is(err, postgres.ErrLeadNotFound) {
		return nil, err
	}

	resolvedPhone, resolveErr := r.gatewayResolve(ctx, in.Gateway, in.MaskedID)
	if resolveErr != nil {
		// No lead and no resolution: the event is dropped, not retried.
		return nil, &core_domain.UnresolvedIdentityError{MaskedID: in.MaskedID}
	}

	phone, err := NormalizePhone(resolvedPhone, r.defaultCountry)
	if err != nil {
		return nil, &core_domain.UnresolvedIdentityError{MaskedID: in.MaskedID}
	}

	// The masked id may resolve to a phone we already track.
	if existing, getErr := r.leadRepo.GetByPhone(ctx, in.TenantID, phone.Local); getErr == nil {
		existing.MaskedID = in.MaskedID
		if err := r.leadRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, r.touchInteraction(ctx, existing, in.Name)
	} else if !errors.Is(getErr, postgres.ErrLeadNotFound) {
		return nil, getErr
	}

	return r.createLead(ctx, in, phone, in.MaskedID)
}

func (r *Registry) createLead(ctx context.Context, in InboundContact, phone NormalizedPhone, maskedID string) (*core_domain.Lead, error) {
	now := time.Now().UTC()
	lead := &core_domain.Lead{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		Name:              PlaceholderName(phone),
		GatewayName:       in.Name,
		Phone:             phone.Local,
		CountryCode:       phone.CountryCode,
		MaskedID:          maskedID,
		LastInteractionAt: now,
	}
	if in.Name != "" {
		lead.Name = in.Name
	}

	if err := r.leadRepo.Create(ctx, lead); err != nil {
		return nil, err
	}

	r.resolveAvatarOrSchedule(ctx, in.Gateway, lead)
	r.publishLeadCreated(ctx, lead)
	return lead, nil
}

// touchInteraction bumps last-interaction and promotes a placeholder name to
// the observed one.
func (r *Registry) touchInteraction(ctx context.Context, lead *core_domain.Lead, observedName string) error {
	lead.LastInteractionAt = time.Now().UTC()
	if observedName != "" {
		lead.GatewayName = observedName
		if isPlaceholderName(lead.Name) {
			lead.Name = observedName
		}
	}
	return r.leadRepo.Update(ctx, lead)
}

func isPlaceholderName(name string) bool {
	return name == "" || strings.HasPrefix(name, placeholderPrefix)
}

// tryUpgradeMaskedLead asks the gateway for the real phone and overwrites
// the masked lead in place. It does not reconcile against an independently
// created lead for the same phone; see DESIGN.md.
func (r *Registry) tryUpgradeMaskedLead(ctx context.Context, lead *core_domain.Lead, gw *core_domain.GatewayConfig) error {
	resolvedPhone, err := r.gatewayResolve(ctx, gw, lead.MaskedID)
	if err != nil {
		return err
	}
	phone, err := NormalizePhone(resolvedPhone, r.defaultCountry)
	if err != nil {
		return err
	}
	lead.Phone = phone.Local
	lead.CountryCode = phone.CountryCode
	lead.IsMasked = false
	if err := r.leadRepo.Update(ctx, lead); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Masked lead upgraded to real phone", "lead_id", lead.ID)
	return nil
}

func (r *Registry) gatewayResolve(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	if gw == nil {
		return "", provider.ErrContactNotResolved
	}
	adapter, ok := r.providers.Get(gw.Provider)
	if !ok {
		return "", provider.ErrContactNotResolved
	}
	return adapter.ResolveContact(ctx, gw, maskedID)
}

// CreateMaskedLead registers a lead that only has a masked identifier yet:
// used when a masked identity resolves later but we must track the contact
// now (self-originated receipt synthesis for an ad-originated chat).
func (r *Registry) CreateMaskedLead(ctx context.Context, in InboundContact) (*core_domain.Lead, error) {
	now := time.Now().UTC()
	name := in.Name
	if name == "" {
		name = placeholderPrefix + in.MaskedID
	}
	lead := &core_domain.Lead{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		Name:              name,
		GatewayName:       in.Name,
		IsMasked:          true,
		MaskedID:          in.MaskedID,
		LastInteractionAt: now,
	}
	if err := r.leadRepo.Create(ctx, lead); err != nil {
		return nil, err
	}
	r.ensureBackfillJob(ctx, lead, core_domain.JobKindMaskedIdentity)
	r.publishLeadCreated(ctx, lead)
	return lead, nil
}

// ResolveConversation reuses the lead's open/pending conversation (reopening
// a pending one) or creates a new open conversation.
func (r *Registry) ResolveConversation(ctx context.Context, lead *core_domain.Lead) (*core_domain.Conversation, error) {
	conv, err := r.convRepo.GetActiveByLead(ctx, lead.ID)
	if err == nil {
		if conv.Status == core_domain.ConversationPending {
			if err := r.convRepo.UpdateStatus(ctx, conv.ID, core_domain.ConversationOpen); err != nil {
				return nil, err
			}
			conv.Status = core_domain.ConversationOpen
		}
		return conv, nil
	}
	if !errors.Is(err, postgres.ErrConversationNotFound) {
		return nil, err
	}

	conv = &core_domain.Conversation{
		ID:       uuid.New(),
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Status:   core_domain.ConversationOpen,
	}
	if err := r.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// RegisterInbound counts a lead message as unread and bumps recency.
func (r *Registry) RegisterInbound(ctx context.Context, conv *core_domain.Conversation, at time.Time) error {
	if err := r.convRepo.TouchInbound(ctx, conv.ID, at); err != nil {
		return err
	}
	conv.UnreadCount++
	conv.LastMessageAt = at
	return nil
}

// RegisterOutbound bumps recency and applies first-responder-wins
// assignment: the first agent to reply on an unassigned conversation becomes
// its (and the lead's) assignee.
func (r *Registry) RegisterOutbound(ctx context.Context, conv *core_domain.Conversation, lead *core_domain.Lead, agentID uuid.NullUUID, at time.Time) error {
	if err := r.convRepo.TouchOutbound(ctx, conv.ID, at); err != nil {
		return err
	}
	conv.LastMessageAt = at

	if agentID.Valid && !conv.AssignedAgentID.Valid {
		if err := r.convRepo.Assign(ctx, conv.ID, agentID.UUID); err != nil {
			return err
		}
		conv.AssignedAgentID = agentID
		lead.AssignedAgentID = agentID
		if err := r.leadRepo.Update(ctx, lead); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLead persists caller-side lead mutations (e.g. a freshly cached
// chat id after a successful send).
func (r *Registry) UpdateLead(ctx context.Context, lead *core_domain.Lead) error {
	return r.leadRepo.Update(ctx, lead)
}

// GetLead loads a lead by id.
func (r *Registry) GetLead(ctx context.Context, id uuid.UUID) (*core_domain.Lead, error) {
	return r.leadRepo.GetByID(ctx, id)
}

// GetConversation loads a conversation by id.
func (r *Registry) GetConversation(ctx context.Context, id uuid.UUID) (*core_domain.Conversation, error) {
	return r.convRepo.GetByID(ctx, id)
}

// resolveAvatarOrSchedule fetches the avatar inline once; a retryable
// failure becomes a durable bounded-attempt job for the worker.
func (r *Registry) resolveAvatarOrSchedule(ctx context.Context, gw *core_domain.GatewayConfig, lead *core_domain.Lead) {
	if gw == nil {
		return
	}
	adapter, ok := r.providers.Get(gw.Provider)
	if !ok {
		return
	}

	identifier := lead.FullPhone()
	if identifier == "" {
		identifier = lead.MaskedID
	}

	url, err := adapter.FetchAvatar(ctx, gw, identifier)
	if err == nil && url != "" {
		lead.AvatarURL = url
		if updateErr := r.leadRepo.Update(ctx, lead); updateErr != nil {
			r.logger.WarnContext(ctx, "Failed to persist avatar URL", "lead_id", lead.ID, "error", updateErr)
		}
		return
	}

	if errors.Is(err, provider.ErrAvatarUnavailable) {
		r.ensureBackfillJob(ctx, lead, core_domain.JobKindAvatar)
		return
	}
	r.logger.WarnContext(ctx, "Avatar fetch failed", "lead_id", lead.ID, "error", err)
}

func (r *Registry) ensureBackfillJob(ctx context.Context, lead *core_domain.Lead, kind core_domain.BackfillJobKind) {
	pending, err := r.jobRepo.HasPending(ctx, lead.ID, kind)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to check pending backfill jobs", "lead_id", lead.ID, "error", err)
		return
	}
	if pending {
		return
	}
	job := &core_domain.AvatarRetryJob{
		TenantID:    lead.TenantID,
		LeadID:      lead.ID,
		Kind:        kind,
		MaxAttempts: r.maxJobAttempts,
	}
	if err := r.jobRepo.Enqueue(ctx, job); err != nil {
		r.logger.WarnContext(ctx, "Failed to enqueue backfill job", "lead_id", lead.ID, "kind", kind, "error", err)
	}
}

type leadCreatedEvent struct {
	LeadID   uuid.UUID `json:"lead_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone,omitempty"`
	IsMasked bool      `json:"is_masked"`
}

func (r *Registry) publishLeadCreated(ctx context.Context, lead *core_domain.Lead) {
	if r.natsClient == nil {
		return
	}
	data, err := json.Marshal(leadCreatedEvent{
		LeadID:   lead.ID,
		TenantID: lead.TenantID,
		Name:     lead.Name,
		Phone:    lead.FullPhone(),
		IsMasked: lead.IsMasked,
	})
	if err != nil {
		return
	}
	if err := r.natsClient.Publish(ctx, subjectLeadCreated, data); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish lead.created event", "lead_id", lead.ID, "error", err)
	}
}
