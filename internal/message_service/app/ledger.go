package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/message_service/repository"
	msgpostgres "github.com/atendezap/atendezap/internal/message_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/platform/messagebroker"
	"github.com/google/uuid"
)

const subjectMessageReceived = "crm.events.message.received"

// ShortIDOf extracts the trailing segment of a composite external id.
// Gateways serialize ids like "true_5545...@c.us_3EB0C8D7"; ACKs often carry
// only the final segment.
func ShortIDOf(externalID string) string {
	if idx := strings.LastIndex(externalID, "_"); idx >= 0 {
		return externalID[idx+1:]
	}
	return externalID
}

// InboundMessage is a normalized message-bearing webhook event.
type InboundMessage struct {
	Contact    contactapp.InboundContact
	Content    string
	Type       core_domain.MessageType
	MediaURL   string
	ExternalID string
	Timestamp  time.Time
}

// OutboundRecord captures a successful provider send for persistence.
type OutboundRecord struct {
	Conversation *core_domain.Conversation
	Lead         *core_domain.Lead
	Content      string // rendered, never the raw template
	Type         core_domain.MessageType
	MediaRef     string
	MediaURL     string
	ExternalID   string
	Origin       core_domain.MessageOrigin
	AgentID      uuid.NullUUID
	Status       core_domain.MessageStatus
}

// Ledger owns message persistence with the canonical idempotency key.
type Ledger struct {
	msgRepo    repository.MessageRepository
	registry   *contactapp.Registry
	natsClient messagebroker.NATSClient
	logger     *slog.Logger
}

func NewLedger(
	msgRepo repository.MessageRepository,
	registry *contactapp.Registry,
	natsClient messagebroker.NATSClient,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		msgRepo:    msgRepo,
		registry:   registry,
		natsClient: natsClient,
		logger:     logger.With("service", "message_ledger"),
	}
}

// CreateInbound resolves the lead and conversation and inserts the message.
// A redelivered event whose canonical id already has a row answers with the
// original row; the webhook response stays terminal either way.
func (l *Ledger) CreateInbound(ctx context.Context, in InboundMessage) (*core_domain.Message, error) {
	lead, err := l.registry.FindOrCreateLead(ctx, in.Contact)
	if err != nil {
		return nil, err
	}
	conv, err := l.registry.ResolveConversation(ctx, lead)
	if err != nil {
		return nil, err
	}

	at := in.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	msg := &core_domain.Message{
		TenantID:       in.Contact.TenantID,
		ConversationID: conv.ID,
		LeadID:         lead.ID,
		Sender:         core_domain.SenderLead,
		Direction:      core_domain.DirectionInbound,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		Type:           in.Type,
		Status:         core_domain.StatusDelivered,
		ExternalID:     in.ExternalID,
		ShortID:        ShortIDOf(in.ExternalID),
		Origin:         core_domain.OriginSystem,
		CreatedAt:      at,
	}
	if err := l.msgRepo.Create(ctx, msg); err != nil {
		if errors.Is(err, msgpostgres.ErrDuplicateMessage) && in.ExternalID != "" {
			existing, getErr := l.msgRepo.GetByExternalID(ctx, in.Contact.TenantID, in.ExternalID)
			if getErr == nil {
				l.logger.InfoContext(ctx, "Inbound event redelivered; answering with existing row",
					"external_id", in.ExternalID, "message_id", existing.ID)
				return existing, nil
			}
		}
		return nil, err
	}

	if err := l.registry.RegisterInbound(ctx, conv, at); err != nil {
		l.logger.ErrorContext(ctx, "Failed to register inbound bookkeeping",
			"conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}

	l.publishReceived(ctx, msg)
	return msg, nil
}

// RecordOutbound persists the ledger row for a message the provider already
// accepted. The canonical id is stored immediately so later ACKs match.
// Callers treat a failure here as a PersistenceError: logged, not surfaced,
// because the user-visible send already succeeded.
func (l *Ledger) RecordOutbound(ctx context.Context, rec OutboundRecord) (*core_domain.Message, error) {
	at := time.Now().UTC()
	status := rec.Status
	if status == "" {
		status = core_domain.StatusSent
	}
	origin := rec.Origin
	if origin == "" {
		origin = core_domain.OriginAPI
	}

	msg := &core_domain.Message{
		TenantID:       rec.Conversation.TenantID,
		ConversationID: rec.Conversation.ID,
		LeadID:         rec.Lead.ID,
		Sender:         core_domain.SenderAgent,
		Direction:      core_domain.DirectionOutbound,
		Content:        rec.Content,
		MediaRef:       rec.MediaRef,
		MediaURL:       rec.MediaURL,
		Type:           rec.Type,
		Status:         status,
		ExternalID:     rec.ExternalID,
		ShortID:        ShortIDOf(rec.ExternalID),
		Origin:         origin,
		CreatedAt:      at,
	}
	if err := l.msgRepo.Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := l.registry.RegisterOutbound(ctx, rec.Conversation, rec.Lead, rec.AgentID, at); err != nil {
		l.logger.ErrorContext(ctx, "Failed to register outbound bookkeeping",
			"conversation_id", rec.Conversation.ID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

type messageReceivedEvent struct {
	MessageID      uuid.UUID               `json:"message_id"`
	TenantID       uuid.UUID               `json:"tenant_id"`
	ConversationID uuid.UUID               `json:"conversation_id"`
	LeadID         uuid.UUID               `json:"lead_id"`
	Type           core_domain.MessageType `json:"type"`
	Content        string                  `json:"content"`
	ExternalID     string                  `json:"external_id,omitempty"`
	ReceivedAt     time.Time               `json:"received_at"`
}

func (l *Ledger) publishReceived(ctx context.Context, msg *core_domain.Message) {
	if l.natsClient == nil {
		return
	}
	data, err := json.Marshal(messageReceivedEvent{
		MessageID:      msg.ID,
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		LeadID:         msg.LeadID,
		Type:           msg.Type,
		Content:        msg.Content,
		ExternalID:     msg.ExternalID,
		ReceivedAt:     msg.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := l.natsClient.Publish(ctx, subjectMessageReceived, data); err != nil {
		l.logger.WarnContext(ctx, "Failed to publish message.received event", "message_id", msg.ID, "error", err)
	}
}
