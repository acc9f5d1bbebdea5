package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/message_service/repository"
	msgpostgres "github.com/atendezap/atendezap/internal/message_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/platform/messagebroker"
	"github.com/google/uuid"
)

const subjectMessageStatus = "crm.events.message.status"

// Receipt is a delivery/read acknowledgment in whatever id encoding the
// gateway chose to emit.
type Receipt struct {
	TenantID uuid.UUID
	Gateway  *core_domain.GatewayConfig
	ID       string // short id, canonical id, or legacy serialized id
	Kind     string // "delivered", "read" or "played"
	// FromMe marks a self-originated message: sent from a paired device,
	// bypassing this system entirely.
	FromMe          bool
	RecipientPhone  string
	RecipientMasked string
	RecipientName   string
}

// Status maps the receipt kind to a ledger status. A played voice note
// implies read.
func (r Receipt) Status() (core_domain.MessageStatus, bool) {
	switch r.Kind {
	case "delivered":
		return core_domain.StatusDelivered, true
	case "read", "played":
		return core_domain.StatusRead, true
	default:
		return "", false
	}
}

// ReconcileOutcome reports what an ACK did.
type ReconcileOutcome struct {
	Matched     bool
	Synthesized bool
	Ignored     bool
	Reason      string
	MessageID   uuid.UUID
	Status      core_domain.MessageStatus
}

// Reconciler matches asynchronous receipts to ledger rows across the id
// encodings gateways use, and synthesizes outbound rows for messages sent
// from paired devices.
type Reconciler struct {
	msgRepo    repository.MessageRepository
	registry   *contactapp.Registry
	ledger     *Ledger
	natsClient messagebroker.NATSClient
	logger     *slog.Logger
}

func NewReconciler(
	msgRepo repository.MessageRepository,
	registry *contactapp.Registry,
	ledger *Ledger,
	natsClient messagebroker.NATSClient,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		msgRepo:    msgRepo,
		registry:   registry,
		ledger:     ledger,
		natsClient: natsClient,
		logger:     logger.With("service", "ack_reconciler"),
	}
}

// Apply reconciles one receipt. Unresolvable receipts are acknowledged as
// ignored: never retried, never erred.
func (r *Reconciler) Apply(ctx context.Context, receipt Receipt) (ReconcileOutcome, error) {
	status, ok := receipt.Status()
	if !ok {
		acksProcessedCounter.WithLabelValues("ignored_unknown_kind").Inc()
		return ReconcileOutcome{Ignored: true, Reason: "unknown_ack_kind"}, nil
	}
	if receipt.ID == "" {
		acksProcessedCounter.WithLabelValues("ignored_empty_id").Inc()
		return ReconcileOutcome{Ignored: true, Reason: "empty_receipt_id"}, nil
	}

	msg, stage, err := r.locate(ctx, receipt)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if msg != nil {
		return r.applyStatus(ctx, msg, status, stage)
	}

	if receipt.FromMe {
		return r.synthesize(ctx, receipt, status)
	}

	r.logger.InfoContext(ctx, "Receipt matched no ledger row; ignoring",
		"receipt_id", receipt.ID, "kind", receipt.Kind)
	acksProcessedCounter.WithLabelValues("ignored_unmatched").Inc()
	return ReconcileOutcome{Ignored: true, Reason: "no_matching_message"}, nil
}

// locate tries the encodings in fixed order: short id, exact canonical id,
// then the substring fallback for legacy serialized ids.
func (r *Reconciler) locate(ctx context.Context, receipt Receipt) (*core_domain.Message, string, error) {
	// A receipt id ending in the separator reduces to an empty fragment,
	// which would substring-match every row; such ids only get the exact
	// canonical lookup.
	shortID := ShortIDOf(receipt.ID)

	if shortID != "" {
		msg, err := r.msgRepo.GetByShortID(ctx, receipt.TenantID, shortID)
		if err == nil {
			return msg, "short_id", nil
		}
		if !errors.Is(err, msgpostgres.ErrMessageNotFound) {
			return nil, "", err
		}
	}

	msg, err := r.msgRepo.GetByExternalID(ctx, receipt.TenantID, receipt.ID)
	if err == nil {
		return msg, "external_id", nil
	}
	if !errors.Is(err, msgpostgres.ErrMessageNotFound) {
		return nil, "", err
	}

	if shortID == "" {
		return nil, "", nil
	}
	msg, err = r.msgRepo.FindByExternalIDFragment(ctx, receipt.TenantID, shortID)
	if err == nil {
		return msg, "fragment", nil
	}
	if !errors.Is(err, msgpostgres.ErrMessageNotFound) {
		return nil, "", err
	}
	return nil, "", nil
}

func (r *Reconciler) applyStatus(ctx context.Context, msg *core_domain.Message, status core_domain.MessageStatus, stage string) (ReconcileOutcome, error) {
	// ACKs only move status forward; a repeat or stale receipt is a no-op.
	if status.Rank() <= msg.Status.Rank() {
		acksProcessedCounter.WithLabelValues("noop_" + stage).Inc()
		return ReconcileOutcome{Matched: true, MessageID: msg.ID, Status: msg.Status}, nil
	}

	if err := r.msgRepo.UpdateStatus(ctx, msg.ID, status); err != nil {
		return ReconcileOutcome{}, err
	}
	acksProcessedCounter.WithLabelValues("matched_" + stage).Inc()
	r.publishStatus(ctx, msg, status)
	return ReconcileOutcome{Matched: true, MessageID: msg.ID, Status: status}, nil
}

// synthesize records an outbound message this system never sent: the agent
// used a paired device, and the receipt is the only trace we get.
func (r *Reconciler) synthesize(ctx context.Context, receipt Receipt, status core_domain.MessageStatus) (ReconcileOutcome, error) {
	contact := contactapp.InboundContact{
		TenantID: receipt.TenantID,
		Gateway:  receipt.Gateway,
		Phone:    receipt.RecipientPhone,
		MaskedID: receipt.RecipientMasked,
		Name:     receipt.RecipientName,
	}

	lead, err := r.registry.FindOrCreateLead(ctx, contact)
	if err != nil {
		var unresolved *core_domain.UnresolvedIdentityError
		var invalid *core_domain.ValidationError
		if errors.As(err, &unresolved) || errors.As(err, &invalid) {
			acksProcessedCounter.WithLabelValues("ignored_unresolvable").Inc()
			return ReconcileOutcome{Ignored: true, Reason: "recipient_unresolvable"}, nil
		}
		return ReconcileOutcome{}, err
	}

	conv, err := r.registry.ResolveConversation(ctx, lead)
	if err != nil {
		return ReconcileOutcome{}, err
	}

	msg, err := r.ledger.RecordOutbound(ctx, OutboundRecord{
		Conversation: conv,
		Lead:         lead,
		Type:         core_domain.TypeText,
		ExternalID:   receipt.ID,
		Origin:       core_domain.OriginDevice,
		Status:       status,
	})
	if err != nil {
		return ReconcileOutcome{}, err
	}

	r.logger.InfoContext(ctx, "Synthesized outbound message from self-originated receipt",
		"message_id", msg.ID, "lead_id", lead.ID, "status", status)
	acksProcessedCounter.WithLabelValues("synthesized").Inc()
	r.publishStatus(ctx, msg, status)
	return ReconcileOutcome{Matched: true, Synthesized: true, MessageID: msg.ID, Status: status}, nil
}

type messageStatusEvent struct {
	MessageID      uuid.UUID                 `json:"message_id"`
	TenantID       uuid.UUID                 `json:"tenant_id"`
	ConversationID uuid.UUID                 `json:"conversation_id"`
	Status         core_domain.MessageStatus `json:"status"`
}

func (r *Reconciler) publishStatus(ctx context.Context, msg *core_domain.Message, status core_domain.MessageStatus) {
	if r.natsClient == nil {
		return
	}
	data, err := json.Marshal(messageStatusEvent{
		MessageID:      msg.ID,
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		Status:         status,
	})
	if err != nil {
		return
	}
	if err := r.natsClient.Publish(ctx, subjectMessageStatus, data); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish message.status event", "message_id", msg.ID, "error", err)
	}
}
