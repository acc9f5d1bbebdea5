package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	"github.com/atendezap/atendezap/internal/core_domain"
	msgapp "github.com/atendezap/atendezap/internal/message_service/app"
	"github.com/google/uuid"
)

// Filter reason codes returned on ignored events.
const (
	ReasonGroupChat = "group_chat"
	ReasonBroadcast = "broadcast"
	ReasonSelfEcho  = "self_echo"
	ReasonDropped   = "dropped"
)

// Event is a provider-agnostic view of one webhook delivery, already parsed
// from the vendor payload by the transport layer.
type Event struct {
	TenantID     uuid.UUID
	Gateway      *core_domain.GatewayConfig
	SenderPhone  string
	SenderMasked string
	SenderName   string
	ChatID       string
	IsGroup      bool
	IsBroadcast  bool
	FromMe       bool
	MessageID    string
	AckKind      string // empty for message payloads
	Content      string
	Type         core_domain.MessageType
	MediaURL     string
	Timestamp    time.Time
}

// HasAck reports whether the event carries only a delivery/read signal.
func (e Event) HasAck() bool { return e.AckKind != "" }

// Result is the terminal webhook response.
type Result struct {
	Success   bool
	Ignored   bool
	Reason    string
	Event     string
	Status    string
	MessageID string
}

// Classifier routes webhook events: filtered out, into the message ledger, or
// into ACK reconciliation. Every outcome is terminal; the webhook never asks
// the gateway to redeliver.
type Classifier struct {
	ledger     *msgapp.Ledger
	reconciler *msgapp.Reconciler
	logger     *slog.Logger
}

func NewClassifier(ledger *msgapp.Ledger, reconciler *msgapp.Reconciler, logger *slog.Logger) *Classifier {
	return &Classifier{
		ledger:     ledger,
		reconciler: reconciler,
		logger:     logger.With("service", "webhook_classifier"),
	}
}

func (c *Classifier) Classify(ctx context.Context, ev Event) (Result, error) {
	if reason, filtered := c.filter(ev); filtered {
		c.logger.InfoContext(ctx, "Webhook event filtered", "reason", reason, "chat_id", ev.ChatID)
		webhookEventsCounter.WithLabelValues("filtered", reason).Inc()
		return Result{Success: true, Ignored: true, Reason: reason}, nil
	}

	if ev.HasAck() {
		return c.handleAck(ctx, ev)
	}
	return c.handleMessage(ctx, ev)
}

// filter drops traffic that is not a one-to-one lead conversation.
func (c *Classifier) filter(ev Event) (string, bool) {
	if ev.IsGroup || strings.HasSuffix(ev.ChatID, "@g.us") {
		return ReasonGroupChat, true
	}
	if ev.IsBroadcast || strings.Contains(ev.SenderPhone, "status@broadcast") || strings.HasSuffix(ev.ChatID, "@broadcast") {
		return ReasonBroadcast, true
	}
	// A message payload authored by the gateway's own paired number is an
	// echo of something this tenant already sent. Self-originated ACKs are
	// NOT echoes; they drive outbound synthesis in the reconciler.
	if !ev.HasAck() && ev.FromMe {
		return ReasonSelfEcho, true
	}
	if !ev.HasAck() && ev.Gateway != nil && ev.Gateway.PhoneNumber != "" &&
		strings.Contains(ev.SenderPhone, ev.Gateway.PhoneNumber) {
		return ReasonSelfEcho, true
	}
	return "", false
}

func (c *Classifier) handleMessage(ctx context.Context, ev Event) (Result, error) {
	msgType := ev.Type
	if msgType == "" {
		msgType = core_domain.TypeText
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg, err := c.ledger.CreateInbound(ctx, msgapp.InboundMessage{
		Contact: contactapp.InboundContact{
			TenantID: ev.TenantID,
			Gateway:  ev.Gateway,
			Phone:    ev.SenderPhone,
			MaskedID: ev.SenderMasked,
			Name:     ev.SenderName,
		},
		Content:    ev.Content,
		Type:       msgType,
		MediaURL:   ev.MediaURL,
		ExternalID: ev.MessageID,
		Timestamp:  ts,
	})
	if err != nil {
		var unresolved *core_domain.UnresolvedIdentityError
		var validation *core_domain.ValidationError
		if errors.As(err, &unresolved) || errors.As(err, &validation) {
			c.logger.InfoContext(ctx, "Inbound sender unresolvable, event dropped", "error", err)
			webhookEventsCounter.WithLabelValues("filtered", ReasonDropped).Inc()
			return Result{Success: true, Ignored: true, Reason: ReasonDropped}, nil
		}
		webhookEventsCounter.WithLabelValues("message", "error").Inc()
		return Result{}, err
	}

	webhookEventsCounter.WithLabelValues("message", "created").Inc()
	return Result{
		Success:   true,
		Event:     "message",
		Status:    string(msg.Status),
		MessageID: msg.ID.String(),
	}, nil
}

func (c *Classifier) handleAck(ctx context.Context, ev Event) (Result, error) {
	outcome, err := c.reconciler.Apply(ctx, msgapp.Receipt{
		TenantID:        ev.TenantID,
		Gateway:         ev.Gateway,
		ID:              ev.MessageID,
		Kind:            ev.AckKind,
		FromMe:          ev.FromMe,
		RecipientPhone:  ev.SenderPhone,
		RecipientMasked: ev.SenderMasked,
		RecipientName:   ev.SenderName,
	})
	if err != nil {
		webhookEventsCounter.WithLabelValues("ack", "error").Inc()
		return Result{}, err
	}
	if outcome.Ignored {
		webhookEventsCounter.WithLabelValues("ack", "ignored").Inc()
		return Result{Success: true, Ignored: true, Reason: outcome.Reason}, nil
	}

	label := "matched"
	if outcome.Synthesized {
		label = "synthesized"
	}
	webhookEventsCounter.WithLabelValues("ack", label).Inc()
	return Result{
		Success:   true,
		Event:     "ack",
		Status:    string(outcome.Status),
		MessageID: outcome.MessageID.String(),
	}, nil
}
