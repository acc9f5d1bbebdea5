package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
	dispatchrepo "github.com/atendezap/atendezap/internal/dispatch_service/repository"
	dispatchpg "github.com/atendezap/atendezap/internal/dispatch_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/webhook_service/app"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const signatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

type WebhookHandler struct {
	classifier    *app.Classifier
	gatewayRepo   dispatchrepo.GatewayRepository
	logger        *slog.Logger
	signatureHard bool
}

func NewWebhookHandler(classifier *app.Classifier, gatewayRepo dispatchrepo.GatewayRepository, logger *slog.Logger, signatureHard bool) *WebhookHandler {
	return &WebhookHandler{
		classifier:    classifier,
		gatewayRepo:   gatewayRepo,
		logger:        logger.With("handler", "webhook"),
		signatureHard: signatureHard,
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{gatewayID}", h.handleWebhook)
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	gatewayID, err := uuid.Parse(chi.URLParam(r, "gatewayID"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "Invalid gateway id"})
		return
	}

	gw, err := h.gatewayRepo.GetByID(ctx, gatewayID)
	if err != nil {
		if errors.Is(err, dispatchpg.ErrGatewayNotFound) {
			h.writeJSON(w, http.StatusNotFound, WebhookResponse{Success: false, Error: "Unknown gateway"})
			return
		}
		logger.ErrorContext(ctx, "Failed to load gateway config", "gateway_id", gatewayID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, WebhookResponse{Success: false, Error: "Internal error"})
		return
	}
	if !gw.Active {
		h.writeJSON(w, http.StatusOK, WebhookResponse{Success: true, Ignored: true, Reason: "gateway_inactive"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "Unreadable body"})
		return
	}

	// Signature verification is soft by default: gateways in the wild sign
	// inconsistently, so a mismatch is logged and counted rather than
	// rejected unless hard-fail is configured.
	if !app.VerifySignature(gw.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		app.SignatureFailed()
		logger.WarnContext(ctx, "Webhook signature verification failed", "gateway_id", gatewayID)
		if h.signatureHard {
			h.writeJSON(w, http.StatusUnauthorized, WebhookResponse{Success: false, Error: "Invalid signature"})
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnContext(ctx, "Malformed webhook payload", "gateway_id", gatewayID, "error", err)
		h.writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "Invalid JSON payload"})
		return
	}

	// Status callbacks may batch several message ids; every event derived
	// from the payload is classified, and the response reports the first
	// outcome that was not ignored.
	var result app.Result
	for i, ev := range payloadToEvents(gw, payload) {
		r, err := h.classifier.Classify(ctx, ev)
		if err != nil {
			logger.ErrorContext(ctx, "Webhook classification failed", "gateway_id", gatewayID, "error", err)
			h.writeJSON(w, http.StatusInternalServerError, WebhookResponse{Success: false, Error: "Failed to process event"})
			return
		}
		if i == 0 || (result.Ignored && !r.Ignored) {
			result = r
		}
	}

	h.writeJSON(w, http.StatusOK, WebhookResponse{
		Success:   result.Success,
		Ignored:   result.Ignored,
		Reason:    result.Reason,
		Event:     result.Event,
		Status:    result.Status,
		MessageID: result.MessageID,
	})
}

// payloadToEvents flattens the vendor payload into the classifier's view.
// A message payload maps to a single event; a status callback maps to one
// event per distinct message id it covers.
func payloadToEvents(gw *core_domain.GatewayConfig, p WebhookPayload) []app.Event {
	ev := app.Event{
		TenantID:    gw.TenantID,
		Gateway:     gw,
		SenderPhone: p.Phone,
		SenderName:  p.SenderName,
		ChatID:      p.ChatID,
		IsGroup:     p.IsGroup,
		IsBroadcast: p.Broadcast,
		FromMe:      p.FromMe,
		MessageID:   p.MessageID,
	}
	if p.Moment > 0 {
		ev.Timestamp = time.UnixMilli(p.Moment)
	}

	// Click-to-chat contacts arrive with a masked lid instead of a phone.
	if p.SenderLid != "" {
		ev.SenderMasked = strings.TrimSuffix(p.SenderLid, "@lid")
	}
	if strings.HasSuffix(p.Phone, "@lid") {
		ev.SenderMasked = strings.TrimSuffix(p.Phone, "@lid")
		ev.SenderPhone = ""
	}

	// Status callbacks never carry a message body; unmapped kinds (SENT and
	// vendor extensions) pass through and get acknowledged as ignored
	// downstream.
	if strings.EqualFold(p.Type, "MessageStatusCallback") || p.Status != "" {
		ev.AckKind = ackKind(p.Status)
		if ev.AckKind == "" {
			ev.AckKind = "unknown"
		}
		ids := make([]string, 0, len(p.IDs)+1)
		if p.MessageID != "" {
			ids = append(ids, p.MessageID)
		}
		for _, id := range p.IDs {
			if id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			// No receipt id at all; the reconciler acknowledges it as ignored.
			return []app.Event{ev}
		}
		seen := make(map[string]struct{}, len(ids))
		events := make([]app.Event, 0, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ackEv := ev
			ackEv.MessageID = id
			events = append(events, ackEv)
		}
		return events
	}

	switch {
	case p.Text != nil:
		ev.Type = core_domain.TypeText
		ev.Content = p.Text.Message
	case p.Image != nil:
		ev.Type = core_domain.TypeImage
		ev.Content = p.Image.Caption
		ev.MediaURL = p.Image.BestURL()
	case p.Audio != nil:
		ev.Type = core_domain.TypeAudio
		ev.MediaURL = p.Audio.BestURL()
	case p.Video != nil:
		ev.Type = core_domain.TypeVideo
		ev.Content = p.Video.Caption
		ev.MediaURL = p.Video.BestURL()
	case p.Document != nil:
		ev.Type = core_domain.TypeDocument
		ev.Content = p.Document.FileName
		ev.MediaURL = p.Document.BestURL()
	default:
		ev.Type = core_domain.TypeText
	}
	return []app.Event{ev}
}

// ackKind maps a vendor status to a receipt kind. Unmapped statuses (SENT,
// vendor extensions) pass through lowercased; the reconciler acknowledges
// unknown kinds as ignored.
func ackKind(status string) string {
	switch strings.ToUpper(status) {
	case "DELIVERED", "RECEIVED":
		return "delivered"
	case "READ":
		return "read"
	case "PLAYED":
		return "played"
	default:
		return strings.ToLower(status)
	}
}

func (h *WebhookHandler) writeJSON(w http.ResponseWriter, status int, body WebhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
