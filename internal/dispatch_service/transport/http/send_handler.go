package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	contactpg "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/app"
	dispatchpg "github.com/atendezap/atendezap/internal/dispatch_service/repository/postgres"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MessageDispatcher is the slice of the dispatch app this handler needs.
type MessageDispatcher interface {
	Send(ctx context.Context, cmd app.SendCommand) (*app.SendResult, error)
}

type SendHandler struct {
	dispatcher MessageDispatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewSendHandler(dispatcher MessageDispatcher, validate *validator.Validate, logger *slog.Logger) *SendHandler {
	return &SendHandler{
		dispatcher: dispatcher,
		validate:   validate,
		logger:     logger.With("handler", "send"),
	}
}

func (h *SendHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/send", h.handleSend)
}

func (h *SendHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode send request", "error", err)
		h.jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		logger.WarnContext(ctx, "Send request failed validation", "error", err)
		h.jsonError(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		h.jsonError(w, "Invalid conversation_id", http.StatusBadRequest)
		return
	}

	msgType := core_domain.MessageType(req.Type)
	if req.Type == "" {
		msgType = core_domain.TypeText
	}

	cmd := app.SendCommand{
		ConversationID:    convID,
		Content:           req.Content,
		Type:              msgType,
		MediaRef:          req.MediaRef,
		MediaURL:          req.MediaURL,
		ReplyToExternalID: req.ReplyToExternalID,
		Variables:         req.Variables,
	}
	if req.AgentID != "" {
		agentID, parseErr := uuid.Parse(req.AgentID)
		if parseErr != nil {
			h.jsonError(w, "Invalid agent_id", http.StatusBadRequest)
			return
		}
		cmd.AgentID = uuid.NullUUID{UUID: agentID, Valid: true}
	}

	result, err := h.dispatcher.Send(ctx, cmd)
	if err != nil {
		h.writeDispatchFailure(ctx, w, logger, err)
		return
	}

	logger.InfoContext(ctx, "Message dispatched",
		"conversation_id", convID, "provider", result.Provider, "provider_message_id", result.ProviderMessageID)

	resp := SendMessageResponse{
		Success:   true,
		MessageID: result.ProviderMessageID,
		Message:   "Message sent successfully",
		Provider:  string(result.Provider),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeDispatchFailure keeps provider-side troubles at 200/success=false so
// the frontend can surface the reason inline; 4xx stays reserved for
// malformed requests and unknown conversations, 5xx for our own faults.
func (h *SendHandler) writeDispatchFailure(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if provErr, ok := core_domain.AsProviderError(err); ok {
		logger.WarnContext(ctx, "Provider rejected send",
			"provider", provErr.Provider, "cause", provErr.Cause, "error", provErr.Message)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendMessageResponse{
			Success:  false,
			Error:    provErr.Message,
			Provider: string(provErr.Provider),
		})
		return
	}

	var storeErr *core_domain.StorageResolutionError
	if errors.As(err, &storeErr) {
		logger.ErrorContext(ctx, "Media resolution failed", "media_ref", storeErr.Ref, "error", err)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendMessageResponse{Success: false, Error: "Could not resolve media attachment"})
		return
	}

	if errors.Is(err, contactpg.ErrConversationNotFound) || errors.Is(err, contactpg.ErrLeadNotFound) {
		h.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, dispatchpg.ErrGatewayNotFound) {
		h.jsonError(w, "No active gateway configured for this tenant", http.StatusConflict)
		return
	}

	logger.ErrorContext(ctx, "Dispatch failed", "error", err)
	h.jsonError(w, "Failed to dispatch message", http.StatusInternalServerError)
}

func (h *SendHandler) jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericErrorResponse{Error: message})
}
