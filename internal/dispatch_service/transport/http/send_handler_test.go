package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contactpg "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/app"
	dispatchpg "github.com/atendezap/atendezap/internal/dispatch_service/repository/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessageDispatcher struct {
	mock.Mock
}

func (m *MockMessageDispatcher) Send(ctx context.Context, cmd app.SendCommand) (*app.SendResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*app.SendResult), args.Error(1)
}

type sendHandlerTestComponents struct {
	router         *chi.Mux
	mockDispatcher *MockMessageDispatcher
}

func setupSendHandlerTest(t *testing.T) sendHandlerTestComponents {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockDispatcher := new(MockMessageDispatcher)
	handler := NewSendHandler(mockDispatcher, validator.New(), logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return sendHandlerTestComponents{router: router, mockDispatcher: mockDispatcher}
}

func postSend(router *chi.Mux, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeSendResponse(t *testing.T, rr *httptest.ResponseRecorder) SendMessageResponse {
	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleSend_Success(t *testing.T) {
	comps := setupSendHandlerTest(t)
	convID := uuid.New()

	comps.mockDispatcher.On("Send", mock.Anything, mock.MatchedBy(func(cmd app.SendCommand) bool {
		return cmd.ConversationID == convID && cmd.Content == "Olá Maria" && cmd.Type == core_domain.TypeText
	})).Return(&app.SendResult{
		Provider:          core_domain.ProviderZAPI,
		ProviderMessageID: "3EB0C8D7",
	}, nil).Once()

	rr := postSend(comps.router, `{"conversation_id":"`+convID.String()+`","content":"Olá Maria"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSendResponse(t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "3EB0C8D7", resp.MessageID)
	assert.Equal(t, string(core_domain.ProviderZAPI), resp.Provider)
	comps.mockDispatcher.AssertExpectations(t)
}

func TestHandleSend_ValidationFailure(t *testing.T) {
	comps := setupSendHandlerTest(t)

	// content is required when no media_ref is given
	rr := postSend(comps.router, `{"conversation_id":"`+uuid.NewString()+`"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	comps.mockDispatcher.AssertNotCalled(t, "Send")
}

func TestHandleSend_MalformedJSON(t *testing.T) {
	comps := setupSendHandlerTest(t)

	rr := postSend(comps.router, `{broken`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	comps.mockDispatcher.AssertNotCalled(t, "Send")
}

// Provider-side failures answer 200 with success=false so the caller can
// surface the reason without treating the request as retryable.
func TestHandleSend_ProviderFailureAnswersSuccessFalse(t *testing.T) {
	comps := setupSendHandlerTest(t)

	comps.mockDispatcher.On("Send", mock.Anything, mock.AnythingOfType("app.SendCommand")).
		Return(nil, &core_domain.ProviderError{
			Provider: core_domain.ProviderZAPI,
			Cause:    core_domain.CauseUnsupportedMediaPlan,
			Message:  "audio not allowed on current plan",
		}).Once()

	rr := postSend(comps.router, `{"conversation_id":"`+uuid.NewString()+`","content":"oi"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSendResponse(t, rr)
	assert.False(t, resp.Success)
	assert.Equal(t, "audio not allowed on current plan", resp.Error)
	assert.Equal(t, string(core_domain.ProviderZAPI), resp.Provider)
}

func TestHandleSend_MediaResolutionFailureAnswersSuccessFalse(t *testing.T) {
	comps := setupSendHandlerTest(t)

	comps.mockDispatcher.On("Send", mock.Anything, mock.AnythingOfType("app.SendCommand")).
		Return(nil, &core_domain.StorageResolutionError{Ref: "uploads/foo.pdf"}).Once()

	rr := postSend(comps.router, `{"conversation_id":"`+uuid.NewString()+`","content":"oi","media_ref":"uploads/foo.pdf"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSendResponse(t, rr)
	assert.False(t, resp.Success)
	assert.Equal(t, "Could not resolve media attachment", resp.Error)
}

func TestHandleSend_UnknownConversation(t *testing.T) {
	comps := setupSendHandlerTest(t)

	comps.mockDispatcher.On("Send", mock.Anything, mock.AnythingOfType("app.SendCommand")).
		Return(nil, contactpg.ErrConversationNotFound).Once()

	rr := postSend(comps.router, `{"conversation_id":"`+uuid.NewString()+`","content":"oi"}`)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleSend_NoActiveGateway(t *testing.T) {
	comps := setupSendHandlerTest(t)

	comps.mockDispatcher.On("Send", mock.Anything, mock.AnythingOfType("app.SendCommand")).
		Return(nil, dispatchpg.ErrGatewayNotFound).Once()

	rr := postSend(comps.router, `{"conversation_id":"`+uuid.NewString()+`","content":"oi"}`)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleSend_AgentIDForwarded(t *testing.T) {
	comps := setupSendHandlerTest(t)
	agentID := uuid.New()

	comps.mockDispatcher.On("Send", mock.Anything, mock.MatchedBy(func(cmd app.SendCommand) bool {
		return cmd.AgentID.Valid && cmd.AgentID.UUID == agentID
	})).Return(&app.SendResult{Provider: core_domain.ProviderZAPI}, nil).Once()

	rr := postSend(comps.router,
		`{"conversation_id":"`+uuid.NewString()+`","content":"oi","agent_id":"`+agentID.String()+`"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	comps.mockDispatcher.AssertExpectations(t)
}
