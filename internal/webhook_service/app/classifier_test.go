package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	contactpg "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/provider"
	msgapp "github.com/atendezap/atendezap/internal/message_service/app"
	msgpostgres "github.com/atendezap/atendezap/internal/message_service/repository/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *core_domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByShortID(ctx context.Context, tenantID uuid.UUID, shortID string) (*core_domain.Message, error) {
	args := m.Called(ctx, tenantID, shortID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*core_domain.Message, error) {
	args := m.Called(ctx, tenantID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByExternalIDFragment(ctx context.Context, tenantID uuid.UUID, fragment string) (*core_domain.Message, error) {
	args := m.Called(ctx, tenantID, fragment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.MessageStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type MockLeadRepository struct {
	mock.Mock
}

func (m *MockLeadRepository) Create(ctx context.Context, lead *core_domain.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *MockLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Lead), args.Error(1)
}

func (m *MockLeadRepository) GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*core_domain.Lead, error) {
	args := m.Called(ctx, tenantID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Lead), args.Error(1)
}

func (m *MockLeadRepository) GetByMaskedID(ctx context.Context, tenantID uuid.UUID, maskedID string) (*core_domain.Lead, error) {
	args := m.Called(ctx, tenantID, maskedID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Lead), args.Error(1)
}

func (m *MockLeadRepository) Update(ctx context.Context, lead *core_domain.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conv *core_domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) GetActiveByLead(ctx context.Context, leadID uuid.UUID) (*core_domain.Conversation, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.ConversationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockConversationRepository) TouchInbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockConversationRepository) TouchOutbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockConversationRepository) Assign(ctx context.Context, id uuid.UUID, agentID uuid.UUID) error {
	args := m.Called(ctx, id, agentID)
	return args.Error(0)
}

type MockAvatarJobRepository struct {
	mock.Mock
}

func (m *MockAvatarJobRepository) Enqueue(ctx context.Context, job *core_domain.AvatarRetryJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockAvatarJobRepository) ClaimDue(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]*core_domain.AvatarRetryJob, error) {
	args := m.Called(ctx, now, backoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*core_domain.AvatarRetryJob), args.Error(1)
}

func (m *MockAvatarJobRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAvatarJobRepository) MarkExhausted(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAvatarJobRepository) HasPending(ctx context.Context, leadID uuid.UUID, kind core_domain.BackfillJobKind) (bool, error) {
	args := m.Called(ctx, leadID, kind)
	return args.Bool(0), args.Error(1)
}

type MockProviderAdapter struct {
	mock.Mock
	Name core_domain.Provider
}

func (m *MockProviderAdapter) GetName() core_domain.Provider { return m.Name }

func (m *MockProviderAdapter) Send(ctx context.Context, gw *core_domain.GatewayConfig, details provider.SendRequestDetails) (*provider.SendResponseDetails, error) {
	args := m.Called(ctx, gw, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SendResponseDetails), args.Error(1)
}

func (m *MockProviderAdapter) CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	args := m.Called(ctx, gw, phone)
	return args.String(0), args.Error(1)
}

func (m *MockProviderAdapter) ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	args := m.Called(ctx, gw, maskedID)
	return args.String(0), args.Error(1)
}

func (m *MockProviderAdapter) FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	args := m.Called(ctx, gw, phone)
	return args.String(0), args.Error(1)
}

// --- Test setup ---

type classifierTestComponents struct {
	classifier  *Classifier
	mockMsgRepo *MockMessageRepository
	mockLeads   *MockLeadRepository
	mockConvs   *MockConversationRepository
	mockJobs    *MockAvatarJobRepository
	mockAdapter *MockProviderAdapter
	gateway     *core_domain.GatewayConfig
	tenantID    uuid.UUID
}

func setupClassifierTest(t *testing.T) classifierTestComponents {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockMsgRepo := new(MockMessageRepository)
	mockLeads := new(MockLeadRepository)
	mockConvs := new(MockConversationRepository)
	mockJobs := new(MockAvatarJobRepository)
	mockAdapter := &MockProviderAdapter{Name: core_domain.ProviderZAPI}

	tenantID := uuid.New()
	gateway := &core_domain.GatewayConfig{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Provider:    core_domain.ProviderZAPI,
		PhoneNumber: "5545988880000",
		Active:      true,
	}

	providers := provider.Registry{core_domain.ProviderZAPI: mockAdapter}
	registry := contactapp.NewRegistry(mockLeads, mockConvs, mockJobs, providers, nil, logger, "55", 4)
	ledger := msgapp.NewLedger(mockMsgRepo, registry, nil, logger)
	reconciler := msgapp.NewReconciler(mockMsgRepo, registry, ledger, nil, logger)
	classifier := NewClassifier(ledger, reconciler, logger)

	return classifierTestComponents{
		classifier:  classifier,
		mockMsgRepo: mockMsgRepo,
		mockLeads:   mockLeads,
		mockConvs:   mockConvs,
		mockJobs:    mockJobs,
		mockAdapter: mockAdapter,
		gateway:     gateway,
		tenantID:    tenantID,
	}
}

// --- Tests ---

func TestClassify_GroupChatFiltered(t *testing.T) {
	comps := setupClassifierTest(t)

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:    comps.tenantID,
		Gateway:     comps.gateway,
		SenderPhone: "5545999990000",
		ChatID:      "120363041234567890@g.us",
		Content:     "bom dia grupo",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonGroupChat, result.Reason)
	comps.mockMsgRepo.AssertNotCalled(t, "Create")
	comps.mockLeads.AssertNotCalled(t, "GetByPhone")
}

func TestClassify_GroupFlagFiltered(t *testing.T) {
	comps := setupClassifierTest(t)

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID: comps.tenantID,
		Gateway:  comps.gateway,
		IsGroup:  true,
		Content:  "oi",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonGroupChat, result.Reason)
}

func TestClassify_StatusBroadcastFiltered(t *testing.T) {
	comps := setupClassifierTest(t)

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:    comps.tenantID,
		Gateway:     comps.gateway,
		SenderPhone: "status@broadcast",
		Content:     "story update",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonBroadcast, result.Reason)
}

func TestClassify_SelfEchoMessageFiltered(t *testing.T) {
	comps := setupClassifierTest(t)

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:    comps.tenantID,
		Gateway:     comps.gateway,
		SenderPhone: "5545999990000",
		FromMe:      true,
		Content:     "mensagem enviada pelo celular",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonSelfEcho, result.Reason)
	comps.mockMsgRepo.AssertNotCalled(t, "Create")
}

func TestClassify_OwnPairedNumberFiltered(t *testing.T) {
	comps := setupClassifierTest(t)

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:    comps.tenantID,
		Gateway:     comps.gateway,
		SenderPhone: "5545988880000",
		Content:     "nota para mim mesmo",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonSelfEcho, result.Reason)
}

// A self-originated ACK is not an echo; it must reach the reconciler so
// device-sent messages get synthesized or matched.
func TestClassify_SelfOriginatedAckReachesReconciler(t *testing.T) {
	comps := setupClassifierTest(t)
	msg := &core_domain.Message{
		ID:       uuid.New(),
		TenantID: comps.tenantID,
		Status:   core_domain.StatusSent,
	}

	comps.mockMsgRepo.On("GetByShortID", mock.Anything, comps.tenantID, "3EB0C8D7").
		Return(msg, nil).Once()
	comps.mockMsgRepo.On("UpdateStatus", mock.Anything, msg.ID, core_domain.StatusDelivered).
		Return(nil).Once()

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:  comps.tenantID,
		Gateway:   comps.gateway,
		FromMe:    true,
		MessageID: "3EB0C8D7",
		AckKind:   "delivered",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Ignored)
	assert.Equal(t, "ack", result.Event)
	assert.Equal(t, string(core_domain.StatusDelivered), result.Status)
	assert.Equal(t, msg.ID.String(), result.MessageID)
	comps.mockMsgRepo.AssertExpectations(t)
}

func TestClassify_UnmatchedAckIgnored(t *testing.T) {
	comps := setupClassifierTest(t)

	comps.mockMsgRepo.On("GetByShortID", mock.Anything, comps.tenantID, "NOPE").
		Return(nil, msgpostgres.ErrMessageNotFound).Once()
	comps.mockMsgRepo.On("GetByExternalID", mock.Anything, comps.tenantID, "NOPE").
		Return(nil, msgpostgres.ErrMessageNotFound).Once()
	comps.mockMsgRepo.On("FindByExternalIDFragment", mock.Anything, comps.tenantID, "NOPE").
		Return(nil, msgpostgres.ErrMessageNotFound).Once()

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:  comps.tenantID,
		Gateway:   comps.gateway,
		MessageID: "NOPE",
		AckKind:   "read",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, "no_matching_message", result.Reason)
}

func TestClassify_InboundMessageCreatesLedgerRow(t *testing.T) {
	comps := setupClassifierTest(t)
	lead := &core_domain.Lead{
		ID:          uuid.New(),
		TenantID:    comps.tenantID,
		Name:        "Maria",
		Phone:       "45999990000",
		CountryCode: "55",
	}
	conv := &core_domain.Conversation{
		ID:       uuid.New(),
		TenantID: comps.tenantID,
		LeadID:   lead.ID,
		Status:   core_domain.ConversationOpen,
	}

	comps.mockLeads.On("GetByPhone", mock.Anything, comps.tenantID, "45999990000").
		Return(lead, nil).Once()
	comps.mockLeads.On("Update", mock.Anything, lead).Return(nil).Once()
	comps.mockConvs.On("GetActiveByLead", mock.Anything, lead.ID).Return(conv, nil).Once()

	var created *core_domain.Message
	comps.mockMsgRepo.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Message")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*core_domain.Message) }).
		Return(nil).Once()
	comps.mockConvs.On("TouchInbound", mock.Anything, conv.ID, mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:    comps.tenantID,
		Gateway:     comps.gateway,
		SenderPhone: "5545999990000",
		SenderName:  "Maria",
		MessageID:   "true_5545999990000@c.us_3EB0C8D7",
		Content:     "Olá",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "message", result.Event)
	assert.Equal(t, string(core_domain.StatusDelivered), result.Status)
	require.NotNil(t, created)
	assert.Equal(t, created.ID.String(), result.MessageID)
	assert.Equal(t, "Olá", created.Content)
	assert.Equal(t, core_domain.TypeText, created.Type)
}

// An inbound message whose sender cannot be resolved to a phone is dropped
// with a successful response; the gateway must not redeliver it.
func TestClassify_UnresolvableSenderDropped(t *testing.T) {
	comps := setupClassifierTest(t)

	comps.mockLeads.On("GetByMaskedID", mock.Anything, comps.tenantID, "123456789012345").
		Return(nil, contactpg.ErrLeadNotFound).Once()
	comps.mockAdapter.On("ResolveContact", mock.Anything, comps.gateway, "123456789012345").
		Return("", provider.ErrContactNotResolved).Once()

	result, err := comps.classifier.Classify(context.Background(), Event{
		TenantID:     comps.tenantID,
		Gateway:      comps.gateway,
		SenderMasked: "123456789012345",
		Content:      "quem sou eu?",
	})

	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, ReasonDropped, result.Reason)
	comps.mockMsgRepo.AssertNotCalled(t, "Create")
	comps.mockLeads.AssertNotCalled(t, "Create")
}
