package app

import (
	"context"
	"testing"

	contactapp "github.com/atendezap/atendezap/internal/contact_service/app"
	contactpg "github.com/atendezap/atendezap/internal/contact_service/repository/postgres"
	"github.com/atendezap/atendezap/internal/core_domain"
	msgpostgres "github.com/atendezap/atendezap/internal/message_service/repository/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// First contact end to end: inbound "Olá" from an unknown phone creates the
// lead, an open conversation with one unread message, and the ledger row.
func TestCreateInbound_FirstContact(t *testing.T) {
	comps := setupReconcilerTest(t)

	comps.mockLeads.On("GetByPhone", mock.Anything, comps.tenantID, "45999990000").
		Return(nil, contactpg.ErrLeadNotFound).Once()
	comps.mockLeads.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Lead")).
		Return(nil).Once()
	comps.mockAdapter.On("FetchAvatar", mock.Anything, comps.gateway, "5545999990000").
		Return("", nil).Once()
	comps.mockConvs.On("GetActiveByLead", mock.Anything, mock.AnythingOfType("uuid.UUID")).
		Return(nil, contactpg.ErrConversationNotFound).Once()

	var conv *core_domain.Conversation
	comps.mockConvs.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Conversation")).
		Run(func(args mock.Arguments) { conv = args.Get(1).(*core_domain.Conversation) }).
		Return(nil).Once()

	var created *core_domain.Message
	comps.mockMsgRepo.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Message")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*core_domain.Message) }).
		Return(nil).Once()
	comps.mockConvs.On("TouchInbound", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	msg, err := comps.ledger.CreateInbound(context.Background(), InboundMessage{
		Contact: contactapp.InboundContact{
			TenantID: comps.tenantID,
			Gateway:  comps.gateway,
			Phone:    "5545999990000",
		},
		Content:    "Olá",
		Type:       core_domain.TypeText,
		ExternalID: "true_5545999990000@c.us_3EB0C8D7",
	})

	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, core_domain.ConversationOpen, conv.Status)
	assert.Equal(t, 1, conv.UnreadCount)

	require.NotNil(t, created)
	assert.Equal(t, "Olá", created.Content)
	assert.Equal(t, core_domain.DirectionInbound, created.Direction)
	assert.Equal(t, core_domain.SenderLead, created.Sender)
	assert.Equal(t, core_domain.TypeText, created.Type)
	assert.Equal(t, core_domain.StatusDelivered, created.Status)
	assert.Equal(t, "3EB0C8D7", created.ShortID)
	assert.Equal(t, msg.ID, created.ID)
}

// A second message on an already-open conversation reuses it.
func TestCreateInbound_ReusesOpenConversation(t *testing.T) {
	comps := setupReconcilerTest(t)
	lead := &core_domain.Lead{
		ID:          uuid.New(),
		TenantID:    comps.tenantID,
		Name:        "Maria",
		Phone:       "45999990000",
		CountryCode: "55",
	}
	conv := &core_domain.Conversation{
		ID:          uuid.New(),
		TenantID:    comps.tenantID,
		LeadID:      lead.ID,
		Status:      core_domain.ConversationOpen,
		UnreadCount: 1,
	}

	comps.mockLeads.On("GetByPhone", mock.Anything, comps.tenantID, "45999990000").
		Return(lead, nil).Once()
	comps.mockLeads.On("Update", mock.Anything, lead).Return(nil).Once()
	comps.mockConvs.On("GetActiveByLead", mock.Anything, lead.ID).Return(conv, nil).Once()
	comps.mockMsgRepo.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Message")).
		Return(nil).Once()
	comps.mockConvs.On("TouchInbound", mock.Anything, conv.ID, mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	_, err := comps.ledger.CreateInbound(context.Background(), InboundMessage{
		Contact: contactapp.InboundContact{
			TenantID: comps.tenantID,
			Gateway:  comps.gateway,
			Phone:    "5545999990000",
		},
		Content: "Tudo bem?",
		Type:    core_domain.TypeText,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadCount)
	comps.mockConvs.AssertNotCalled(t, "Create")
}

// Gateways redeliver webhooks; a second insert under the same canonical id
// must answer with the original row instead of erring into a retry loop.
func TestCreateInbound_RedeliveryAnswersWithExistingRow(t *testing.T) {
	comps := setupReconcilerTest(t)
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
	existing := &core_domain.Message{
		ID:         uuid.New(),
		TenantID:   comps.tenantID,
		Status:     core_domain.StatusDelivered,
		ExternalID: "true_5545999990000@c.us_3EB0C8D7",
	}

	comps.mockLeads.On("GetByPhone", mock.Anything, comps.tenantID, "45999990000").
		Return(lead, nil).Once()
	comps.mockLeads.On("Update", mock.Anything, lead).Return(nil).Once()
	comps.mockConvs.On("GetActiveByLead", mock.Anything, lead.ID).Return(conv, nil).Once()
	comps.mockMsgRepo.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Message")).
		Return(msgpostgres.ErrDuplicateMessage).Once()
	comps.mockMsgRepo.On("GetByExternalID", mock.Anything, comps.tenantID, existing.ExternalID).
		Return(existing, nil).Once()

	msg, err := comps.ledger.CreateInbound(context.Background(), InboundMessage{
		Contact: contactapp.InboundContact{
			TenantID: comps.tenantID,
			Gateway:  comps.gateway,
			Phone:    "5545999990000",
		},
		Content:    "Olá",
		Type:       core_domain.TypeText,
		ExternalID: existing.ExternalID,
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, msg.ID)
	comps.mockConvs.AssertNotCalled(t, "TouchInbound")
}

func TestRecordOutbound_Defaults(t *testing.T) {
	comps := setupReconcilerTest(t)
	lead := &core_domain.Lead{ID: uuid.New(), TenantID: comps.tenantID}
	conv := &core_domain.Conversation{ID: uuid.New(), TenantID: comps.tenantID, LeadID: lead.ID}

	var created *core_domain.Message
	comps.mockMsgRepo.On("Create", mock.Anything, mock.AnythingOfType("*core_domain.Message")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*core_domain.Message) }).
		Return(nil).Once()
	comps.mockConvs.On("TouchOutbound", mock.Anything, conv.ID, mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	_, err := comps.ledger.RecordOutbound(context.Background(), OutboundRecord{
		Conversation: conv,
		Lead:         lead,
		Content:      "Olá Maria",
		Type:         core_domain.TypeText,
		ExternalID:   "zapi_ABC123",
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, core_domain.StatusSent, created.Status)
	assert.Equal(t, core_domain.OriginAPI, created.Origin)
	assert.Equal(t, core_domain.SenderAgent, created.Sender)
	assert.Equal(t, "ABC123", created.ShortID)
}
