package core_domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external WhatsApp gateway vendor.
type Provider string

const (
	ProviderZAPI      Provider = "zapi"
	ProviderEvolution Provider = "evolution"
	ProviderCloudAPI  Provider = "cloudapi"
)

// ConversationStatus defines the lifecycle of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
)

// MessageStatus defines delivery progression of a message. Only status
// mutates after creation, driven exclusively by gateway ACK events.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so that ACKs never downgrade a message.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// MessageType defines the payload kind of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
)

// Direction of a message relative to the helpdesk.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderLead  SenderType = "lead"
	SenderAgent SenderType = "agent"
)

// MessageOrigin records which path created the row.
type MessageOrigin string

const (
	// OriginSystem: created by this core (webhook ingestion or send API ledger write).
	OriginSystem MessageOrigin = "system"
	// OriginDevice: synthesized from a self-originated receipt, i.e. the
	// message was sent from a paired device bypassing this system.
	OriginDevice MessageOrigin = "device"
	// OriginAPI: created through the agent-facing send API.
	OriginAPI MessageOrigin = "api"
)

// Lead is the canonical identity of a WhatsApp contact within a tenant.
// Exactly one canonical record per contact: phone (or masked identifier)
// is unique per tenant.
type Lead struct {
	ID                uuid.UUID     `json:"id"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	Name              string        `json:"name"`
	GatewayName       string        `json:"gateway_name,omitempty"` // name observed from the gateway payload
	Phone             string        `json:"phone,omitempty"`        // normalized local digits
	CountryCode       string        `json:"country_code,omitempty"`
	IsMasked          bool          `json:"is_masked"`
	MaskedID          string        `json:"masked_id,omitempty"`
	AvatarURL         string        `json:"avatar_url,omitempty"`
	ChatID            string        `json:"chat_id,omitempty"` // cached channel-specific chat identifier
	AssignedAgentID   uuid.NullUUID `json:"assigned_agent_id,omitempty"`
	LastInteractionAt time.Time     `json:"last_interaction_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// FullPhone returns the international form (country code + local digits),
// or empty when the lead is still masked.
func (l *Lead) FullPhone() string {
	if l.Phone == "" {
		return ""
	}
	return l.CountryCode + l.Phone
}

// Conversation groups messages exchanged with one lead. At most one
// conversation with status open or pending exists per lead.
type Conversation struct {
	ID              uuid.UUID          `json:"id"`
	TenantID        uuid.UUID          `json:"tenant_id"`
	LeadID          uuid.UUID          `json:"lead_id"`
	Status          ConversationStatus `json:"status"`
	AssignedAgentID uuid.NullUUID      `json:"assigned_agent_id,omitempty"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	UnreadCount     int                `json:"unread_count"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Message is a ledger row. Content is rendered (never a raw template) and
// immutable once created.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       uuid.UUID     `json:"tenant_id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	LeadID         uuid.UUID     `json:"lead_id"`
	Sender         SenderType    `json:"sender"`
	Direction      Direction     `json:"direction"`
	Content        string        `json:"content"`
	MediaRef       string        `json:"media_ref,omitempty"` // internal storage reference
	MediaURL       string        `json:"media_url,omitempty"` // resolved fetchable URL, informational
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	ExternalID     string        `json:"external_id,omitempty"` // canonical gateway message id
	ShortID        string        `json:"short_id,omitempty"`    // trailing segment of a composite id
	Origin         MessageOrigin `json:"origin"`
	CreatedAt      time.Time     `json:"created_at"`
}

// GatewayConfig is a per-tenant external gateway connection.
type GatewayConfig struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	Provider      Provider  `json:"provider"`
	BaseURL       string    `json:"base_url"`
	APIKey        string    `json:"api_key"`
	InstanceName  string    `json:"instance_name"`
	PhoneNumber   string    `json:"phone_number"` // the gateway's own paired number
	WebhookSecret string    `json:"webhook_secret"`
	Active        bool      `json:"active"`
}

// BackfillJobKind distinguishes what a retry job resolves.
type BackfillJobKind string

const (
	JobKindAvatar         BackfillJobKind = "avatar"
	JobKindMaskedIdentity BackfillJobKind = "masked_identity"
)

// BackfillJobStatus is the lifecycle of a retry job.
type BackfillJobStatus string

const (
	JobPending   BackfillJobStatus = "pending"
	JobDone      BackfillJobStatus = "done"
	JobExhausted BackfillJobStatus = "exhausted"
)

// AvatarRetryJob is a durable, bounded-attempt backfill task consumed by a
// decoupled worker so webhook requests stay fast.
type AvatarRetryJob struct {
	ID            uuid.UUID         `json:"id"`
	TenantID      uuid.UUID         `json:"tenant_id"`
	LeadID        uuid.UUID         `json:"lead_id"`
	Kind          BackfillJobKind   `json:"kind"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	Status        BackfillJobStatus `json:"status"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
