package provider

import (
	"context"
	"errors"

	"github.com/atendezap/atendezap/internal/core_domain"
)

// SendRequestDetails holds the data needed to transmit one message.
// Content is already rendered; MediaURL is already a fetchable URL.
type SendRequestDetails struct {
	Phone     string // international digits, no "+"
	ChatID    string // cached channel chat identifier; empty on first contact
	Content   string
	Type      core_domain.MessageType
	MediaURL  string
	FileName  string
	ReplyToID string // canonical external id of the quoted message
}

// SendResponseDetails is the provider-agnostic outcome of a send attempt.
type SendResponseDetails struct {
	IsSuccess         bool
	ProviderMessageID string
	ChatID            string // resolved channel chat identifier, when reported
	ProviderStatus    string // raw provider status text/code
	ErrorMessage      string
}

// ErrAvatarUnavailable signals a transient avatar failure; the caller
// enqueues a bounded-attempt retry job instead of failing the request.
var ErrAvatarUnavailable = errors.New("avatar not available yet")

// ErrContactNotResolved signals the gateway could not map a masked
// identifier to a real phone.
var ErrContactNotResolved = errors.New("contact could not be resolved by gateway")

// MessageSenderProvider is the capability set one gateway vendor implements.
// Implementations are stateless; the GatewayConfig row carries credentials
// per call so one adapter serves every tenant on that vendor.
type MessageSenderProvider interface {
	GetName() core_domain.Provider

	// Send transmits text or media according to details.Type.
	Send(ctx context.Context, gw *core_domain.GatewayConfig, details SendRequestDetails) (*SendResponseDetails, error)

	// CheckContact verifies the recipient exists on the channel and returns
	// the channel chat identifier. Skipped when a cached chat id is known.
	CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error)

	// ResolveContact maps a privacy-masked identifier to a real phone.
	ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error)

	// FetchAvatar returns the contact's profile picture URL.
	FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error)
}

// Registry maps provider enums to adapters.
type Registry map[core_domain.Provider]MessageSenderProvider

// Get returns the adapter for p.
func (r Registry) Get(p core_domain.Provider) (MessageSenderProvider, bool) {
	adapter, ok := r[p]
	return adapter, ok
}
