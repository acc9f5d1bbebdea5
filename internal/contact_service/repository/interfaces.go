package repository

import (
	"context"
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
)

// LeadRepository persists canonical contact identities.
type LeadRepository interface {
	Create(ctx context.Context, lead *core_domain.Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Lead, error)
	GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*core_domain.Lead, error)
	GetByMaskedID(ctx context.Context, tenantID uuid.UUID, maskedID string) (*core_domain.Lead, error)
	// Update persists the mutable identity fields (name, phone, masked flag,
	// avatar, cached chat id, assignee, last interaction).
	Update(ctx context.Context, lead *core_domain.Lead) error
}

// ConversationRepository persists conversations and their bookkeeping.
type ConversationRepository interface {
	Create(ctx context.Context, conv *core_domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Conversation, error)
	// GetActiveByLead returns the oldest conversation with status open or
	// pending for the lead, or ErrConversationNotFound.
	GetActiveByLead(ctx context.Context, leadID uuid.UUID) (*core_domain.Conversation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.ConversationStatus) error
	// TouchInbound increments unread_count and bumps last_message_at.
	TouchInbound(ctx context.Context, id uuid.UUID, at time.Time) error
	// TouchOutbound bumps last_message_at only.
	TouchOutbound(ctx context.Context, id uuid.UUID, at time.Time) error
	Assign(ctx context.Context, id uuid.UUID, agentID uuid.UUID) error
}

// AvatarJobRepository is the durable bounded-attempt retry queue.
type AvatarJobRepository interface {
	Enqueue(ctx context.Context, job *core_domain.AvatarRetryJob) error
	// ClaimDue atomically claims up to limit due pending jobs, bumping their
	// attempt count and pushing next_attempt_at forward by backoff so a
	// crashed worker releases them naturally.
	ClaimDue(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]*core_domain.AvatarRetryJob, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkExhausted(ctx context.Context, id uuid.UUID) error
	// HasPending reports whether the lead already has a pending job of kind.
	HasPending(ctx context.Context, leadID uuid.UUID, kind core_domain.BackfillJobKind) (bool, error)
}
