package repository

import (
	"context"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
)

// MessageRepository persists ledger rows. Content never changes after
// Create; only status is mutable.
type MessageRepository interface {
	Create(ctx context.Context, msg *core_domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Message, error)
	// GetByShortID matches the trailing segment of a composite external id.
	GetByShortID(ctx context.Context, tenantID uuid.UUID, shortID string) (*core_domain.Message, error)
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*core_domain.Message, error)
	// FindByExternalIDFragment is the legacy-format fallback: a substring
	// match against stored canonical ids. O(n) and acceptable at this volume.
	FindByExternalIDFragment(ctx context.Context, tenantID uuid.UUID, fragment string) (*core_domain.Message, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.MessageStatus) error
}
