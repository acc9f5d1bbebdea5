package repository

import (
	"context"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
)

// GatewayRepository reads per-tenant gateway connections.
type GatewayRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*core_domain.GatewayConfig, error)
	GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*core_domain.GatewayConfig, error)
}
