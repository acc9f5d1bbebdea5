package postgres

import (
	"context"
	"errors"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/dispatch_service/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrGatewayNotFound = errors.New("gateway config not found")

type pgGatewayRepository struct {
	db *pgxpool.Pool
}

// NewPgGatewayRepository creates a new instance for PostgreSQL.
func NewPgGatewayRepository(db *pgxpool.Pool) repository.GatewayRepository {
	return &pgGatewayRepository{db: db}
}

const gatewayColumns = `id, tenant_id, provider, base_url, api_key, instance_name, phone_number,
       webhook_secret, active`

func (r *pgGatewayRepository) scanGateway(row pgx.Row) (*core_domain.GatewayConfig, error) {
	gw := &core_domain.GatewayConfig{}
	err := row.Scan(
		&gw.ID, &gw.TenantID, &gw.Provider, &gw.BaseURL, &gw.APIKey, &gw.InstanceName,
		&gw.PhoneNumber, &gw.WebhookSecret, &gw.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGatewayNotFound
		}
		return nil, err
	}
	return gw, nil
}

func (r *pgGatewayRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.GatewayConfig, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateway_configs WHERE id = $1`
	return r.scanGateway(r.db.QueryRow(ctx, query, id))
}

func (r *pgGatewayRepository) GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*core_domain.GatewayConfig, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateway_configs WHERE tenant_id = $1 AND active LIMIT 1`
	return r.scanGateway(r.db.QueryRow(ctx, query, tenantID))
}
