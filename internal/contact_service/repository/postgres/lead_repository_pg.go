package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/atendezap/atendezap/internal/contact_service/repository"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLeadNotFound = errors.New("lead not found")

type pgLeadRepository struct {
	db *pgxpool.Pool
}

// NewPgLeadRepository creates a new instance for PostgreSQL.
func NewPgLeadRepository(db *pgxpool.Pool) repository.LeadRepository {
	return &pgLeadRepository{db: db}
}

const leadColumns = `id, tenant_id, name, gateway_name, phone, country_code, is_masked, masked_id,
       avatar_url, chat_id, assigned_agent_id, last_interaction_at, created_at, updated_at`

func (r *pgLeadRepository) Create(ctx context.Context, lead *core_domain.Lead) error {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.LastInteractionAt.IsZero() {
		lead.LastInteractionAt = now
	}

	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		lead.ID, lead.TenantID, lead.Name, lead.GatewayName, lead.Phone, lead.CountryCode,
		lead.IsMasked, lead.MaskedID, lead.AvatarURL, lead.ChatID, lead.AssignedAgentID,
		lead.LastInteractionAt, lead.CreatedAt, lead.UpdatedAt,
	)
	return err
}

func (r *pgLeadRepository) scanLead(row pgx.Row) (*core_domain.Lead, error) {
	lead := &core_domain.Lead{}
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.Name, &lead.GatewayName, &lead.Phone, &lead.CountryCode,
		&lead.IsMasked, &lead.MaskedID, &lead.AvatarURL, &lead.ChatID, &lead.AssignedAgentID,
		&lead.LastInteractionAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *pgLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.scanLead(r.db.QueryRow(ctx, query, id))
}

func (r *pgLeadRepository) GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*core_domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND phone = $2 AND phone <> ''`
	return r.scanLead(r.db.QueryRow(ctx, query, tenantID, phone))
}

func (r *pgLeadRepository) GetByMaskedID(ctx context.Context, tenantID uuid.UUID, maskedID string) (*core_domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND masked_id = $2 AND masked_id <> ''`
	return r.scanLead(r.db.QueryRow(ctx, query, tenantID, maskedID))
}

func (r *pgLeadRepository) Update(ctx context.Context, lead *core_domain.Lead) error {
	now := time.Now().UTC()
	lead.UpdatedAt = now
	query := `
		UPDATE leads
		SET name = $2, gateway_name = $3, phone = $4, country_code = $5, is_masked = $6,
		    masked_id = $7, avatar_url = $8, chat_id = $9, assigned_agent_id = $10,
		    last_interaction_at = $11, updated_at = $12
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		lead.ID, lead.Name, lead.GatewayName, lead.Phone, lead.CountryCode, lead.IsMasked,
		lead.MaskedID, lead.AvatarURL, lead.ChatID, lead.AssignedAgentID,
		lead.LastInteractionAt, lead.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}
