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

var ErrConversationNotFound = errors.New("conversation not found")

type pgConversationRepository struct {
	db *pgxpool.Pool
}

// NewPgConversationRepository creates a new instance for PostgreSQL.
func NewPgConversationRepository(db *pgxpool.Pool) repository.ConversationRepository {
	return &pgConversationRepository{db: db}
}

const conversationColumns = `id, tenant_id, lead_id, status, assigned_agent_id, last_message_at,
       unread_count, created_at, updated_at`

func (r *pgConversationRepository) Create(ctx context.Context, conv *core_domain.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Status == "" {
		conv.Status = core_domain.ConversationOpen
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = now
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		conv.ID, conv.TenantID, conv.LeadID, conv.Status, conv.AssignedAgentID,
		conv.LastMessageAt, conv.UnreadCount, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (r *pgConversationRepository) scanConversation(row pgx.Row) (*core_domain.Conversation, error) {
	conv := &core_domain.Conversation{}
	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.LeadID, &conv.Status, &conv.AssignedAgentID,
		&conv.LastMessageAt, &conv.UnreadCount, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (r *pgConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return r.scanConversation(r.db.QueryRow(ctx, query, id))
}

func (r *pgConversationRepository) GetActiveByLead(ctx context.Context, leadID uuid.UUID) (*core_domain.Conversation, error) {
	// Racing inbound events can create benign duplicates; the oldest wins.
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE lead_id = $1 AND status IN ('open', 'pending')
		ORDER BY created_at ASC
		LIMIT 1
	`
	return r.scanConversation(r.db.QueryRow(ctx, query, leadID))
}

func (r *pgConversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.ConversationStatus) error {
	query := `UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *pgConversationRepository) TouchInbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE conversations
		SET unread_count = unread_count + 1, last_message_at = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, at, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *pgConversationRepository) TouchOutbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, at, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *pgConversationRepository) Assign(ctx context.Context, id uuid.UUID, agentID uuid.UUID) error {
	// First-responder-wins: only an unassigned conversation takes the agent.
	query := `
		UPDATE conversations
		SET assigned_agent_id = $2, updated_at = $3
		WHERE id = $1 AND assigned_agent_id IS NULL
	`
	_, err := r.db.Exec(ctx, query, id, agentID, time.Now().UTC())
	return err
}
