package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/atendezap/atendezap/internal/message_service/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage is returned when a message with the same canonical
	// external id already exists for the tenant (gateway redelivery).
	ErrDuplicateMessage = errors.New("message with this external id already exists")
)

const uniqueViolationCode = "23505"

type pgMessageRepository struct {
	db *pgxpool.Pool
}

// NewPgMessageRepository creates a new instance for PostgreSQL.
func NewPgMessageRepository(db *pgxpool.Pool) repository.MessageRepository {
	return &pgMessageRepository{db: db}
}

const messageColumns = `id, tenant_id, conversation_id, lead_id, sender, direction, content,
       media_ref, media_url, type, status, external_id, short_id, origin, created_at`

func (r *pgMessageRepository) Create(ctx context.Context, msg *core_domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = core_domain.StatusSent
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.TenantID, msg.ConversationID, msg.LeadID, msg.Sender, msg.Direction,
		msg.Content, msg.MediaRef, msg.MediaURL, msg.Type, msg.Status, msg.ExternalID,
		msg.ShortID, msg.Origin, msg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

func (r *pgMessageRepository) scanMessage(row pgx.Row) (*core_domain.Message, error) {
	msg := &core_domain.Message{}
	err := row.Scan(
		&msg.ID, &msg.TenantID, &msg.ConversationID, &msg.LeadID, &msg.Sender, &msg.Direction,
		&msg.Content, &msg.MediaRef, &msg.MediaURL, &msg.Type, &msg.Status, &msg.ExternalID,
		&msg.ShortID, &msg.Origin, &msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*core_domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return r.scanMessage(r.db.QueryRow(ctx, query, id))
}

func (r *pgMessageRepository) GetByShortID(ctx context.Context, tenantID uuid.UUID, shortID string) (*core_domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND short_id = $2 AND short_id <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanMessage(r.db.QueryRow(ctx, query, tenantID, shortID))
}

func (r *pgMessageRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*core_domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND external_id = $2 AND external_id <> ''
		LIMIT 1
	`
	return r.scanMessage(r.db.QueryRow(ctx, query, tenantID, externalID))
}

func (r *pgMessageRepository) FindByExternalIDFragment(ctx context.Context, tenantID uuid.UUID, fragment string) (*core_domain.Message, error) {
	// An empty fragment is a substring of every id; refuse it here too.
	if fragment == "" {
		return nil, ErrMessageNotFound
	}
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND external_id <> '' AND position($2 in external_id) > 0
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanMessage(r.db.QueryRow(ctx, query, tenantID, fragment))
}

func (r *pgMessageRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status core_domain.MessageStatus) error {
	query := `UPDATE messages SET status = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}
