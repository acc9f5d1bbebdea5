package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/atendezap/atendezap/internal/contact_service/repository"
	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAvatarJobNotFound = errors.New("avatar retry job not found")

type pgAvatarJobRepository struct {
	db *pgxpool.Pool
}

// NewPgAvatarJobRepository creates a new instance for PostgreSQL.
func NewPgAvatarJobRepository(db *pgxpool.Pool) repository.AvatarJobRepository {
	return &pgAvatarJobRepository{db: db}
}

func (r *pgAvatarJobRepository) Enqueue(ctx context.Context, job *core_domain.AvatarRetryJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = core_domain.JobPending
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}

	query := `
		INSERT INTO avatar_retry_jobs (
			id, tenant_id, lead_id, kind, attempts, max_attempts, status,
			next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, job.TenantID, job.LeadID, job.Kind, job.Attempts, job.MaxAttempts,
		job.Status, job.NextAttemptAt, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// ClaimDue selects due pending jobs FOR UPDATE SKIP LOCKED, bumps their
// attempt count and reschedules them in the same transaction. A worker that
// dies mid-attempt simply lets the job come due again.
func (r *pgAvatarJobRepository) ClaimDue(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]*core_domain.AvatarRetryJob, error) {
	query := `
		WITH due AS (
			SELECT id FROM avatar_retry_jobs
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE avatar_retry_jobs j
		SET attempts = j.attempts + 1, next_attempt_at = $3, updated_at = $1
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.tenant_id, j.lead_id, j.kind, j.attempts, j.max_attempts,
		          j.status, j.next_attempt_at, j.created_at, j.updated_at
	`
	rows, err := r.db.Query(ctx, query, now, limit, now.Add(backoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*core_domain.AvatarRetryJob
	for rows.Next() {
		job := &core_domain.AvatarRetryJob{}
		if err := rows.Scan(
			&job.ID, &job.TenantID, &job.LeadID, &job.Kind, &job.Attempts, &job.MaxAttempts,
			&job.Status, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *pgAvatarJobRepository) markStatus(ctx context.Context, id uuid.UUID, status core_domain.BackfillJobStatus) error {
	query := `UPDATE avatar_retry_jobs SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAvatarJobNotFound
	}
	return nil
}

func (r *pgAvatarJobRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.markStatus(ctx, id, core_domain.JobDone)
}

func (r *pgAvatarJobRepository) MarkExhausted(ctx context.Context, id uuid.UUID) error {
	return r.markStatus(ctx, id, core_domain.JobExhausted)
}

func (r *pgAvatarJobRepository) HasPending(ctx context.Context, leadID uuid.UUID, kind core_domain.BackfillJobKind) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM avatar_retry_jobs WHERE lead_id = $1 AND kind = $2 AND status = 'pending')`
	if err := r.db.QueryRow(ctx, query, leadID, kind).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
