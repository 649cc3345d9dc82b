package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
)

type EmailLogRepository struct {
	pool *pgxpool.Pool
}

func NewEmailLogRepository(pool *pgxpool.Pool) *EmailLogRepository {
	return &EmailLogRepository{pool: pool}
}

func (r *EmailLogRepository) Record(ctx context.Context, l *domain.EmailLog) error {
	l.ID = uuid.Must(uuid.NewV7()).String()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_logs (id, organization_id, recipient, subject)
		VALUES ($1, $2, $3, $4)`,
		l.ID, l.OrganizationID, l.Recipient, l.Subject)
	if err != nil {
		return fmt.Errorf("record email log: %w", err)
	}
	return nil
}

func (r *EmailLogRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge email logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

func (r *AuditLogRepository) Record(ctx context.Context, l *domain.AuditLog) error {
	l.ID = uuid.Must(uuid.NewV7()).String()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, organization_id, method, path, status_code, source_ip)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.OrganizationID, l.Method, l.Path, l.StatusCode, l.SourceIP)
	if err != nil {
		return fmt.Errorf("record audit log: %w", err)
	}
	return nil
}

func (r *AuditLogRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
