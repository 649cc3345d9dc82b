package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
)

type OrganizationRepository struct {
	pool *pgxpool.Pool
}

func NewOrganizationRepository(pool *pgxpool.Pool) *OrganizationRepository {
	return &OrganizationRepository{pool: pool}
}

const organizationColumns = `id, name, tier, webhook_secret, notification_email,
	       notification_webhook_url, monthly_execution_count, quota_month,
	       created_at, updated_at`

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id)
	return scanOrganization(row)
}

// IncrementExecutionCount resets the counter to delta when forMonth
// doesn't match the stored quota_month, otherwise adds delta to it.
// Both branches happen in the same statement so concurrent flushers
// from other nodes never race a reset against an increment.
func (r *OrganizationRepository) IncrementExecutionCount(ctx context.Context, id string, forMonth string, delta int) (*domain.Organization, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE organizations
		SET monthly_execution_count = CASE
				WHEN quota_month = $2::date THEN monthly_execution_count + $3
				ELSE $3
			END,
		    quota_month = $2::date,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING `+organizationColumns, id, forMonth, delta)
	return scanOrganization(row)
}

func (r *OrganizationRepository) ListForQuotaRecalc(ctx context.Context) ([]*domain.Organization, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+organizationColumns+` FROM organizations`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, nil
}

func scanOrganization(row rowScanner) (*domain.Organization, error) {
	var o domain.Organization
	err := row.Scan(
		&o.ID, &o.Name, &o.Tier, &o.WebhookSecret, &o.NotificationEmail,
		&o.NotificationWebhookURL, &o.MonthlyExecutionCount, &o.QuotaMonth,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	return &o, nil
}
