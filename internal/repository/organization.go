package repository

import (
	"context"

	"github.com/runlater/core/internal/domain"
)

// OrganizationRepository persists tenants and their quota counters.
type OrganizationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Organization, error)

	// IncrementExecutionCount is the coalesced-flush write path: it adds
	// delta to the current month's counter, resetting it first if
	// forMonth differs from the stored QuotaMonth.
	IncrementExecutionCount(ctx context.Context, id string, forMonth string, delta int) (*domain.Organization, error)

	ListForQuotaRecalc(ctx context.Context) ([]*domain.Organization, error)
}
