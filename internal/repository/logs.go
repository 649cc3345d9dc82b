package repository

import (
	"context"
	"time"

	"github.com/runlater/core/internal/domain"
)

// EmailLogRepository records every notification email sent, for the
// global retention sweep to age out.
type EmailLogRepository interface {
	Record(ctx context.Context, l *domain.EmailLog) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLogRepository records mutating API calls, for the global
// retention sweep to age out.
type AuditLogRepository interface {
	Record(ctx context.Context, l *domain.AuditLog) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
