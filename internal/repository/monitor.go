package repository

import (
	"context"
	"time"

	"github.com/runlater/core/internal/domain"
)

// MonitorRepository persists dead man's switch monitors and their pings.
type MonitorRepository interface {
	Create(ctx context.Context, m *domain.Monitor) error
	GetByToken(ctx context.Context, token string) (*domain.Monitor, error)
	GetByID(ctx context.Context, orgID, id string) (*domain.Monitor, error)
	List(ctx context.Context, orgID string, cursor *Cursor, limit int) ([]*domain.Monitor, *Cursor, error)
	Update(ctx context.Context, m *domain.Monitor) error

	// RecordPing atomically stores the ping and bumps LastPingAt; it
	// flips Status to up if the monitor was down or new, and reports
	// whether that transition was a recovery (prior status was down) so
	// the caller can emit a monitor.recovered notification.
	RecordPing(ctx context.Context, token, sourceIP string, at time.Time) (m *domain.Monitor, recovered bool, err error)

	// ListOverdue finds monitors whose interval+grace has elapsed
	// without a ping, for the monitor checker sweep to flip down.
	ListOverdue(ctx context.Context, now time.Time) ([]*domain.Monitor, error)

	MarkDown(ctx context.Context, id string, at time.Time) error

	// PurgePingsBefore removes orgID's monitor pings recorded before
	// cutoff, used by the retention sweep.
	PurgePingsBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error)
}
