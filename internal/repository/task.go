package repository

import (
	"context"
	"time"

	"github.com/runlater/core/internal/domain"
)

// TaskRepository persists task definitions and their schedule state.
type TaskRepository interface {
	Create(ctx context.Context, t *domain.Task) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Task, error)
	List(ctx context.Context, orgID string, cursor *Cursor, limit int) ([]*domain.Task, *Cursor, error)
	Update(ctx context.Context, t *domain.Task) error
	SoftDelete(ctx context.Context, orgID, id string, at time.Time) error

	// PurgeSoftDeletedBefore removes orgID's tasks soft-deleted before
	// cutoff, used by the retention sweep.
	PurgeSoftDeletedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error)

	// PurgeCompletedOnceBefore removes orgID's finished one-shot tasks
	// whose executions have themselves already been purged. Runs after
	// the execution purge in the same retention pass, so a task
	// disappears in the same pass as its last execution.
	PurgeCompletedOnceBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error)

	// UpdateLastExecutionAt writes the buffered last-run timestamp for
	// one task, called only by execcounter's flush loop.
	UpdateLastExecutionAt(ctx context.Context, taskID string, at time.Time) error
}

// Cursor is an opaque, base64-encoded pagination cursor.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
