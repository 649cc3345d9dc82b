package repository

import (
	"context"
	"time"

	"github.com/runlater/core/internal/domain"
)

// ExecutionRepository persists execution attempts and drives the claim
// workflow the worker pool depends on.
type ExecutionRepository interface {
	// Claim atomically marks up to limit pending, due executions as
	// running and returns them, skipping rows locked by other workers.
	Claim(ctx context.Context, limit int) ([]*ClaimedExecution, error)

	Complete(ctx context.Context, id string, statusCode int, body string, finishedAt time.Time) error
	Fail(ctx context.Context, id string, errMsg string, finishedAt time.Time) error
	Timeout(ctx context.Context, id string, finishedAt time.Time) error

	// MarkMissed transitions a pending execution straight to missed,
	// bypassing running, when its grace window has elapsed unclaimed.
	MarkMissed(ctx context.Context, id string, at time.Time) error

	// CreateRetry inserts a new pending execution for the same task at
	// the given time, used both for classic retry-on-failure and for
	// the single host-block recovery retry.
	CreateRetry(ctx context.Context, taskID string, attempt int, scheduledFor time.Time) (*domain.Execution, error)

	// LastTerminalStatus reports the task's most recent finished
	// outcome other than excludeID, or "" when there is none — used to
	// notify only on a success-to-failure transition rather than on
	// every failed attempt.
	LastTerminalStatus(ctx context.Context, taskID, excludeID string) (domain.Status, error)

	ListByTask(ctx context.Context, orgID, taskID string, cursor *Cursor, limit int) ([]*domain.Execution, *Cursor, error)
	GetByID(ctx context.Context, orgID, id string) (*domain.Execution, error)

	// ListStaleRunning finds executions stuck in running past cutoff,
	// for the cleanup sweep to recover.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Execution, error)

	// PurgeFinishedBefore removes terminal executions belonging to orgID
	// that finished before cutoff. Scoped per-tenant because the cutoff
	// is derived from that tenant's tier retention window.
	PurgeFinishedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error)

	// CountPending reports the number of executions currently due and
	// waiting to be claimed, used by the worker pool to size itself.
	CountPending(ctx context.Context, asOf time.Time) (int, error)
}

// ClaimedExecution bundles an execution with the task fields the worker
// needs to actually perform the HTTP call, avoiding a second query per
// claimed row.
type ClaimedExecution struct {
	Execution domain.Execution
	Task      domain.Task
}
