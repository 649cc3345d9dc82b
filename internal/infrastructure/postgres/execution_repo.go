package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

type ExecutionRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

const executionColumns = `id, task_id, attempt, scheduled_for, status,
	       started_at, finished_at, duration_ms, response_status_code,
	       response_body, error_message, created_at, updated_at`

// Claim marks up to limit pending, due executions running and returns
// each alongside the task it belongs to, so the worker never issues a
// second round trip just to learn what to call.
func (r *ExecutionRepository) Claim(ctx context.Context, limit int) ([]*repository.ClaimedExecution, error) {
	// Selection order matches spec.md §4.1: Pro tenants preempt Free,
	// minute-granularity crons preempt lower frequencies (interval_minutes
	// ascending, NULLs — one-shots — sorting last), and within a bucket
	// the oldest scheduled_for goes first.
	query := `
		UPDATE executions
		SET    status     = 'running',
		       started_at = NOW(),
		       updated_at = NOW()
		WHERE id IN (
			SELECT e.id FROM executions e
			JOIN tasks t ON t.id = e.task_id
			JOIN organizations o ON o.id = t.organization_id
			WHERE  e.status       = 'pending'
			  AND  e.scheduled_for <= NOW()
			  AND  t.enabled
			  AND  t.deleted_at IS NULL
			ORDER BY (o.tier = 'pro') DESC, t.interval_minutes ASC NULLS LAST, e.scheduled_for ASC
			LIMIT $1
			FOR UPDATE OF e SKIP LOCKED
		)
		RETURNING ` + executionColumns

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim executions: %w", err)
	}

	var claimed []*repository.ClaimedExecution
	var taskIDs []string
	var execs []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		execs = append(execs, e)
		taskIDs = append(taskIDs, e.TaskID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed executions: %w", err)
	}
	if len(execs) == 0 {
		return nil, nil
	}

	taskRows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("load claimed tasks: %w", err)
	}
	defer taskRows.Close()

	tasksByID := make(map[string]*domain.Task, len(taskIDs))
	for taskRows.Next() {
		t, err := scanTask(taskRows)
		if err != nil {
			return nil, err
		}
		tasksByID[t.ID] = t
	}

	for _, e := range execs {
		t, ok := tasksByID[e.TaskID]
		if !ok {
			continue // task was deleted between claim and load; skip, the cleanup stale sweep will fail it
		}
		claimed = append(claimed, &repository.ClaimedExecution{Execution: *e, Task: *t})
	}
	return claimed, nil
}

// Complete records the delivery's HTTP outcome. A non-2xx status code
// lands as failed — 2xx is the only success per the classification
// matrix. The status guard rejects a row some other path already moved
// out of running, so a late double-report can never overwrite a
// terminal outcome.
func (r *ExecutionRepository) Complete(ctx context.Context, id string, statusCode int, body string, finishedAt time.Time) error {
	truncated := domain.TruncateResponseBody(body)
	status := domain.StatusSuccess
	if statusCode < 200 || statusCode >= 300 {
		status = domain.StatusFailed
	}
	durationExpr := `EXTRACT(EPOCH FROM ($4 - started_at)) * 1000`
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET    status               = $2,
		       response_status_code = $3,
		       response_body        = $5,
		       finished_at          = $4,
		       duration_ms          = `+durationExpr+`,
		       updated_at           = NOW()
		WHERE id = $1 AND status = 'running'`, id, status, statusCode, finishedAt, truncated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotRunning
	}
	return nil
}

func (r *ExecutionRepository) Fail(ctx context.Context, id string, errMsg string, finishedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET    status        = 'failed',
		       error_message = $2,
		       finished_at   = $3,
		       duration_ms   = EXTRACT(EPOCH FROM ($3 - started_at)) * 1000,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'running'`, id, errMsg, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotRunning
	}
	return nil
}

func (r *ExecutionRepository) Timeout(ctx context.Context, id string, finishedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET    status        = 'timeout',
		       error_message = 'execution exceeded its timeout',
		       finished_at   = $2,
		       duration_ms   = EXTRACT(EPOCH FROM ($2 - started_at)) * 1000,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'running'`, id, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotRunning
	}
	return nil
}

// LastTerminalStatus returns the status of the task's most recently
// finished execution, excluding the one identified by excludeID.
// Returns "" when the task has no other terminal execution yet.
func (r *ExecutionRepository) LastTerminalStatus(ctx context.Context, taskID, excludeID string) (domain.Status, error) {
	var status domain.Status
	err := r.pool.QueryRow(ctx, `
		SELECT status FROM executions
		WHERE task_id = $1 AND id <> $2
		  AND status IN ('success', 'failed', 'timeout')
		ORDER BY finished_at DESC
		LIMIT 1`, taskID, excludeID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("last terminal status: %w", err)
	}
	return status, nil
}

func (r *ExecutionRepository) MarkMissed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET    status      = 'missed',
		       finished_at = $2,
		       updated_at  = NOW()
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return fmt.Errorf("mark missed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotClaimable
	}
	return nil
}

func (r *ExecutionRepository) CreateRetry(ctx context.Context, taskID string, attempt int, scheduledFor time.Time) (*domain.Execution, error) {
	id := uuid.Must(uuid.NewV7()).String()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO executions (id, task_id, attempt, scheduled_for, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING `+executionColumns, id, taskID, attempt, scheduledFor)
	return scanExecution(row)
}

func (r *ExecutionRepository) ListByTask(ctx context.Context, orgID, taskID string, cursor *repository.Cursor, limit int) ([]*domain.Execution, *repository.Cursor, error) {
	args := []any{orgID, taskID}
	where := []string{"t.organization_id = $1", "e.task_id = $2"}

	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(e.created_at, e.id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT e.id, e.task_id, e.attempt, e.scheduled_for, e.status,
		       e.started_at, e.finished_at, e.duration_ms, e.response_status_code,
		       e.response_body, e.error_message, e.created_at, e.updated_at
		FROM executions e
		JOIN tasks t ON t.id = e.task_id
		WHERE %s
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, nil, err
		}
		execs = append(execs, e)
	}

	var next *repository.Cursor
	if len(execs) == limit {
		last := execs[len(execs)-1]
		next = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return execs, next, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Execution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT e.id, e.task_id, e.attempt, e.scheduled_for, e.status,
		       e.started_at, e.finished_at, e.duration_ms, e.response_status_code,
		       e.response_body, e.error_message, e.created_at, e.updated_at
		FROM executions e
		JOIN tasks t ON t.id = e.task_id
		WHERE e.id = $1 AND t.organization_id = $2`, id, orgID)
	return scanExecution(row)
}

func (r *ExecutionRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Execution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale executions: %w", err)
	}
	defer rows.Close()

	var execs []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// PurgeFinishedBefore deletes orgID's terminal executions older than
// cutoff. executions has no organization_id column of its own, so the
// scope is applied via a join through tasks.
func (r *ExecutionRepository) PurgeFinishedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM executions
		USING tasks
		WHERE executions.task_id = tasks.id
		  AND tasks.organization_id = $1
		  AND executions.status IN ('success', 'failed', 'timeout', 'missed')
		  AND executions.finished_at < $2`, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountPending reports how many executions are due and waiting to be
// claimed as of asOf, used by the worker pool to size itself.
func (r *ExecutionRepository) CountPending(ctx context.Context, asOf time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM executions e
		JOIN tasks t ON t.id = e.task_id
		WHERE e.status = 'pending' AND e.scheduled_for <= $1
		  AND t.enabled AND t.deleted_at IS NULL`, asOf).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending executions: %w", err)
	}
	return count, nil
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	err := row.Scan(
		&e.ID, &e.TaskID, &e.Attempt, &e.ScheduledFor, &e.Status,
		&e.StartedAt, &e.FinishedAt, &e.DurationMS, &e.ResponseStatusCode,
		&e.ResponseBody, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	return &e, nil
}
