package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, organization_id, name, method, url, headers, body,
	       timeout_seconds, retry_attempts, schedule_type, cron_expr,
	       interval_minutes, scheduled_at, next_run_at, enabled,
	       queue_name, callback_url, deleted_at, endpoint_id,
	       last_execution_at, created_at, updated_at`

func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) error {
	query := `
		INSERT INTO tasks (
			id, organization_id, name, method, url, headers, body,
			timeout_seconds, retry_attempts, schedule_type, cron_expr,
			interval_minutes, scheduled_at, next_run_at, enabled,
			queue_name, callback_url, endpoint_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, query,
		t.ID, t.OrganizationID, t.Name, t.Method, t.URL, t.Headers, t.Body,
		t.TimeoutSeconds, t.RetryAttempts, t.ScheduleType, t.CronExpr,
		t.IntervalMinutes, t.ScheduledAt, t.NextRunAt, t.Enabled,
		t.QueueName, t.CallbackURL, t.EndpointID,
	)

	created, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrTaskNotFound
		}
		return err
	}
	*t = *created
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND organization_id = $2`
	row := r.pool.QueryRow(ctx, query, id, orgID)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context, orgID string, cursor *repository.Cursor, limit int) ([]*domain.Task, *repository.Cursor, error) {
	args := []any{orgID}
	where := []string{"organization_id = $1", "deleted_at IS NULL"}

	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, taskColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, t)
	}

	var next *repository.Cursor
	if len(tasks) == limit {
		last := tasks[len(tasks)-1]
		next = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return tasks, next, nil
}

func (r *TaskRepository) Update(ctx context.Context, t *domain.Task) error {
	query := `
		UPDATE tasks SET
			name = $3, method = $4, url = $5, headers = $6, body = $7,
			timeout_seconds = $8, retry_attempts = $9, schedule_type = $10,
			cron_expr = $11, interval_minutes = $12, scheduled_at = $13,
			next_run_at = $14, enabled = $15, queue_name = $16,
			callback_url = $17, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`

	tag, err := r.pool.Exec(ctx, query,
		t.ID, t.OrganizationID, t.Name, t.Method, t.URL, t.Headers, t.Body,
		t.TimeoutSeconds, t.RetryAttempts, t.ScheduleType, t.CronExpr,
		t.IntervalMinutes, t.ScheduledAt, t.NextRunAt, t.Enabled,
		t.QueueName, t.CallbackURL,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// UpdateLastExecutionAt writes the execcounter-buffered last-run
// timestamp for one task. Called only from the flush loop, never per
// execution — see internal/execcounter.
func (r *TaskRepository) UpdateLastExecutionAt(ctx context.Context, taskID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tasks SET last_execution_at = $2, updated_at = NOW() WHERE id = $1`,
		taskID, at)
	if err != nil {
		return fmt.Errorf("update task last_execution_at: %w", err)
	}
	return nil
}

func (r *TaskRepository) SoftDelete(ctx context.Context, orgID, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tasks SET deleted_at = $3, enabled = false, updated_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id, orgID, at)
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// PurgeCompletedOnceBefore deletes one-shot tasks that finished long
// enough ago that the retention sweep has already removed every one of
// their executions. The NOT EXISTS guard keeps a task alive as long as
// any execution row — including a pending retry — still references it,
// which also protects inbound-event replay until the fan-out tasks
// genuinely age out.
func (r *TaskRepository) PurgeCompletedOnceBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE organization_id = $1
		  AND schedule_type = 'once'
		  AND next_run_at IS NULL
		  AND deleted_at IS NULL
		  AND updated_at < $2
		  AND NOT EXISTS (SELECT 1 FROM executions WHERE executions.task_id = tasks.id)`,
		orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge completed one-shot tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TaskRepository) PurgeSoftDeletedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM tasks WHERE organization_id = $1 AND deleted_at IS NOT NULL AND deleted_at < $2`,
		orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.Name, &t.Method, &t.URL, &t.Headers, &t.Body,
		&t.TimeoutSeconds, &t.RetryAttempts, &t.ScheduleType, &t.CronExpr,
		&t.IntervalMinutes, &t.ScheduledAt, &t.NextRunAt, &t.Enabled,
		&t.QueueName, &t.CallbackURL, &t.DeletedAt, &t.EndpointID,
		&t.LastExecutionAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

// EncodeCursor / DecodeCursor are the base64(json) pagination cursor
// helpers shared by every list endpoint.
func EncodeCursor(c *repository.Cursor) string {
	if c == nil {
		return ""
	}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (*repository.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c repository.Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c, nil
}
